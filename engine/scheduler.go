package engine

import (
	"fmt"
	"sort"

	"github.com/flowforge/workflow-engine/domain"
)

// graph is the validated, engine-native view of a workflow's DAG.
type graph struct {
	nodes    map[string]domain.WorkflowNode
	edges    []Edge
	outgoing map[string][]Edge
	incoming map[string][]Edge
	order    []string // stable iteration order, as declared in the workflow
}

// buildGraph validates a workflow's nodes/edges and, on success, returns
// the engine's internal graph plus the topological waves a Kahn-style
// layering produces. Validation covers: unique node ids, edge endpoints
// exist, registered node types, per-node config validity, and acyclicity.
func buildGraph(wf domain.Workflow, registry Registry) (*graph, [][]string, error) {
	g := &graph{
		nodes:    make(map[string]domain.WorkflowNode, len(wf.Nodes)),
		outgoing: make(map[string][]Edge),
		incoming: make(map[string][]Edge),
	}

	for _, n := range wf.Nodes {
		if _, dup := g.nodes[n.ID]; dup {
			return nil, nil, fmt.Errorf("engine: duplicate node id %q", n.ID)
		}
		def, ok := registry.Lookup(n.Type)
		if !ok {
			return nil, nil, fmt.Errorf("engine: unknown node type %q for node %q", n.Type, n.ID)
		}
		if res := def.Validate(n.Config); !res.Valid {
			return nil, nil, fmt.Errorf("engine: node %q failed config validation: %v", n.ID, res.Errors)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	for _, e := range wf.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, nil, fmt.Errorf("engine: edge %q references unknown source %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, nil, fmt.Errorf("engine: edge %q references unknown target %q", e.ID, e.Target)
		}
		edge := Edge{ID: e.ID, Source: e.Source, Target: e.Target, Condition: e.Condition}
		g.edges = append(g.edges, edge)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], edge)
		g.incoming[e.Target] = append(g.incoming[e.Target], edge)
	}

	waves, err := kahnWaves(g)
	if err != nil {
		return nil, nil, err
	}
	return g, waves, nil
}

// kahnWaves layers the graph into successive "waves" of nodes whose
// in-degree (within the remaining subgraph) has reached zero, i.e. all
// of whose parents have already been placed in an earlier wave. Nodes
// within a wave have no dependency on one another and may run
// concurrently. Returns an error if a cycle prevents full layering.
func kahnWaves(g *graph) ([][]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.incoming[id])
	}

	var waves [][]string
	remaining := len(g.nodes)
	for remaining > 0 {
		var wave []string
		for _, id := range g.order {
			if indegree[id] == 0 {
				wave = append(wave, id)
			}
		}
		// filter out ids already placed in a prior wave
		wave = filterUnplaced(wave, indegree)
		if len(wave) == 0 {
			return nil, fmt.Errorf("engine: %w", ErrCycleDetected)
		}
		sort.Strings(wave)
		waves = append(waves, wave)
		for _, id := range wave {
			indegree[id] = -1 // mark placed
			for _, e := range g.outgoing[id] {
				if indegree[e.Target] > 0 {
					indegree[e.Target]--
				}
			}
			remaining--
		}
	}
	return waves, nil
}

func filterUnplaced(wave []string, indegree map[string]int) []string {
	out := wave[:0:0]
	for _, id := range wave {
		if indegree[id] == 0 {
			out = append(out, id)
		}
	}
	return out
}

// roots returns the node ids with no incoming edges, the DAG's trigger
// entry points.
func (g *graph) roots() []string {
	var out []string
	for _, id := range g.order {
		if len(g.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}
