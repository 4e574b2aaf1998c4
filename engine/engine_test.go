package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/engine"
)

// fnNode is a minimal engine.NodeDefinition backed by a closure, used to
// drive the scheduler through scenarios without pulling in the full
// built-in node library.
type fnNode struct {
	typ     string
	execute func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error)
}

func (n *fnNode) Type() string { return n.typ }
func (n *fnNode) Validate(map[string]interface{}) engine.ValidationResult {
	return engine.ValidationResult{Valid: true}
}
func (n *fnNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	return n.execute(ctx, input, nctx)
}

type testRegistry map[string]engine.NodeDefinition

func (r testRegistry) Lookup(nodeType string) (engine.NodeDefinition, bool) {
	d, ok := r[nodeType]
	return d, ok
}

func passthrough(data map[string]interface{}) engine.NodeOutput {
	return engine.NodeOutput{Data: data}
}

func TestRunCompletesALinearWorkflow(t *testing.T) {
	registry := testRegistry{
		"root": &fnNode{typ: "root", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			return passthrough(input.Data), nil
		}},
		"output": &fnNode{typ: "output", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			return passthrough(input.Data), nil
		}},
	}
	eng, err := engine.New(engine.WithRegistry(registry))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	wf := domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.WorkflowNode{
			{ID: "t", Type: "root"},
			{ID: "o", Type: "output"},
		},
		Edges: []domain.WorkflowEdge{{ID: "e1", Source: "t", Target: "o"}},
	}

	result, err := eng.Run(context.Background(), "exec-1", wf, map[string]interface{}{"x": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Execution.Status != domain.ExecutionCompleted {
		t.Errorf("execution status = %q, want completed", result.Execution.Status)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(result.Steps))
	}
}

func TestRunSkipsDownstreamOfAnInactiveConditionalEdge(t *testing.T) {
	registry := testRegistry{
		"root": &fnNode{typ: "root", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			return engine.NodeOutput{Data: map[string]interface{}{"_route": "yes"}}, nil
		}},
		"output": &fnNode{typ: "output", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			return passthrough(input.Data), nil
		}},
	}
	eng, err := engine.New(engine.WithRegistry(registry))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	wf := domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.WorkflowNode{
			{ID: "t", Type: "root"},
			{ID: "o", Type: "output"},
		},
		Edges: []domain.WorkflowEdge{{ID: "e1", Source: "t", Target: "o", Condition: "no"}},
	}

	result, err := eng.Run(context.Background(), "exec-1", wf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var outStep *domain.ExecutionStep
	for i := range result.Steps {
		if result.Steps[i].NodeID == "o" {
			outStep = &result.Steps[i]
		}
	}
	if outStep == nil || outStep.Status != domain.StepSkipped {
		t.Fatalf("expected node o skipped, got %+v", outStep)
	}
}

func TestRunMarksExecutionFailedWhenAnOutputNodeFails(t *testing.T) {
	registry := testRegistry{
		"root": &fnNode{typ: "root", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			return passthrough(nil), nil
		}},
		"output": &fnNode{typ: "output", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			return engine.NodeOutput{}, fmt.Errorf("boom")
		}},
	}
	eng, err := engine.New(engine.WithRegistry(registry))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	wf := domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.WorkflowNode{
			{ID: "t", Type: "root"},
			{ID: "o", Type: "output"},
		},
		Edges: []domain.WorkflowEdge{{ID: "e1", Source: "t", Target: "o"}},
	}

	result, err := eng.Run(context.Background(), "exec-1", wf, nil)
	if err == nil {
		t.Fatal("expected Run to return an error for a failed output node")
	}
	if result.Execution.Status != domain.ExecutionFailed {
		t.Errorf("execution status = %q, want failed", result.Execution.Status)
	}
}

// TestRunRecordsSchedulerWavesInKnowledge proves the scheduler's own
// wave computation is visible to nodes/callers at
// context.knowledge["scheduler.waves"], one []string of node ids per
// wave, root node(s) in wave 0 and their two independent children
// sharing wave 1.
func TestRunRecordsSchedulerWavesInKnowledge(t *testing.T) {
	registry := testRegistry{
		"root":   &fnNode{typ: "root", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) { return passthrough(nil), nil }},
		"leaf":   &fnNode{typ: "leaf", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) { return passthrough(nil), nil }},
		"output": &fnNode{typ: "output", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) { return passthrough(input.Data), nil }},
	}
	eng, err := engine.New(engine.WithRegistry(registry))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	wf := domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.WorkflowNode{
			{ID: "t", Type: "root"},
			{ID: "a", Type: "leaf"},
			{ID: "b", Type: "leaf"},
			{ID: "o", Type: "output"},
		},
		Edges: []domain.WorkflowEdge{
			{ID: "e1", Source: "t", Target: "a"},
			{ID: "e2", Source: "t", Target: "b"},
			{ID: "e3", Source: "a", Target: "o"},
			{ID: "e4", Source: "b", Target: "o"},
		},
	}

	result, err := eng.Run(context.Background(), "exec-1", wf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waves, ok := result.FinalState.Knowledge["scheduler.waves"].([][]string)
	if !ok {
		t.Fatalf("expected context.knowledge[%q] to be [][]string, got %T", "scheduler.waves", result.FinalState.Knowledge["scheduler.waves"])
	}
	if len(waves) != 3 {
		t.Fatalf("expected 3 waves (root, {a,b}, output), got %+v", waves)
	}
	if len(waves[0]) != 1 || waves[0][0] != "t" {
		t.Errorf("wave 0 = %v, want [t]", waves[0])
	}
	if len(waves[1]) != 2 {
		t.Errorf("wave 1 = %v, want the 2 independent leaf nodes together", waves[1])
	}
	if len(waves[2]) != 1 || waves[2][0] != "o" {
		t.Errorf("wave 2 = %v, want [o]", waves[2])
	}
}

// TestRunAccumulatesRetrievalCountersAsDeltasNotDoublingTheBase proves
// two sequential retrieval-driving nodes (separate waves, so each gets
// a fresh state.Clone from the prior wave's merged canonical state)
// leave the execution's cumulative retrieval counters equal to the sum
// of each node's own contribution, not inflated by the base each clone
// started from.
func TestRunAccumulatesRetrievalCountersAsDeltasNotDoublingTheBase(t *testing.T) {
	retrieve := func(ctx context.Context, req engine.KnowledgeRetrieveRequest, emitEvent func(domain.ExecutionRetrievalEvent)) (engine.KnowledgeRetrieveResult, error) {
		if emitEvent != nil {
			emitEvent(domain.ExecutionRetrievalEvent{Status: domain.RetrievalSuccess, DurationMs: 10})
		}
		return engine.KnowledgeRetrieveResult{}, nil
	}

	retrieverNode := func(typ string) *fnNode {
		return &fnNode{typ: typ, execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			if _, err := nctx.RetrieveKnowledge(ctx, engine.KnowledgeRetrieveRequest{}, nil); err != nil {
				return engine.NodeOutput{}, err
			}
			return passthrough(input.Data), nil
		}}
	}

	registry := testRegistry{
		"root":      &fnNode{typ: "root", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) { return passthrough(nil), nil }},
		"retriever": retrieverNode("retriever"),
		"output":    &fnNode{typ: "output", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) { return passthrough(input.Data), nil }},
	}
	eng, err := engine.New(engine.WithRegistry(registry), engine.WithKnowledgeRetrieve(retrieve))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	// Two retriever nodes in sequence, each its own wave.
	wf := domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.WorkflowNode{
			{ID: "t", Type: "root"},
			{ID: "r1", Type: "retriever"},
			{ID: "r2", Type: "retriever"},
			{ID: "o", Type: "output"},
		},
		Edges: []domain.WorkflowEdge{
			{ID: "e1", Source: "t", Target: "r1"},
			{ID: "e2", Source: "r1", Target: "r2"},
			{ID: "e3", Source: "r2", Target: "o"},
		},
	}

	result, err := eng.Run(context.Background(), "exec-1", wf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	retrieval := result.FinalState.Retrieval
	if retrieval.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2 (one per retriever node)", retrieval.TotalRequests)
	}
	if retrieval.TotalSuccesses != 2 {
		t.Errorf("TotalSuccesses = %d, want 2", retrieval.TotalSuccesses)
	}
	if retrieval.TotalDurationMs != 20 {
		t.Errorf("TotalDurationMs = %d, want 20 (2 x 10ms, not doubled across waves)", retrieval.TotalDurationMs)
	}
}

// TestRunExecutesAWaveConcurrently proves two sibling nodes (no edge
// between them) are scheduled onto the same wave and actually run
// together rather than one-at-a-time: each blocks until it observes its
// sibling has also started, bounded by a short deadline so a regression
// back to sequential execution fails the test instead of hanging it.
func TestRunExecutesAWaveConcurrently(t *testing.T) {
	arrived := make(chan string, 2)
	barrier := func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
		arrived <- nctx.NodeID
		deadline := time.Now().Add(500 * time.Millisecond)
		for {
			if len(arrived) >= 2 {
				return passthrough(map[string]interface{}{nctx.NodeID: true}), nil
			}
			if time.Now().After(deadline) {
				return engine.NodeOutput{}, fmt.Errorf("node %s: sibling never arrived, wave did not run concurrently", nctx.NodeID)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	registry := testRegistry{
		"root": &fnNode{typ: "root", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			return passthrough(nil), nil
		}},
		"barrier": &fnNode{typ: "barrier", execute: barrier},
		"output": &fnNode{typ: "output", execute: func(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
			return passthrough(input.Data), nil
		}},
	}
	eng, err := engine.New(engine.WithRegistry(registry))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	wf := domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.WorkflowNode{
			{ID: "t", Type: "root"},
			{ID: "a", Type: "barrier"},
			{ID: "b", Type: "barrier"},
			{ID: "o", Type: "output"},
		},
		Edges: []domain.WorkflowEdge{
			{ID: "e1", Source: "t", Target: "a"},
			{ID: "e2", Source: "t", Target: "b"},
			{ID: "e3", Source: "a", Target: "o"},
			{ID: "e4", Source: "b", Target: "o"},
		},
	}

	result, err := eng.Run(context.Background(), "exec-1", wf, nil)
	if err != nil {
		t.Fatalf("unexpected error (likely the concurrency barrier timing out): %v", err)
	}
	if result.Execution.Status != domain.ExecutionCompleted {
		t.Errorf("execution status = %q, want completed", result.Execution.Status)
	}
}
