// Package engine implements the DAG scheduler and per-node runner: the
// core of one workflow execution, from trigger payload to terminal
// status. It owns no persistence or transport; callers (worker) hand it
// a validated domain.Workflow and trigger payload and receive back an
// ExecutionResult to persist.
package engine

import (
	"context"
	"fmt"

	"github.com/flowforge/workflow-engine/domain"
	"golang.org/x/sync/errgroup"
)

// Engine runs workflows against a fixed Config. Safe for concurrent use
// across independent executions; each Run call owns its own state.
type Engine struct {
	cfg *Config
}

// New assembles an Engine from options. WithRegistry is required.
func New(opts ...Option) (*Engine, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// ExecutionResult is everything one Run produces for the caller to
// persist: the terminal execution record, one step per attempted or
// skipped node, every retry attempt row, every retrieval event, and the
// final context state.
type ExecutionResult struct {
	Execution       domain.Execution
	Steps           []domain.ExecutionStep
	Attempts        []domain.ExecutionStepAttempt
	RetrievalEvents []domain.ExecutionRetrievalEvent
	Snapshots       []domain.ExecutionContextSnapshot
	FinalState      domain.ExecutionContextState
}

// Run executes wf from triggerPayload to a terminal execution status.
// executionID/workflowID identify the run for step/attempt/event rows;
// callers own id generation so a queue-level retry can reuse the same
// execution id.
func (e *Engine) Run(ctx context.Context, executionID string, wf domain.Workflow, triggerPayload map[string]interface{}) (ExecutionResult, error) {
	workflowID := wf.ID
	g, waves, err := buildGraph(wf, e.cfg.Registry)
	if err != nil {
		return ExecutionResult{}, err
	}

	now := e.cfg.Clock.Now()
	state := NewContextState(now, e.cfg.Defaults)
	// §4.1: nodes within a wave are parallelCandidate; record the
	// scheduler's own wave computation for callers/nodes to inspect.
	state.Knowledge["scheduler.waves"] = waves

	result := ExecutionResult{
		Execution: domain.Execution{
			ID:             executionID,
			WorkflowID:     workflowID,
			Status:         domain.ExecutionRunning,
			TriggerPayload: triggerPayload,
			StartedAt:      &now,
			CreatedAt:      now,
		},
	}

	sequence := 0
	takeSnapshot := func(reason domain.SnapshotReason, nodeID, nodeType string) {
		snap := domain.ExecutionContextSnapshot{
			ExecutionID: executionID,
			Sequence:    sequence,
			Reason:      reason,
			NodeID:      nodeID,
			NodeType:    nodeType,
			State:       state.Snapshot(),
		}
		result.Snapshots = append(result.Snapshots, snap)
		if e.cfg.SnapshotSink != nil {
			e.cfg.SnapshotSink(SnapshotArgs{ExecutionID: executionID, Sequence: sequence, Reason: string(reason), NodeID: nodeID, NodeType: nodeType, State: state})
		}
		sequence++
	}
	takeSnapshot(domain.SnapshotInit, "", "")

	nodeStatus := make(map[string]domain.StepStatus, len(g.nodes))
	nodeTokens := make(map[string][]string, len(g.nodes))
	nodeOutput := make(map[string]map[string]interface{}, len(g.nodes))
	terminated := false

	// runnableNode carries one wave member through its concurrent
	// execution phase to the sequential merge phase below.
	type runnableNode struct {
		nodeID          string
		node            domain.WorkflowNode
		clone           *ContextState
		nr              nodeResult
		retrievalEvents []domain.ExecutionRetrievalEvent
	}

	for _, wave := range waves {
		if e.cfg.Defaults.MaxDuration > 0 && e.cfg.Clock.Now().Sub(now) > e.cfg.Defaults.MaxDuration {
			return e.finish(ctx, &result, state, takeSnapshot, ErrMaxDurationExceeded)
		}

		// Kahn layering guarantees no two nodes in the same wave depend
		// on each other, so they can run concurrently; skip handling
		// stays sequential since it only touches shared maps, never a
		// node's own execution.
		runnable := make([]*runnableNode, 0, len(wave))
		for _, nodeID := range wave {
			node := g.nodes[nodeID]

			if terminated || !e.reachability(g, nodeID, nodeStatus, nodeTokens) {
				nodeStatus[nodeID] = domain.StepSkipped
				result.Steps = append(result.Steps, domain.ExecutionStep{
					ID: nodeID, ExecutionID: executionID, NodeID: nodeID, NodeType: node.Type,
					Status: domain.StepSkipped,
				})
				takeSnapshot(domain.SnapshotStep, nodeID, node.Type)
				continue
			}

			runnable = append(runnable, &runnableNode{nodeID: nodeID, node: node})
		}

		grp, gctx := errgroup.WithContext(ctx)
		if e.cfg.MaxConcurrency > 0 {
			grp.SetLimit(e.cfg.MaxConcurrency)
		}
		for _, rn := range runnable {
			rn := rn
			grp.Go(func() error {
				input := e.assembleInput(g, rn.nodeID, triggerPayload, nodeOutput)
				def, _ := e.cfg.Registry.Lookup(rn.node.Type)

				rn.clone = state.Clone()
				rn.nr = runNode(gctx, rn.node, def, input, executionID, workflowID, wf.UserID, rn.clone, e.cfg, &rn.retrievalEvents)
				return nil
			})
		}
		_ = grp.Wait() // each Go func always returns nil; node failures are carried in nr.Failed

		for _, rn := range runnable {
			MergeInto(state, rn.clone)

			result.Steps = append(result.Steps, rn.nr.Step)
			result.Attempts = append(result.Attempts, rn.nr.Attempts...)
			result.RetrievalEvents = append(result.RetrievalEvents, rn.retrievalEvents...)

			if rn.nr.Failed {
				nodeStatus[rn.nodeID] = domain.StepFailed
			} else {
				nodeStatus[rn.nodeID] = domain.StepCompleted
				nodeTokens[rn.nodeID] = rn.nr.Tokens
				nodeOutput[rn.nodeID] = rn.nr.Step.Output
			}

			takeSnapshot(domain.SnapshotStep, rn.nodeID, rn.node.Type)

			if state.Control.Terminate && !terminated {
				terminated = true
				state.Memory = MemorySet(state.Memory, "execution.outcome", map[string]interface{}{
					"status": "terminated_by_control",
					"reason": fmt.Sprintf("node %q set control.terminate", rn.nodeID),
				})
			}
		}
	}

	finalErr := error(nil)
	if e.failed(g, nodeStatus) {
		finalErr = fmt.Errorf("engine: execution failed")
	}
	return e.finish(ctx, &result, state, takeSnapshot, finalErr)
}

// reachability implements §4.1's branch-activation and skip-propagation
// rules: a node with no incoming edges is always reachable; otherwise
// it is reachable iff at least one incoming edge is active (its source
// completed and emitted a matching token, or the edge is unconditional).
func (e *Engine) reachability(g *graph, nodeID string, status map[string]domain.StepStatus, tokens map[string][]string) bool {
	incoming := g.incoming[nodeID]
	if len(incoming) == 0 {
		return true
	}
	for _, edge := range incoming {
		if status[edge.Source] == domain.StepCompleted && edge.IsActive(tokens[edge.Source]) {
			return true
		}
	}
	return false
}

// assembleInput merges the outputs of nodeID's active (completed)
// parents, in declared order, last writer wins. Root nodes receive the
// trigger payload.
func (e *Engine) assembleInput(g *graph, nodeID string, triggerPayload map[string]interface{}, nodeOutput map[string]map[string]interface{}) map[string]interface{} {
	incoming := g.incoming[nodeID]
	if len(incoming) == 0 {
		merged := make(map[string]interface{}, len(triggerPayload))
		for k, v := range triggerPayload {
			merged[k] = v
		}
		return merged
	}
	merged := map[string]interface{}{}
	for _, edge := range incoming {
		out, ok := nodeOutput[edge.Source]
		if !ok {
			continue
		}
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged
}

// failed implements §4.10: the execution fails iff a critical terminal
// node (an "output" node, or a leaf with no outgoing edges) is failed,
// or an "output" node's skip traces directly to a failed parent rather
// than an inactive branch.
func (e *Engine) failed(g *graph, status map[string]domain.StepStatus) bool {
	for nodeID, st := range status {
		node := g.nodes[nodeID]
		isLeaf := len(g.outgoing[nodeID]) == 0
		if st == domain.StepFailed && (isLeaf || node.Type == "output") {
			return true
		}
		if node.Type == "output" && st == domain.StepSkipped {
			for _, edge := range g.incoming[nodeID] {
				if status[edge.Source] == domain.StepFailed {
					return true
				}
			}
		}
	}
	return false
}

func (e *Engine) finish(ctx context.Context, result *ExecutionResult, state *ContextState, takeSnapshot func(domain.SnapshotReason, string, string), runErr error) (ExecutionResult, error) {
	now := e.cfg.Clock.Now()
	result.Execution.FinishedAt = &now
	if runErr != nil {
		result.Execution.Status = domain.ExecutionFailed
		result.Execution.ErrorMessage = domain.SanitizeErrorMessage(runErr.Error())
		takeSnapshot(domain.SnapshotError, "", "")
	} else {
		result.Execution.Status = domain.ExecutionCompleted
		takeSnapshot(domain.SnapshotFinal, "", "")
	}
	result.FinalState = state.Snapshot()
	return *result, runErr
}
