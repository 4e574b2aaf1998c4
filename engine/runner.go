package engine

import (
	"context"
	"fmt"

	"github.com/flowforge/workflow-engine/domain"
)

// nodeResult is what runNode returns: the terminal step, its attempt
// rows, the route tokens the node emitted (nil/empty if skipped or
// failed), and whether the node ended failed. Patches are applied to
// the node's context clone directly rather than returned here.
type nodeResult struct {
	Step     domain.ExecutionStep
	Attempts []domain.ExecutionStepAttempt
	Tokens   []string
	Failed   bool
}

// runNode takes the input the caller assembled from active parents
// (see assembleInput), drives the retry loop
// per §4.2, derives route tokens, and mutates state via nctx's
// callbacks. state is the isolated clone for this node's wave slot;
// the caller merges it back at the wave barrier.
func runNode(
	ctx context.Context,
	node domain.WorkflowNode,
	def NodeDefinition,
	input map[string]interface{},
	executionID, workflowID, userID string,
	state *ContextState,
	cfg *Config,
	retrievalEvents *[]domain.ExecutionRetrievalEvent,
) nodeResult {
	maxAttempts := 1
	retryEnabled, _ := node.Config["retryEnabled"].(bool)
	if retryEnabled {
		if v, ok := node.Config["retryMaxAttempts"].(float64); ok && int(v) >= 1 {
			maxAttempts = int(v)
		} else if v, ok := node.Config["retryMaxAttempts"].(int); ok && v >= 1 {
			maxAttempts = v
		} else {
			maxAttempts = 1
		}
	}

	var attempts []domain.ExecutionStepAttempt
	var lastOutput NodeOutput
	var lastErr error
	attemptCount := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCount = attempt
		start := cfg.Clock.Now()

		patched := ContextPatch{}
		nctx := &NodeContext{
			ExecutionID: executionID,
			WorkflowID:  workflowID,
			UserID:      userID,
			NodeID:      node.ID,
			NodeType:    node.Type,
			Attempt:     attempt,
			Logger:      cfg.Logger,
			GetMemory: func(path string) (interface{}, bool) {
				return MemoryGet(state.Memory, path)
			},
			SetMemory: func(path string, value interface{}) {
				state.Memory = MemorySet(state.Memory, path, value)
			},
			UpdateExecutionContext: func(p ContextPatch) {
				mergePatch(&patched, p)
				state.ApplyPatch(p, node.ID, cfg.Clock.Now())
			},
			IngestKnowledge: cfg.IngestKnowledge,
		}
		if cfg.RetrieveKnowledge != nil {
			nctx.RetrieveKnowledge = func(ctx context.Context, req KnowledgeRetrieveRequest, emit func(domain.ExecutionRetrievalEvent)) (KnowledgeRetrieveResult, error) {
				return cfg.RetrieveKnowledge(ctx, req, func(ev domain.ExecutionRetrievalEvent) {
					ev.ExecutionID, ev.NodeID, ev.NodeType = executionID, node.ID, node.Type
					*retrievalEvents = append(*retrievalEvents, ev)
					state.Retrieval.TotalRequests++
					state.Retrieval.TotalDurationMs += ev.DurationMs
					switch ev.Status {
					case domain.RetrievalSuccess:
						state.Retrieval.TotalSuccesses++
					case domain.RetrievalEmpty:
						state.Retrieval.TotalEmpties++
					case domain.RetrievalFailed:
						state.Retrieval.TotalFailures++
					}
					if emit != nil {
						emit(ev)
					}
				})
			}
		}

		out, err := def.Execute(ctx, NodeInput{Data: input, Metadata: NodeInputMetadata{NodeConfig: node.Config}}, nctx)
		durationMs := cfg.Clock.Now().Sub(start).Milliseconds()

		// §4.4: a node that drove retrieval past its bounds fails even if
		// Execute itself returned no error.
		if err == nil && retrievalBoundsExceeded(state.Retrieval) {
			err = fmt.Errorf("engine: node %q exceeded retrieval bounds (failures=%d/%d durationMs=%d/%d)",
				node.ID, state.Retrieval.TotalFailures, state.Retrieval.MaxFailures,
				state.Retrieval.TotalDurationMs, state.Retrieval.MaxDurationMs)
		}

		if err != nil {
			lastErr = err
			attempts = append(attempts, domain.ExecutionStepAttempt{
				ExecutionID: executionID, NodeID: node.ID, NodeType: node.Type,
				Attempt: attempt, Status: domain.AttemptFailed, DurationMs: durationMs,
				Reason: err.Error(),
			})
			if attempt < maxAttempts {
				continue
			}
			break
		}

		lastOutput = out
		lastErr = nil

		retryRequested := false
		retryReason := ""
		if meta, ok := out.Metadata["retry"].(map[string]interface{}); ok {
			retryRequested, _ = meta["requested"].(bool)
			retryReason, _ = meta["reason"].(string)
		}

		if retryRequested && attempt < maxAttempts {
			attempts = append(attempts, domain.ExecutionStepAttempt{
				ExecutionID: executionID, NodeID: node.ID, NodeType: node.Type,
				Attempt: attempt, Status: domain.AttemptRetry, DurationMs: durationMs,
				Reason: retryReason,
			})
			continue
		}

		if retryRequested && attempt == maxAttempts {
			attempts = append(attempts, domain.ExecutionStepAttempt{
				ExecutionID: executionID, NodeID: node.ID, NodeType: node.Type,
				Attempt: attempt, Status: domain.AttemptRetry, DurationMs: durationMs,
				Reason: retryReason,
			})
			lastErr = fmt.Errorf("engine: node %q exhausted retries: %s", node.ID, retryReason)
			break
		}

		attempts = append(attempts, domain.ExecutionStepAttempt{
			ExecutionID: executionID, NodeID: node.ID, NodeType: node.Type,
			Attempt: attempt, Status: domain.AttemptCompleted, DurationMs: durationMs,
		})
		break
	}

	outcome := "no_retries_needed"
	switch {
	case lastErr != nil:
		outcome = "retry_exhausted"
	case attemptCount > 1:
		outcome = "retry_succeeded_after_n"
	}
	state.Memory = MemorySet(state.Memory, fmt.Sprintf("retry.outcome.%s", node.ID), map[string]interface{}{"status": outcome})

	if lastErr != nil {
		return nodeResult{
			Step: domain.ExecutionStep{
				ID: node.ID, ExecutionID: executionID, NodeID: node.ID, NodeType: node.Type,
				Status: domain.StepFailed, Input: input, Error: lastErr.Error(),
			},
			Attempts: attempts,
			Failed:   true,
		}
	}

	if lastOutput.Data == nil {
		lastOutput.Data = map[string]interface{}{}
	}
	lastOutput.Data["_attemptCount"] = attemptCount

	tokens := deriveRouteTokens(node.Type, lastOutput)
	var totalMs int64
	for _, a := range attempts {
		totalMs += a.DurationMs
	}
	return nodeResult{
		Step: domain.ExecutionStep{
			ID: node.ID, ExecutionID: executionID, NodeID: node.ID, NodeType: node.Type,
			Status: domain.StepCompleted, Input: input, Output: lastOutput.Data, DurationMs: &totalMs,
		},
		Attempts: attempts,
		Tokens:   tokens,
	}
}

// deriveRouteTokens implements §4.2's route-token emission rule.
func deriveRouteTokens(nodeType string, out NodeOutput) []string {
	if cond, ok := out.Data["_condition"].(map[string]interface{}); ok {
		if result, ok := cond["result"].(bool); ok {
			return []string{fmt.Sprintf("%t", result)}
		}
	}
	if eval, ok := out.Data["_evaluation"].(map[string]interface{}); ok {
		if passed, ok := eval["passed"].(bool); ok {
			if passed {
				return []string{"pass"}
			}
			return []string{"fail"}
		}
	}
	if route, ok := out.Data["_route"].(string); ok && route != "" {
		return []string{route}
	}
	if route, ok := out.Data["_route"].([]interface{}); ok {
		return toStrings(route)
	}
	if branch, ok := out.Data["_branch"].(map[string]interface{}); ok {
		if route, ok := branch["route"].(string); ok && route != "" {
			return []string{route}
		}
		if route, ok := branch["route"].([]interface{}); ok {
			return toStrings(route)
		}
	}
	return []string{"*"}
}

func retrievalBoundsExceeded(r domain.RetrievalCounters) bool {
	if r.MaxFailures > 0 && r.TotalFailures > r.MaxFailures {
		return true
	}
	if r.MaxDurationMs > 0 && r.TotalDurationMs > r.MaxDurationMs {
		return true
	}
	return false
}

func toStrings(vs []interface{}) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mergePatch(dst *ContextPatch, src ContextPatch) {
	if dst.Memory == nil {
		dst.Memory = map[string]interface{}{}
	}
	for k, v := range src.Memory {
		dst.Memory[k] = v
	}
	if dst.Knowledge == nil {
		dst.Knowledge = map[string]interface{}{}
	}
	for k, v := range src.Knowledge {
		dst.Knowledge[k] = v
	}
	if src.Terminate != nil {
		dst.Terminate = src.Terminate
	}
	if src.LoopCount != nil {
		dst.LoopCount = src.LoopCount
	}
	if src.RetryCount != nil {
		dst.RetryCount = src.RetryCount
	}
	if src.MaxLoops != nil {
		dst.MaxLoops = src.MaxLoops
	}
	if src.MaxRetries != nil {
		dst.MaxRetries = src.MaxRetries
	}
	if src.ActiveNodeID != "" {
		dst.ActiveNodeID = src.ActiveNodeID
	}
	if src.LastCompletedID != "" {
		dst.LastCompletedID = src.LastCompletedID
	}
}
