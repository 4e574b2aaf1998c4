// Package worker implements the execution worker (§4.8): a queue
// consumer that hydrates a workflow snapshot, drives engine.Engine.Run,
// and persists every entity the run produces.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/engine"
	"github.com/flowforge/workflow-engine/queue"
	"github.com/flowforge/workflow-engine/storegw"
)

// Worker drives workflow-execution and knowledge-ingestion jobs to
// completion, persisting the engine's output through Gateway.
type Worker struct {
	Gateway storegw.Gateway
	Engine  *engine.Engine
	Ingest  func(ctx context.Context, documentID string) error
}

// New builds a Worker.
func New(gw storegw.Gateway, eng *engine.Engine, ingest func(ctx context.Context, documentID string) error) *Worker {
	return &Worker{Gateway: gw, Engine: eng, Ingest: ingest}
}

// ExecuteWorkflowHandler returns the queue.Handler for the
// workflow-execution queue.
func (w *Worker) ExecuteWorkflowHandler() queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var payload queue.ExecuteWorkflowPayload
		if err := json.Unmarshal(job.Body, &payload); err != nil {
			return queue.Permanent(fmt.Errorf("worker: malformed execute-workflow payload: %w", err))
		}
		return w.runExecution(ctx, payload)
	}
}

// IngestDocumentHandler returns the queue.Handler for the
// knowledge-ingestion queue.
func (w *Worker) IngestDocumentHandler() queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var payload queue.IngestDocumentPayload
		if err := json.Unmarshal(job.Body, &payload); err != nil {
			return queue.Permanent(fmt.Errorf("worker: malformed ingest-knowledge-document payload: %w", err))
		}
		if w.Ingest == nil {
			return queue.Permanent(fmt.Errorf("worker: no knowledge ingestion capability wired"))
		}
		return w.Ingest(ctx, payload.DocumentID)
	}
}

// runExecution implements §4.8's six-step loop for one job.
func (w *Worker) runExecution(ctx context.Context, payload queue.ExecuteWorkflowPayload) error {
	wf, err := w.Gateway.GetWorkflow(ctx, payload.WorkflowID)
	if err != nil {
		return w.failExecution(ctx, payload.ExecutionID, payload.WorkflowID,
			fmt.Errorf("worker: workflow %q not found: %w", payload.WorkflowID, err), true)
	}

	_, scheduled := payload.TriggerPayload["_scheduledAt"]
	if scheduled && wf.Status != domain.WorkflowActive {
		return w.failExecution(ctx, payload.ExecutionID, payload.WorkflowID,
			fmt.Errorf("worker: workflow %q is not active", payload.WorkflowID), true)
	}

	result, runErr := w.Engine.Run(ctx, payload.ExecutionID, wf, payload.TriggerPayload)

	if runErr != nil && result.Execution.ID == "" {
		// The engine never reached finish(): a structural validation
		// failure (malformed DAG, unknown node type) rather than a node
		// execution failure. Retrying the same workflow definition would
		// fail identically, so this terminates the execution directly
		// and does not propagate for queue-level retry.
		return w.failExecution(ctx, payload.ExecutionID, payload.WorkflowID, runErr, true)
	}

	if err := w.persist(ctx, result); err != nil {
		return fmt.Errorf("worker: persist execution %q: %w", payload.ExecutionID, err)
	}

	// A node-execution failure is a normal terminal outcome already
	// persisted as status=failed above; it is not retried at the queue
	// level (retrying would repeat the same deterministic DAG failure).
	return nil
}

func (w *Worker) persist(ctx context.Context, result engine.ExecutionResult) error {
	if err := w.Gateway.UpdateExecution(ctx, result.Execution); err != nil {
		return err
	}
	for _, step := range result.Steps {
		if err := w.Gateway.SaveStep(ctx, step); err != nil {
			return err
		}
	}
	for _, attempt := range result.Attempts {
		if err := w.Gateway.SaveAttempt(ctx, attempt); err != nil {
			return err
		}
	}
	for _, ev := range result.RetrievalEvents {
		if err := w.Gateway.SaveRetrievalEvent(ctx, ev); err != nil {
			return err
		}
	}
	for _, snap := range result.Snapshots {
		if err := w.Gateway.SaveContextSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// failExecution marks executionID failed directly (no engine run took
// place) and, when permanent is true, wraps the error so the queue
// does not retry the job.
func (w *Worker) failExecution(ctx context.Context, executionID, workflowID string, cause error, permanent bool) error {
	ex, err := w.Gateway.GetExecution(ctx, executionID)
	if err != nil {
		ex = domain.Execution{ID: executionID, WorkflowID: workflowID}
	}
	ex.Status = domain.ExecutionFailed
	ex.ErrorMessage = domain.SanitizeErrorMessage(cause.Error())
	_ = w.Gateway.UpdateExecution(ctx, ex)

	if permanent {
		return queue.Permanent(cause)
	}
	return cause
}
