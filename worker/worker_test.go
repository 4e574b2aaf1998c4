package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/engine"
	"github.com/flowforge/workflow-engine/nodes"
	"github.com/flowforge/workflow-engine/queue"
	"github.com/flowforge/workflow-engine/storegw"
	"github.com/flowforge/workflow-engine/worker"
)

// fakeGateway implements storegw.Gateway, overriding only the methods
// the worker touches; anything else would nil-pointer-panic.
type fakeGateway struct {
	storegw.Gateway

	mu         sync.Mutex
	workflows  map[string]domain.Workflow
	executions map[string]domain.Execution
	steps      []domain.ExecutionStep
	attempts   []domain.ExecutionStepAttempt
	snapshots  []domain.ExecutionContextSnapshot

	getWorkflowErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		workflows:  map[string]domain.Workflow{},
		executions: map[string]domain.Execution{},
	}
}

func (f *fakeGateway) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	if f.getWorkflowErr != nil {
		return domain.Workflow{}, f.getWorkflowErr
	}
	wf, ok := f.workflows[id]
	if !ok {
		return domain.Workflow{}, storegw.ErrNotFound
	}
	return wf, nil
}

func (f *fakeGateway) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ex, ok := f.executions[id]
	if !ok {
		return domain.Execution{}, storegw.ErrNotFound
	}
	return ex, nil
}

func (f *fakeGateway) UpdateExecution(ctx context.Context, ex domain.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions[ex.ID] = ex
	return nil
}

func (f *fakeGateway) SaveStep(ctx context.Context, step domain.ExecutionStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeGateway) SaveAttempt(ctx context.Context, attempt domain.ExecutionStepAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeGateway) SaveRetrievalEvent(ctx context.Context, ev domain.ExecutionRetrievalEvent) error {
	return nil
}

func (f *fakeGateway) SaveContextSnapshot(ctx context.Context, snap domain.ExecutionContextSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeGateway) execution(id string) (domain.Execution, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ex, ok := f.executions[id]
	return ex, ok
}

func singleNodeWorkflow(id string, status domain.WorkflowStatus) domain.Workflow {
	return domain.Workflow{
		ID:     id,
		Status: status,
		Nodes: []domain.WorkflowNode{
			{ID: "n1", Type: "manual-trigger", Config: map[string]interface{}{}},
		},
	}
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.WithRegistry(nodes.NewRegistry(nodes.Dependencies{})))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func TestExecuteWorkflowHandlerRejectsMalformedPayload(t *testing.T) {
	w := worker.New(newFakeGateway(), newTestEngine(t), nil)
	err := w.ExecuteWorkflowHandler()(context.Background(), queue.Job{Body: []byte("not json")})
	if err == nil || !queue.IsPermanent(err) {
		t.Fatalf("expected a permanent error for a malformed payload, got %v", err)
	}
}

func TestExecuteWorkflowHandlerFailsExecutionWhenWorkflowNotFound(t *testing.T) {
	gw := newFakeGateway()
	w := worker.New(gw, newTestEngine(t), nil)

	body, _ := json.Marshal(queue.ExecuteWorkflowPayload{ExecutionID: "exec-1", WorkflowID: "missing"})
	err := w.ExecuteWorkflowHandler()(context.Background(), queue.Job{Body: body})
	if err == nil || !queue.IsPermanent(err) {
		t.Fatalf("expected a permanent error, got %v", err)
	}

	ex, ok := gw.execution("exec-1")
	if !ok || ex.Status != domain.ExecutionFailed {
		t.Fatalf("expected execution exec-1 marked failed, got %+v (found=%v)", ex, ok)
	}
}

func TestExecuteWorkflowHandlerRejectsScheduledRunOnInactiveWorkflow(t *testing.T) {
	gw := newFakeGateway()
	gw.workflows["wf-1"] = singleNodeWorkflow("wf-1", domain.WorkflowInactive)
	w := worker.New(gw, newTestEngine(t), nil)

	body, _ := json.Marshal(queue.ExecuteWorkflowPayload{
		ExecutionID: "exec-1", WorkflowID: "wf-1",
		TriggerPayload: map[string]interface{}{"_scheduledAt": "2026-01-01T00:00:00Z"},
	})
	err := w.ExecuteWorkflowHandler()(context.Background(), queue.Job{Body: body})
	if err == nil || !queue.IsPermanent(err) {
		t.Fatalf("expected a permanent error for a scheduled run on an inactive workflow, got %v", err)
	}
}

func TestExecuteWorkflowHandlerPersistsASuccessfulRun(t *testing.T) {
	gw := newFakeGateway()
	gw.workflows["wf-1"] = singleNodeWorkflow("wf-1", domain.WorkflowActive)
	w := worker.New(gw, newTestEngine(t), nil)

	body, _ := json.Marshal(queue.ExecuteWorkflowPayload{ExecutionID: "exec-1", WorkflowID: "wf-1"})
	if err := w.ExecuteWorkflowHandler()(context.Background(), queue.Job{Body: body}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ex, ok := gw.execution("exec-1")
	if !ok {
		t.Fatal("expected execution exec-1 to be persisted")
	}
	if ex.Status != domain.ExecutionCompleted {
		t.Errorf("execution status = %q, want completed", ex.Status)
	}
	if len(gw.steps) == 0 {
		t.Error("expected at least one persisted step")
	}
}

func TestIngestDocumentHandlerRejectsMalformedPayload(t *testing.T) {
	w := worker.New(newFakeGateway(), newTestEngine(t), func(ctx context.Context, documentID string) error { return nil })
	err := w.IngestDocumentHandler()(context.Background(), queue.Job{Body: []byte("not json")})
	if err == nil || !queue.IsPermanent(err) {
		t.Fatalf("expected a permanent error, got %v", err)
	}
}

func TestIngestDocumentHandlerFailsPermanentlyWithoutACapability(t *testing.T) {
	w := worker.New(newFakeGateway(), newTestEngine(t), nil)
	body, _ := json.Marshal(queue.IngestDocumentPayload{DocumentID: "doc-1"})
	err := w.IngestDocumentHandler()(context.Background(), queue.Job{Body: body})
	if err == nil || !queue.IsPermanent(err) {
		t.Fatalf("expected a permanent error when no ingestion capability is wired, got %v", err)
	}
}

func TestIngestDocumentHandlerDelegatesToIngestFunc(t *testing.T) {
	var gotID string
	ingest := func(ctx context.Context, documentID string) error {
		gotID = documentID
		return nil
	}
	w := worker.New(newFakeGateway(), newTestEngine(t), ingest)
	body, _ := json.Marshal(queue.IngestDocumentPayload{DocumentID: "doc-1"})
	if err := w.IngestDocumentHandler()(context.Background(), queue.Job{Body: body}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "doc-1" {
		t.Errorf("ingest called with %q, want doc-1", gotID)
	}
}

func TestIngestDocumentHandlerPropagatesARetryableError(t *testing.T) {
	wantErr := errors.New("transient failure")
	ingest := func(ctx context.Context, documentID string) error { return wantErr }
	w := worker.New(newFakeGateway(), newTestEngine(t), ingest)
	body, _ := json.Marshal(queue.IngestDocumentPayload{DocumentID: "doc-1"})
	err := w.IngestDocumentHandler()(context.Background(), queue.Job{Body: body})
	if queue.IsPermanent(err) {
		t.Errorf("expected a retryable error, got permanent: %v", err)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("expected the underlying ingest error to propagate, got %v", err)
	}
}
