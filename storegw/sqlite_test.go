package storegw_test

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/storegw"
)

func newSQLiteGateway(t *testing.T) *storegw.SQLiteGateway {
	t.Helper()
	gw, err := storegw.NewSQLiteGateway(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteGateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw
}

func TestSQLiteGatewayRoundTripsAWorkflow(t *testing.T) {
	gw := newSQLiteGateway(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	wf := domain.Workflow{
		ID: "wf-1", UserID: "u1", Name: "demo", Status: domain.WorkflowActive,
		Nodes: []domain.WorkflowNode{{ID: "n1", Type: "manual-trigger"}},
		Edges: []domain.WorkflowEdge{},
		Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := gw.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}

	got, err := gw.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Name != "demo" || got.Status != domain.WorkflowActive || len(got.Nodes) != 1 {
		t.Errorf("round-tripped workflow = %+v", got)
	}

	if _, err := gw.GetWorkflow(ctx, "missing"); err != storegw.ErrNotFound {
		t.Errorf("expected ErrNotFound for a missing workflow, got %v", err)
	}
}

func TestSQLiteGatewayListActiveWorkflowsFiltersByStatus(t *testing.T) {
	gw := newSQLiteGateway(t)
	ctx := context.Background()
	now := time.Now().UTC()

	active := domain.Workflow{ID: "wf-active", UserID: "u1", Status: domain.WorkflowActive, Version: 1, CreatedAt: now, UpdatedAt: now}
	inactive := domain.Workflow{ID: "wf-inactive", UserID: "u1", Status: domain.WorkflowInactive, Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := gw.SaveWorkflow(ctx, active); err != nil {
		t.Fatalf("SaveWorkflow active: %v", err)
	}
	if err := gw.SaveWorkflow(ctx, inactive); err != nil {
		t.Fatalf("SaveWorkflow inactive: %v", err)
	}

	got, err := gw.ListActiveWorkflows(ctx)
	if err != nil {
		t.Fatalf("ListActiveWorkflows: %v", err)
	}
	if len(got) != 1 || got[0].ID != "wf-active" {
		t.Errorf("expected only wf-active, got %+v", got)
	}
}

func TestSQLiteGatewayExecutionLifecycle(t *testing.T) {
	gw := newSQLiteGateway(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ex := domain.Execution{ID: "exec-1", WorkflowID: "wf-1", Status: domain.ExecutionPending, CreatedAt: now}
	if err := gw.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	ex.Status = domain.ExecutionCompleted
	finished := now.Add(time.Second)
	ex.FinishedAt = &finished
	if err := gw.UpdateExecution(ctx, ex); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	got, err := gw.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != domain.ExecutionCompleted || got.FinishedAt == nil {
		t.Errorf("expected updated execution, got %+v", got)
	}

	list, err := gw.ListExecutions(ctx, "wf-1", 10, 0)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 execution for wf-1, got %d", len(list))
	}
}

func TestSQLiteGatewayStepsAndAttempts(t *testing.T) {
	gw := newSQLiteGateway(t)
	ctx := context.Background()

	step := domain.ExecutionStep{ID: "step-1", ExecutionID: "exec-1", NodeID: "n1", NodeType: "output", Status: domain.StepCompleted}
	if err := gw.SaveStep(ctx, step); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}
	steps, err := gw.ListSteps(ctx, "exec-1")
	if err != nil || len(steps) != 1 {
		t.Fatalf("ListSteps: %v, %+v", err, steps)
	}

	attempt := domain.ExecutionStepAttempt{ExecutionID: "exec-1", NodeID: "n1", NodeType: "output", Attempt: 1, Status: domain.AttemptCompleted}
	if err := gw.SaveAttempt(ctx, attempt); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	attempts, err := gw.ListAttempts(ctx, "exec-1", "n1")
	if err != nil || len(attempts) != 1 {
		t.Fatalf("ListAttempts: %v, %+v", err, attempts)
	}
}

func TestSQLiteGatewayOutboxDeliversThenSuppressesDrained(t *testing.T) {
	gw := newSQLiteGateway(t)
	ctx := context.Background()

	if err := gw.SaveOutboxEvent(ctx, "ev-1", "exec-1", []byte(`{"msg":"hi"}`)); err != nil {
		t.Fatalf("SaveOutboxEvent: %v", err)
	}

	pending, err := gw.PendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "ev-1" {
		t.Fatalf("expected 1 pending event, got %+v", pending)
	}

	if err := gw.MarkEventsEmitted(ctx, []string{"ev-1"}); err != nil {
		t.Fatalf("MarkEventsEmitted: %v", err)
	}

	after, err := gw.PendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("PendingEvents after mark: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("expected no pending events after marking emitted, got %+v", after)
	}
}

func TestSQLiteGatewayKnowledgeCorpusDocumentChunkPipeline(t *testing.T) {
	gw := newSQLiteGateway(t)
	ctx := context.Background()
	now := time.Now().UTC()

	corpus := domain.KnowledgeCorpus{ID: "corpus-1", UserID: "u1", Name: "notes", ScopeType: domain.ScopeUser, Status: domain.CorpusIngesting, CreatedAt: now, UpdatedAt: now}
	if err := gw.SaveCorpus(ctx, corpus); err != nil {
		t.Fatalf("SaveCorpus: %v", err)
	}

	found, ok, err := gw.FindCorpusByScope(ctx, "u1", domain.ScopeUser, "", "")
	if err != nil || !ok || found.ID != "corpus-1" {
		t.Fatalf("FindCorpusByScope: %v, ok=%v, found=%+v", err, ok, found)
	}

	doc := domain.KnowledgeDocument{ID: "doc-1", CorpusID: "corpus-1", UserID: "u1", Status: domain.DocumentPending, CreatedAt: now, UpdatedAt: now}
	if err := gw.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	docs, err := gw.ListDocumentsByCorpus(ctx, "corpus-1")
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocumentsByCorpus: %v, %+v", err, docs)
	}

	chunk := domain.KnowledgeChunk{ID: "chunk-1", CorpusID: "corpus-1", DocumentID: "doc-1", ChunkIndex: 0, Content: "hello", CreatedAt: now}
	if err := gw.SaveChunk(ctx, chunk); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	chunks, err := gw.ListChunksByCorpus(ctx, "corpus-1", 10)
	if err != nil || len(chunks) != 1 {
		t.Fatalf("ListChunksByCorpus: %v, %+v", err, chunks)
	}

	if err := gw.DeleteChunksForDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteChunksForDocument: %v", err)
	}
	chunks, err = gw.ListChunksByCorpus(ctx, "corpus-1", 10)
	if err != nil || len(chunks) != 0 {
		t.Fatalf("expected chunks deleted, got %v, %+v", err, chunks)
	}
}
