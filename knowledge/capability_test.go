package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/engine"
	"github.com/flowforge/workflow-engine/storegw"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	gw, err := storegw.NewSQLiteGateway(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteGateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	clock := &clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewService(gw, clock, clock)
}

func TestIngestFuncIngestsASingleContentPathDocument(t *testing.T) {
	svc := newTestService(t)
	fn := svc.IngestFunc()

	req := engine.KnowledgeIngestRequest{
		UserID: "u1",
		Config: map[string]interface{}{"contentPath": "body", "title": "note"},
		InputData: map[string]interface{}{"body": "hello there, this is the document body."},
	}
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("IngestFunc: %v", err)
	}
	if result.CorpusID == "" {
		t.Fatal("expected a resolved corpus id")
	}
	if len(result.Documents) != 1 || result.Documents[0].Status != "ready" {
		t.Errorf("expected a single ready document, got %+v", result.Documents)
	}
}

func TestIngestFuncIngestsABatchOfDocumentsPaths(t *testing.T) {
	svc := newTestService(t)
	fn := svc.IngestFunc()

	req := engine.KnowledgeIngestRequest{
		UserID: "u1",
		Config: map[string]interface{}{"documentsPath": "docs"},
		InputData: map[string]interface{}{
			"docs": []interface{}{
				map[string]interface{}{"title": "a", "content": "content of document a"},
				map[string]interface{}{"title": "b", "content": "content of document b"},
			},
		},
	}
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("IngestFunc: %v", err)
	}
	if len(result.Documents) != 2 {
		t.Fatalf("expected 2 documents ingested, got %d", len(result.Documents))
	}
}

func TestIngestFuncInterpolatesAContentTemplate(t *testing.T) {
	svc := newTestService(t)
	fn := svc.IngestFunc()

	req := engine.KnowledgeIngestRequest{
		UserID: "u1",
		Config: map[string]interface{}{"contentTemplate": "summary: {{summary}}"},
		InputData: map[string]interface{}{"summary": "the meeting went well"},
	}
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("IngestFunc: %v", err)
	}
	if len(result.Documents) != 1 {
		t.Fatalf("expected 1 document from a content template, got %+v", result.Documents)
	}
}

func TestIngestFuncSkipsDocumentsWithEmptyContent(t *testing.T) {
	svc := newTestService(t)
	fn := svc.IngestFunc()

	req := engine.KnowledgeIngestRequest{
		UserID:    "u1",
		Config:    map[string]interface{}{"contentPath": "missing"},
		InputData: map[string]interface{}{},
	}
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("IngestFunc: %v", err)
	}
	if len(result.Documents) != 0 {
		t.Errorf("expected no documents when content resolves empty, got %+v", result.Documents)
	}
}

func TestResolveDocumentInputsPrefersDocumentsPathOverContentPath(t *testing.T) {
	config := map[string]interface{}{
		"documentsPath": "docs",
		"contentPath":   "body",
	}
	inputData := map[string]interface{}{
		"docs": []interface{}{map[string]interface{}{"title": "x", "content": "c"}},
		"body": "should be ignored",
	}
	got := resolveDocumentInputs(config, inputData)
	if len(got) != 1 || got[0].content != "c" {
		t.Errorf("expected documentsPath to take precedence, got %+v", got)
	}
}

func TestResolveDocumentInputsReturnsNilWhenNoSourceConfigured(t *testing.T) {
	got := resolveDocumentInputs(map[string]interface{}{}, map[string]interface{}{})
	if got != nil {
		t.Errorf("expected nil when no content source is configured, got %+v", got)
	}
}

func TestRetrieveFuncWrapsQueryAndScopesToACorpus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	corpus, err := svc.ResolveCorpus(ctx, "u1", "user", "", "", "notes")
	if err != nil {
		t.Fatalf("ResolveCorpus: %v", err)
	}
	doc, err := svc.CreateDocument(ctx, corpus.ID, "u1", "inline", "doc", "text/plain", "a document about golang channels and goroutines")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := svc.Ingest(ctx, doc.ID); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	retrieve := svc.RetrieveFunc()
	matches, err := retrieve(ctx, QueryRequest{CorpusID: corpus.ID, Query: "goroutines", TopK: 5})
	if err != nil {
		t.Fatalf("RetrieveFunc: %v", err)
	}
	if len(matches) == 0 {
		t.Error("expected at least one match through RetrieveFunc")
	}
}
