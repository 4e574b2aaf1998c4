package knowledge_test

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/knowledge"
	"github.com/flowforge/workflow-engine/storegw"
)

func newService(t *testing.T) (*knowledge.Service, *clockid.Fixed) {
	t.Helper()
	gw, err := storegw.NewSQLiteGateway(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteGateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	clock := &clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return knowledge.NewService(gw, clock, clock), clock
}

func TestResolveCorpusCreatesThenReusesTheSameCorpus(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.ResolveCorpus(ctx, "u1", domain.ScopeUser, "", "", "default")
	if err != nil {
		t.Fatalf("ResolveCorpus: %v", err)
	}
	if first.Status != domain.CorpusIngesting {
		t.Errorf("expected a freshly created corpus to start ingesting, got %v", first.Status)
	}

	second, err := svc.ResolveCorpus(ctx, "u1", domain.ScopeUser, "", "", "default")
	if err != nil {
		t.Fatalf("ResolveCorpus (second): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected ResolveCorpus to reuse the existing corpus, got a new id %q vs %q", second.ID, first.ID)
	}
}

func TestIngestChunksADocumentAndMarksTheCorpusReady(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	corpus, err := svc.ResolveCorpus(ctx, "u1", domain.ScopeUser, "", "", "notes")
	if err != nil {
		t.Fatalf("ResolveCorpus: %v", err)
	}

	content := "The quick brown fox jumps over the lazy dog. " + repeat("more filler text. ", 100)
	doc, err := svc.CreateDocument(ctx, corpus.ID, "u1", domain.SourceInline, "doc", "text/plain", content)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := svc.Ingest(ctx, doc.ID); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	matches, err := svc.Query(ctx, knowledge.QueryRequest{CorpusID: corpus.ID, Query: "quick brown fox", TopK: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match after ingesting a document into the corpus")
	}
	for _, m := range matches {
		if m.CorpusID != corpus.ID {
			t.Errorf("expected matches scoped to the corpus, got %+v", m)
		}
	}
}

func TestQueryReturnsNoResultsForAnUnresolvableCorpus(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	matches, err := svc.Query(ctx, knowledge.QueryRequest{CorpusID: "does-not-exist"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches != nil {
		t.Errorf("expected no matches for an unresolvable corpus, got %+v", matches)
	}
}

func TestQueryRanksByDescendingSimilarityAndRespectsTopK(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	corpus, err := svc.ResolveCorpus(ctx, "u1", domain.ScopeUser, "", "", "notes")
	if err != nil {
		t.Fatalf("ResolveCorpus: %v", err)
	}
	doc, err := svc.CreateDocument(ctx, corpus.ID, "u1", domain.SourceInline, "doc", "text/plain",
		"alpha beta gamma delta. epsilon zeta eta theta. iota kappa lambda mu.")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := svc.Ingest(ctx, doc.ID); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	matches, err := svc.Query(ctx, knowledge.QueryRequest{CorpusID: corpus.ID, Query: "alpha beta gamma", TopK: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected TopK to limit results to 1, got %d", len(matches))
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
