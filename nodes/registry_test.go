package nodes

import "testing"

func TestNewRegistryResolvesEveryBuiltInNodeType(t *testing.T) {
	reg := NewRegistry(Dependencies{})
	want := []string{
		"webhook-trigger", "manual-trigger", "schedule-trigger", "data-cleaner",
		"llm", "json-validator", "storage", "log", "http-request", "condition",
		"code", "transformer", "output", "file-upload", "memory-write",
		"memory-read", "execution-control", "evaluation", "knowledge-ingest",
		"knowledge-retrieve",
	}
	for _, typ := range want {
		if _, ok := reg.Lookup(typ); !ok {
			t.Errorf("expected registry to resolve node type %q", typ)
		}
	}
}

func TestNewRegistryReportsUnknownTypeAsNotFound(t *testing.T) {
	reg := NewRegistry(Dependencies{})
	if _, ok := reg.Lookup("not-a-real-type"); ok {
		t.Error("expected an unregistered node type to resolve to false")
	}
}
