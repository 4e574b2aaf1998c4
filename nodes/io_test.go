package nodes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowforge/workflow-engine/engine"
	"github.com/go-logr/logr"
)

func TestStorageNodePersistsWhenConfigured(t *testing.T) {
	var savedKey string
	var savedVal interface{}
	n := &storageNode{}
	nctx := &engine.NodeContext{SetMemory: func(k string, v interface{}) { savedKey, savedVal = k, v }}
	input := engine.NodeInput{
		Data:     map[string]interface{}{"x": 1},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"storageKey": "result", "persistToExecutionContext": true}},
	}
	out, err := n.Execute(context.Background(), input, nctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if savedKey != "storage.result" {
		t.Errorf("expected memory key storage.result, got %q", savedKey)
	}
	if m, _ := savedVal.(map[string]interface{}); m["x"] != 1 {
		t.Errorf("expected persisted value to echo input, got %+v", savedVal)
	}
	if out.Data["storageKey"] != "result" {
		t.Errorf("expected output storageKey=result, got %+v", out.Data)
	}
}

func TestLogNodeInterpolatesItsMessage(t *testing.T) {
	n := &logNode{}
	input := engine.NodeInput{
		Data:     map[string]interface{}{"name": "Ada"},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"message": "hello {{name}}"}},
	}
	out, err := n.Execute(context.Background(), input, &engine.NodeContext{Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data["message"] != "hello Ada" {
		t.Errorf("expected interpolated message, got %+v", out.Data)
	}
}

func TestHTTPRequestValidateRequiresMethodAndURL(t *testing.T) {
	n := &httpRequestNode{}
	if res := n.Validate(map[string]interface{}{"method": "GET"}); res.Valid {
		t.Error("expected validation to fail without a url")
	}
	if res := n.Validate(map[string]interface{}{"method": "WOMBAT", "url": "http://x"}); res.Valid {
		t.Error("expected validation to fail for an unsupported method")
	}
}

func TestHTTPRequestExecutesAGetAndParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := &httpRequestNode{client: srv.Client()}
	input := engine.NodeInput{
		Data:     map[string]interface{}{},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"method": "GET", "url": srv.URL}},
	}
	out, err := n.Execute(context.Background(), input, &engine.NodeContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data["status"] != http.StatusOK {
		t.Errorf("expected status 200, got %+v", out.Data["status"])
	}
	body, _ := out.Data["body"].(map[string]interface{})
	if body["ok"] != true {
		t.Errorf("expected parsed JSON body, got %+v", out.Data["body"])
	}
}

func TestHTTPRequestInterpolatesTheURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := &httpRequestNode{client: srv.Client()}
	input := engine.NodeInput{
		Data:     map[string]interface{}{"id": "42"},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"method": "GET", "url": srv.URL + "/items/{{id}}"}},
	}
	if _, err := n.Execute(context.Background(), input, &engine.NodeContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/items/42" {
		t.Errorf("expected interpolated path /items/42, got %q", gotPath)
	}
}

func TestOutputNodeAnnotatesCollectionMetadata(t *testing.T) {
	n := &outputNode{}
	nctx := &engine.NodeContext{ExecutionID: "exec-1", WorkflowID: "wf-1"}
	out, err := n.Execute(context.Background(), engine.NodeInput{Data: map[string]interface{}{"x": 1}}, nctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta, _ := out.Data["_output"].(map[string]interface{})
	if meta["executionId"] != "exec-1" || meta["workflowId"] != "wf-1" {
		t.Errorf("expected execution/workflow ids in _output, got %+v", meta)
	}
	if out.Data["x"] != 1 {
		t.Errorf("expected passthrough of input data, got %+v", out.Data)
	}
}
