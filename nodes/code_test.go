package nodes

import (
	"context"
	"testing"

	"github.com/flowforge/workflow-engine/engine"
)

func TestCodeNodeValidateRejectsASyntaxError(t *testing.T) {
	n := &codeNode{}
	res := n.Validate(map[string]interface{}{"code": "output = {"})
	if res.Valid {
		t.Error("expected a syntax error to fail validation")
	}
}

func TestCodeNodeValidateRequiresCode(t *testing.T) {
	n := &codeNode{}
	if res := n.Validate(map[string]interface{}{}); res.Valid {
		t.Error("expected validation to fail without code")
	}
}

func TestCodeNodeExecutesAScriptOverItsInput(t *testing.T) {
	n := &codeNode{}
	input := engine.NodeInput{
		Data: map[string]interface{}{"a": float64(2), "b": float64(3)},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{
			"code": "output = {'sum': input['a'] + input['b']}",
		}},
	}
	out, err := n.Execute(context.Background(), input, &engine.NodeContext{NodeID: "n1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data["sum"] != float64(5) {
		t.Errorf("expected sum=5, got %+v", out.Data)
	}
}

func TestCodeNodeRequiresAnOutputGlobal(t *testing.T) {
	n := &codeNode{}
	input := engine.NodeInput{
		Data:     map[string]interface{}{},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"code": "x = 1"}},
	}
	_, err := n.Execute(context.Background(), input, &engine.NodeContext{NodeID: "n1"})
	if err == nil {
		t.Error("expected an error when the script never assigns output")
	}
}

func TestCodeNodeRejectsANonDictOutput(t *testing.T) {
	n := &codeNode{}
	input := engine.NodeInput{
		Data:     map[string]interface{}{},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"code": "output = 42"}},
	}
	_, err := n.Execute(context.Background(), input, &engine.NodeContext{NodeID: "n1"})
	if err == nil {
		t.Error("expected an error when output is not a dict")
	}
}
