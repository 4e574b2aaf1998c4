package nodes

import (
	"context"
	"testing"

	"github.com/flowforge/workflow-engine/engine"
)

func TestConditionValidateRequiresFieldAndKnownOperator(t *testing.T) {
	n := &conditionNode{}
	if res := n.Validate(map[string]interface{}{"operator": "equals"}); res.Valid {
		t.Error("expected validation to fail without a field")
	}
	if res := n.Validate(map[string]interface{}{"field": "x", "operator": "bogus"}); res.Valid {
		t.Error("expected validation to fail for an unknown operator")
	}
	if res := n.Validate(map[string]interface{}{"field": "x", "operator": "equals"}); !res.Valid {
		t.Errorf("expected a valid config to pass, got %v", res.Errors)
	}
}

func TestConditionExecuteEqualsOperator(t *testing.T) {
	n := &conditionNode{}
	input := engine.NodeInput{
		Data:     map[string]interface{}{"status": "ready"},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"field": "status", "operator": "equals", "value": "ready"}},
	}
	out, err := n.Execute(context.Background(), input, &engine.NodeContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cond, _ := out.Data["_condition"].(map[string]interface{})
	if cond["result"] != true {
		t.Errorf("expected condition result true, got %+v", cond)
	}
}

func TestConditionExecuteExistsOperatorOnAMissingField(t *testing.T) {
	n := &conditionNode{}
	input := engine.NodeInput{
		Data:     map[string]interface{}{},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"field": "missing", "operator": "exists"}},
	}
	out, _ := n.Execute(context.Background(), input, &engine.NodeContext{})
	cond, _ := out.Data["_condition"].(map[string]interface{})
	if cond["result"] != false {
		t.Errorf("expected exists to be false for a missing field, got %+v", cond)
	}
}

func TestConditionExecuteGreaterThan(t *testing.T) {
	n := &conditionNode{}
	input := engine.NodeInput{
		Data:     map[string]interface{}{"count": float64(10)},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"field": "count", "operator": "greaterThan", "value": float64(5)}},
	}
	out, _ := n.Execute(context.Background(), input, &engine.NodeContext{})
	cond, _ := out.Data["_condition"].(map[string]interface{})
	if cond["result"] != true {
		t.Errorf("expected 10 > 5 to be true, got %+v", cond)
	}
}

func TestEvaluationPassesOnlyWhenEveryCheckPasses(t *testing.T) {
	n := &evaluationNode{}
	checks := []interface{}{
		map[string]interface{}{"field": "a", "operator": "equals", "value": "1"},
		map[string]interface{}{"field": "b", "operator": "exists"},
	}
	input := engine.NodeInput{
		Data:     map[string]interface{}{"a": "1", "b": "present"},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"checks": checks}},
	}
	out, err := n.Execute(context.Background(), input, &engine.NodeContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evalRes, _ := out.Data["_evaluation"].(map[string]interface{})
	if evalRes["passed"] != true {
		t.Errorf("expected passed=true, got %+v", evalRes)
	}
}

func TestEvaluationFailsWhenAnyCheckFails(t *testing.T) {
	n := &evaluationNode{}
	checks := []interface{}{
		map[string]interface{}{"field": "a", "operator": "equals", "value": "1"},
		map[string]interface{}{"field": "b", "operator": "exists"},
	}
	input := engine.NodeInput{
		Data:     map[string]interface{}{"a": "1"},
		Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"checks": checks}},
	}
	out, _ := n.Execute(context.Background(), input, &engine.NodeContext{})
	evalRes, _ := out.Data["_evaluation"].(map[string]interface{})
	if evalRes["passed"] != false {
		t.Errorf("expected passed=false when field b is missing, got %+v", evalRes)
	}
}

func TestExecutionControlAppliesATerminatePatch(t *testing.T) {
	n := &executionControlNode{}
	var captured engine.ContextPatch
	nctx := &engine.NodeContext{UpdateExecutionContext: func(p engine.ContextPatch) { captured = p }}
	input := engine.NodeInput{Metadata: engine.NodeInputMetadata{NodeConfig: map[string]interface{}{"terminate": true, "maxLoops": float64(3)}}}

	out, err := n.Execute(context.Background(), input, nctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data["controlApplied"] != true {
		t.Errorf("expected controlApplied=true, got %+v", out.Data)
	}
	if captured.Terminate == nil || !*captured.Terminate {
		t.Errorf("expected Terminate patch to be true, got %+v", captured)
	}
	if captured.MaxLoops == nil || *captured.MaxLoops != 3 {
		t.Errorf("expected MaxLoops patch of 3, got %+v", captured)
	}
}
