package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowforge/workflow-engine/engine"
)

var conditionOperators = map[string]bool{
	"equals": true, "notEquals": true, "contains": true, "greaterThan": true,
	"lessThan": true, "exists": true, "notExists": true,
}

// conditionNode evaluates a single field/operator/value predicate over
// its input and routes via the "true"/"false" token convention.
type conditionNode struct{}

func (n *conditionNode) Type() string { return "condition" }

func (n *conditionNode) Validate(config map[string]interface{}) engine.ValidationResult {
	field, _ := config["field"].(string)
	operator, _ := config["operator"].(string)
	if field == "" {
		return engine.ValidationResult{Errors: []string{"condition node requires field"}}
	}
	if !conditionOperators[operator] {
		return engine.ValidationResult{Errors: []string{fmt.Sprintf("unknown condition operator %q", operator)}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *conditionNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	cfg := input.Metadata.NodeConfig
	field, _ := cfg["field"].(string)
	operator, _ := cfg["operator"].(string)
	want := cfg["value"]

	got, exists := engine.MemoryGet(input.Data, field)
	result := evalCondition(operator, got, exists, want)

	out := make(map[string]interface{}, len(input.Data)+1)
	for k, v := range input.Data {
		out[k] = v
	}
	out["_condition"] = map[string]interface{}{"result": result}
	return engine.NodeOutput{Data: out}, nil
}

func evalCondition(operator string, got interface{}, exists bool, want interface{}) bool {
	switch operator {
	case "exists":
		return exists
	case "notExists":
		return !exists
	case "equals":
		return exists && fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
	case "notEquals":
		return !exists || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want)
	case "contains":
		gs, _ := got.(string)
		ws, _ := want.(string)
		return exists && strings.Contains(gs, ws)
	case "greaterThan":
		gf, gok := toFloat(got)
		wf, wok := toFloat(want)
		return exists && gok && wok && gf > wf
	case "lessThan":
		gf, gok := toFloat(got)
		wf, wok := toFloat(want)
		return exists && gok && wok && gf < wf
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// evaluationNode is condition's multi-field sibling: it checks the
// configured requirements and routes via the "pass"/"fail" tokens
// instead of "true"/"false".
type evaluationNode struct{}

func (n *evaluationNode) Type() string { return "evaluation" }

func (n *evaluationNode) Validate(config map[string]interface{}) engine.ValidationResult {
	checks, _ := config["checks"].([]interface{})
	if len(checks) == 0 {
		return engine.ValidationResult{Errors: []string{"evaluation node requires at least one check"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *evaluationNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	checks, _ := input.Metadata.NodeConfig["checks"].([]interface{})
	passed := true
	for _, c := range checks {
		check, _ := c.(map[string]interface{})
		field, _ := check["field"].(string)
		operator, _ := check["operator"].(string)
		want := check["value"]
		got, exists := engine.MemoryGet(input.Data, field)
		if !evalCondition(operator, got, exists, want) {
			passed = false
			break
		}
	}

	out := make(map[string]interface{}, len(input.Data)+1)
	for k, v := range input.Data {
		out[k] = v
	}
	out["_evaluation"] = map[string]interface{}{"passed": passed}
	return engine.NodeOutput{Data: out}, nil
}

// executionControlNode mutates control-flow state directly: loop bound
// overrides and/or a terminate request the runner honors after this
// node completes.
type executionControlNode struct{}

func (n *executionControlNode) Type() string { return "execution-control" }

func (n *executionControlNode) Validate(config map[string]interface{}) engine.ValidationResult {
	return engine.ValidationResult{Valid: true}
}

func (n *executionControlNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	cfg := input.Metadata.NodeConfig
	patch := engine.ContextPatch{}
	if terminate, ok := cfg["terminate"].(bool); ok {
		patch.Terminate = &terminate
	}
	if maxLoops, ok := cfg["maxLoops"].(float64); ok {
		v := int(maxLoops)
		patch.MaxLoops = &v
	}
	if maxRetries, ok := cfg["maxRetries"].(float64); ok {
		v := int(maxRetries)
		patch.MaxRetries = &v
	}
	if nctx.UpdateExecutionContext != nil {
		nctx.UpdateExecutionContext(patch)
	}
	return engine.NodeOutput{Data: map[string]interface{}{"controlApplied": true}}, nil
}
