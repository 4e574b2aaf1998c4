package nodes

import (
	"context"
	"testing"

	"github.com/flowforge/workflow-engine/engine"
)

func TestManualTriggerPassesThroughTheTriggerPayload(t *testing.T) {
	n := &manualTriggerNode{}
	out, err := n.Execute(context.Background(), engine.NodeInput{Data: map[string]interface{}{"x": 1}}, &engine.NodeContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data["x"] != 1 {
		t.Errorf("expected passthrough data, got %+v", out.Data)
	}
	if out.Metadata["trigger"] != "manual" {
		t.Errorf("expected trigger metadata manual, got %+v", out.Metadata)
	}
}

func TestScheduleTriggerValidateRequiresCronOrInterval(t *testing.T) {
	n := &scheduleTriggerNode{}
	if res := n.Validate(map[string]interface{}{}); res.Valid {
		t.Error("expected validation to fail without cron or intervalMs")
	}
}

func TestScheduleTriggerValidateAcceptsAValidCron(t *testing.T) {
	n := &scheduleTriggerNode{}
	res := n.Validate(map[string]interface{}{"cron": "*/5 * * * *"})
	if !res.Valid {
		t.Errorf("expected a valid cron to validate, got errors %v", res.Errors)
	}
}

func TestScheduleTriggerValidateRejectsAMalformedCron(t *testing.T) {
	n := &scheduleTriggerNode{}
	res := n.Validate(map[string]interface{}{"cron": "not a cron"})
	if res.Valid {
		t.Error("expected a malformed cron to fail validation")
	}
}

func TestScheduleTriggerValidateRejectsAnIntervalBelowOneMinute(t *testing.T) {
	n := &scheduleTriggerNode{}
	res := n.Validate(map[string]interface{}{"intervalMs": float64(1000)})
	if res.Valid {
		t.Error("expected intervalMs below 60000 to fail validation")
	}
}
