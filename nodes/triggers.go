package nodes

import (
	"context"

	"github.com/flowforge/workflow-engine/engine"
	"github.com/robfig/cron/v3"
)

// webhookTriggerNode and manualTriggerNode are root nodes: they carry
// no config and pass the execution's trigger payload through unchanged.
type webhookTriggerNode struct{}

func (n *webhookTriggerNode) Type() string { return "webhook-trigger" }

func (n *webhookTriggerNode) Validate(config map[string]interface{}) engine.ValidationResult {
	return engine.ValidationResult{Valid: true}
}

func (n *webhookTriggerNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	return passthroughTrigger(input, "webhook"), nil
}

type manualTriggerNode struct{}

func (n *manualTriggerNode) Type() string { return "manual-trigger" }

func (n *manualTriggerNode) Validate(config map[string]interface{}) engine.ValidationResult {
	return engine.ValidationResult{Valid: true}
}

func (n *manualTriggerNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	return passthroughTrigger(input, "manual"), nil
}

func passthroughTrigger(input engine.NodeInput, kind string) engine.NodeOutput {
	data := make(map[string]interface{}, len(input.Data))
	for k, v := range input.Data {
		data[k] = v
	}
	return engine.NodeOutput{
		Data:     data,
		Metadata: map[string]interface{}{"trigger": kind},
	}
}

// scheduleTriggerNode validates a cron expression or millisecond
// interval at DAG-validation time; the poller, not this node, decides
// when to fire an execution — at execute time it simply passes the
// trigger payload through.
type scheduleTriggerNode struct{}

func (n *scheduleTriggerNode) Type() string { return "schedule-trigger" }

func (n *scheduleTriggerNode) Validate(config map[string]interface{}) engine.ValidationResult {
	cronExpr, hasCron := config["cron"].(string)
	intervalMs, hasInterval := config["intervalMs"].(float64)
	switch {
	case hasCron && cronExpr != "":
		if err := validateCronExpr(cronExpr); err != nil {
			return engine.ValidationResult{Errors: []string{err.Error()}}
		}
		return engine.ValidationResult{Valid: true}
	case hasInterval:
		if intervalMs < 60000 {
			return engine.ValidationResult{Errors: []string{"intervalMs must be >= 60000"}}
		}
		return engine.ValidationResult{Valid: true}
	default:
		return engine.ValidationResult{Errors: []string{"schedule-trigger requires cron or intervalMs"}}
	}
}

func (n *scheduleTriggerNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	return passthroughTrigger(input, "schedule"), nil
}

// validateCronExpr checks only that expr parses as a valid 5/6-field
// cron schedule; the poller's own approximateCronInterval (§4.9) decides
// firing cadence rather than this parser's Schedule.Next.
func validateCronExpr(expr string) error {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}
