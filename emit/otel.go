package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by turning each snapshot event into a
// point-in-time span: name is event.Msg, attributes carry runID, step,
// nodeID, nodeType, reason, and every Meta field, and the span is ended
// immediately after creation since a snapshot has no duration of its own.
type OTelEmitter struct {
	tracer trace.Tracer
	spans  []trace.Span // track spans for batching
}

// NewOTelEmitter builds an OTelEmitter from tracer (e.g. otel.Tracer("workflow-engine")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{
		tracer: tracer,
		spans:  make([]trace.Span, 0),
	}
}

// Emit creates and immediately ends a span for event.
func (o *OTelEmitter) Emit(event Event) {
	// Create span with event message as name
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	// Add standard attributes
	o.addStandardAttributes(span, event)

	// Add metadata as attributes
	o.addMetadataAttributes(span, event.Meta)

	// Add concurrency attributes if present
	o.addConcurrencyAttributes(span, event.Meta)

	// Set error status if present
	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// EmitBatch creates one span per event; the tracer provider's batch
// span processor handles export efficiency, not this method.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)

		// Add standard attributes
		o.addStandardAttributes(span, event)

		// Add metadata as attributes
		o.addMetadataAttributes(span, event.Meta)

		// Add concurrency attributes
		o.addConcurrencyAttributes(span, event.Meta)

		// Set error status if present
		if err, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, err)
			span.RecordError(fmt.Errorf("%s", err))
		}

		// End span immediately (event is a point in time)
		span.End()
	}

	return nil
}

// Flush force-exports pending spans via the global tracer provider's
// ForceFlush, if it supports one (the SDK provider does; a noop provider
// doesn't and Flush is then a no-op).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}

	return nil
}

// addStandardAttributes adds the core snapshot fields as span attributes.
func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("workflow.run_id", event.RunID),
		attribute.Int("workflow.step", event.Step),
		attribute.String("workflow.node_id", event.NodeID),
	)
	if event.NodeType != "" {
		span.SetAttributes(attribute.String("workflow.node_type", event.NodeType))
	}
	if event.Reason != "" {
		span.SetAttributes(attribute.String("workflow.snapshot_reason", event.Reason))
	}
}

// addMetadataAttributes converts Meta entries to span attributes, mapping
// the retrieval/control counters worker.SnapshotEmitter sets (loopCount,
// retrievalRequests) to workflow.* semantic names.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	if meta == nil {
		return
	}

	for key, value := range meta {
		if key == "step_id" || key == "order_key" || key == "attempt" {
			continue
		}

		attrKey := key
		switch key {
		case "loopCount":
			attrKey = "workflow.control.loop_count"
		case "retrievalRequests":
			attrKey = "workflow.retrieval.total_requests"
		case "tokens_in":
			attrKey = "workflow.llm.tokens_in"
		case "tokens_out":
			attrKey = "workflow.llm.tokens_out"
		case "cost_usd":
			attrKey = "workflow.llm.cost_usd"
		case "latency_ms":
			attrKey = "workflow.node.latency_ms"
		case "model":
			attrKey = "workflow.llm.model"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}

// addConcurrencyAttributes adds retry/replay bookkeeping attributes when
// present in Meta (step_id, order_key, attempt) — set by callers that run
// deterministic-replay or retry-tracking on top of the emitter.
func (o *OTelEmitter) addConcurrencyAttributes(span trace.Span, meta map[string]interface{}) {
	if meta == nil {
		return
	}

	if stepID, ok := meta["step_id"].(string); ok {
		span.SetAttributes(attribute.String("workflow.step_id", stepID))
	}
	if orderKey, ok := meta["order_key"].(string); ok {
		span.SetAttributes(attribute.String("workflow.order_key", orderKey))
	}
	if attempt, ok := meta["attempt"].(int); ok {
		span.SetAttributes(attribute.Int("workflow.attempt", attempt))
	} else if attempt, ok := meta["attempt"].(int64); ok {
		span.SetAttributes(attribute.Int64("workflow.attempt", attempt))
	}
}
