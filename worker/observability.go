package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/emit"
	"github.com/flowforge/workflow-engine/engine"
	"github.com/flowforge/workflow-engine/storegw"
	"github.com/go-logr/logr"
)

// SnapshotEmitter translates engine.SnapshotArgs into an emit.Event and
// writes it to Gateway's transactional outbox rather than delivering it
// directly: engine.Run calls the sink synchronously on its hot path, and
// a slow or unavailable observability backend must never stall a
// workflow step. OutboxDrainer is the other half — it drains these rows
// and hands them to the real emit.Emitter. One Engine serves many
// concurrent executions, so the returned sink is process-wide;
// a.ExecutionID disambiguates which run a given snapshot belongs to.
func SnapshotEmitter(gw storegw.Gateway, idgen clockid.IDGen, log logr.Logger) func(engine.SnapshotArgs) {
	return func(a engine.SnapshotArgs) {
		var meta map[string]interface{}
		if a.State != nil {
			meta = map[string]interface{}{
				"loopCount":         a.State.Control.LoopCount,
				"retrievalRequests": a.State.Retrieval.TotalRequests,
			}
		}
		payload, err := json.Marshal(emit.Event{
			RunID:    a.ExecutionID,
			Step:     a.Sequence,
			NodeID:   a.NodeID,
			NodeType: a.NodeType,
			Reason:   a.Reason,
			Msg:      "context_snapshot",
			Meta:     meta,
		})
		if err != nil {
			log.Error(err, "worker: marshal snapshot event", "executionID", a.ExecutionID)
			return
		}
		if err := gw.SaveOutboxEvent(context.Background(), idgen.NewID(), a.ExecutionID, payload); err != nil {
			log.Error(err, "worker: save outbox event", "executionID", a.ExecutionID)
		}
	}
}

// OutboxDrainer periodically moves pending rows out of Gateway's
// transactional outbox and delivers them to an emit.Emitter, then marks
// them emitted. It decouples observability delivery from the engine's
// execution path and survives a worker crash between the two: rows left
// unmarked are simply redelivered on the next drain.
type OutboxDrainer struct {
	Gateway storegw.Gateway
	Emitter emit.Emitter
	Log     logr.Logger
	BatchSize int
}

// NewOutboxDrainer builds an OutboxDrainer with a sensible default batch size.
func NewOutboxDrainer(gw storegw.Gateway, e emit.Emitter, log logr.Logger) *OutboxDrainer {
	return &OutboxDrainer{Gateway: gw, Emitter: e, Log: log, BatchSize: 100}
}

// DrainOnce delivers at most one batch of pending events and marks the
// delivered ones emitted. It returns the number of events delivered.
func (d *OutboxDrainer) DrainOnce(ctx context.Context) (int, error) {
	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	events, err := d.Gateway.PendingEvents(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		var decoded emit.Event
		if err := json.Unmarshal([]byte(ev.EventJSON), &decoded); err != nil {
			d.Log.Error(err, "worker: decode outbox event", "eventID", ev.ID)
			ids = append(ids, ev.ID) // malformed rows can never be redelivered successfully
			continue
		}
		d.Emitter.Emit(decoded)
		ids = append(ids, ev.ID)
	}
	if err := d.Gateway.MarkEventsEmitted(ctx, ids); err != nil {
		return 0, err
	}
	return len(events), nil
}

// Run drains the outbox on the given interval until ctx is cancelled.
func (d *OutboxDrainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.Log.Error(err, "worker: drain outbox")
			}
		}
	}
}
