// Package emit provides event emission and observability for graph execution.
package emit

import "context"

// Emitter is the delivery side of the outbox pattern in worker.OutboxDrainer:
// engine.Run never calls an Emitter directly (see worker.SnapshotEmitter),
// only the drainer does, off the execution hot path. Implementations must
// be non-blocking from the drainer's perspective and safe to call from a
// single drain loop; they need not be safe for concurrent Emit calls.
type Emitter interface {
	// Emit delivers a single event. Should not panic; log and swallow
	// backend errors rather than block the drain loop.
	Emit(event Event)

	// EmitBatch delivers events in order. Returns an error only on
	// catastrophic, non-retryable failure (e.g. misconfiguration);
	// per-event delivery failures should be logged, not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until buffered events are sent or ctx is done.
	// Safe to call more than once.
	Flush(ctx context.Context) error
}
