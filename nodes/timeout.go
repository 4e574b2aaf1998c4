package nodes

import (
	"context"
	"time"
)

// contextWithTimeoutMs derives a bounded context from ctx, clamping
// non-positive durations to a conservative default rather than
// producing an already-expired context.
func contextWithTimeoutMs(ctx context.Context, ms int) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		ms = 30000
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}
