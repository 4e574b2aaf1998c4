package emit

import "context"

// MultiEmitter fans an event out to multiple backends: a worker process
// can run a LogEmitter and an OTelEmitter side by side without either
// depending on the other.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter builds a MultiEmitter over the given backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

func (m *MultiEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range m.emitters {
		if err := e.EmitBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiEmitter) Flush(ctx context.Context) error {
	for _, e := range m.emitters {
		if err := e.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
