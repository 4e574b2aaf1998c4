package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing each snapshot event as a log
// line: JSONL (one JSON object per line) or human-readable text,
// depending on jsonMode.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter builds a LogEmitter writing to writer (os.Stdout if nil).
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes one event line.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID    string                 `json:"runID"`
		Step     int                    `json:"step"`
		NodeID   string                 `json:"nodeID"`
		NodeType string                 `json:"nodeType,omitempty"`
		Reason   string                 `json:"reason,omitempty"`
		Msg      string                 `json:"msg"`
		Meta     map[string]interface{} `json:"meta"`
	}{
		RunID:    event.RunID,
		Step:     event.Step,
		NodeID:   event.NodeID,
		NodeType: event.NodeType,
		Reason:   event.Reason,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] runID=%s step=%d nodeID=%s",
		event.Msg, event.RunID, event.Step, event.NodeID)
	if event.NodeType != "" {
		_, _ = fmt.Fprintf(l.writer, " nodeType=%s", event.NodeType)
	}
	if event.Reason != "" {
		_, _ = fmt.Fprintf(l.writer, " reason=%s", event.Reason)
	}

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			_, _ = fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes events in order; text mode gets one line each, JSON
// mode one JSONL line each.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if l.jsonMode {
		for _, event := range events {
			l.emitJSON(event)
		}
	} else {
		for _, event := range events {
			l.emitText(event)
		}
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously with no internal buffer.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
