package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Log writes events to a writer in either human-readable text or JSONL.
//
// Text mode:
//
//	[node_start] trace=run-001 step=1 node=answer
//
// JSON mode (one event per line):
//
//	{"trace_id":"run-001","step":1,"node_id":"answer","msg":"node_start"}
type Log struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLog creates a Log emitter. A nil writer defaults to stdout.
func NewLog(w io.Writer, jsonMode bool) *Log {
	if w == nil {
		w = os.Stdout
	}
	return &Log{writer: w, jsonMode: jsonMode}
}

// Emit implements Emitter.
func (l *Log) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.writeJSON(event)
		return
	}
	l.writeText(event)
}

func (l *Log) writeJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *Log) writeText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] trace=%s step=%d node=%s",
		event.Msg, event.TraceID, event.Step, event.NodeID)
	if len(event.Meta) > 0 {
		if meta, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", meta)
		}
	}
	_, _ = fmt.Fprintln(l.writer)
}

// Flush implements Emitter. Log writes through; flushing is the
// underlying writer's concern.
func (*Log) Flush(context.Context) error { return nil }
