package events

import (
	"context"
	"sync"
)

// Buffered captures events in memory, organized per trace. Intended for
// tests, debugging and post-run analysis; it grows without bound, so
// clear traces you are done with.
type Buffered struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// Filter narrows a History query. Zero fields match everything; set
// fields combine with AND.
type Filter struct {
	NodeID string
	Msg    string
}

// NewBuffered creates a Buffered emitter.
func NewBuffered() *Buffered {
	return &Buffered{events: make(map[string][]Event)}
}

// Emit implements Emitter.
func (b *Buffered) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.TraceID] = append(b.events[event.TraceID], event)
}

// Flush implements Emitter.
func (*Buffered) Flush(context.Context) error { return nil }

// History returns the captured events of one trace in emission order.
func (b *Buffered) History(traceID string) []Event {
	return b.HistoryWithFilter(traceID, Filter{})
}

// HistoryWithFilter returns the trace's events matching the filter.
func (b *Buffered) HistoryWithFilter(traceID string, f Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.events[traceID] {
		if f.NodeID != "" && e.NodeID != f.NodeID {
			continue
		}
		if f.Msg != "" && e.Msg != f.Msg {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Clear drops the events of one trace.
func (b *Buffered) Clear(traceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, traceID)
}
