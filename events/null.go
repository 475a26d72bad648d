package events

import "context"

// Null discards every event. Useful when observability is not wanted and
// as the default when no emitter is configured.
type Null struct{}

// NewNull creates a Null emitter.
func NewNull() *Null { return &Null{} }

// Emit implements Emitter.
func (*Null) Emit(Event) {}

// Flush implements Emitter.
func (*Null) Flush(context.Context) error { return nil }
