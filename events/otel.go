package events

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTel turns runtime events into OpenTelemetry spans.
//
// Each event becomes a point-in-time span named after the event message,
// with trace id, step and node id as attributes and an error status when
// the event carries one. Wire it up with an SDK tracer provider:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := events.NewOTel(otel.Tracer("orka"))
type OTel struct {
	tracer trace.Tracer
}

// NewOTel creates the emitter around a tracer.
func NewOTel(tracer trace.Tracer) *OTel {
	return &OTel{tracer: tracer}
}

// Emit implements Emitter.
func (o *OTel) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("orka.trace_id", event.TraceID),
		attribute.Int("orka.step", event.Step),
		attribute.String("orka.node_id", event.NodeID),
	)
	for k, v := range event.Meta {
		span.SetAttributes(metaAttribute("orka.meta."+k, v))
	}
	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// Flush implements Emitter by force-flushing the global provider when it
// supports it (the SDK provider does; the noop provider does not).
func (o *OTel) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func metaAttribute(key string, v interface{}) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	default:
		return attribute.String(key, fmt.Sprintf("%v", val))
	}
}
