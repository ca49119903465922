package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	agentcore "github.com/havenrun/agentcore"
)

// otelTracer implements agentcore.Tracer against the Instruments'
// shared OTEL tracer.
type otelTracer struct {
	inner trace.Tracer
}

// NewTracer returns an agentcore.Tracer backed by inst's OTEL tracer.
// Call Init first; otherwise the returned tracer writes to a no-op
// backend.
func NewTracer(inst *Instruments) agentcore.Tracer {
	return &otelTracer{inner: inst.Tracer}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...agentcore.SpanAttr) (context.Context, agentcore.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &otelSpan{inner: span}
}

type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...agentcore.SpanAttr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...agentcore.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.inner.End() }

func toOTELAttrs(attrs []agentcore.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = toOTELAttr(a)
	}
	return out
}

func toOTELAttr(a agentcore.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}

var (
	_ agentcore.Tracer = (*otelTracer)(nil)
	_ agentcore.Span   = (*otelSpan)(nil)
)
