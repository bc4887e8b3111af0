package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Span names used by the gateway. SpanAuthenticate covers a whole
// resolution; the others wrap one outbound call.
const (
	SpanAuthenticate  = "gateway.authenticate"
	SpanJWKSFetch     = "gateway.jwks.fetch"
	SpanOAuthLookup   = "gateway.oauth.token_lookup"
	SpanOAuthExchange = "gateway.oauth.exchange"
)

// Tracer starts and ends spans around gateway operations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &otelTracer{tracer: t}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(spanKind(name)),
	)
}

func spanKind(name string) trace.SpanKind {
	if name == SpanAuthenticate {
		return trace.SpanKindInternal
	}
	return trace.SpanKindClient
}

func (t *otelTracer) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// NopTracer returns a tracer whose spans are discarded.
func NopTracer() Tracer {
	return &otelTracer{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}
