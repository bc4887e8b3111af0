package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records gateway admission metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordAuth records one authentication attempt. outcome is "success" or an
	// error kind such as "invalid_credential".
	RecordAuth(ctx context.Context, provider, outcome string, duration time.Duration)

	// RecordAuthz records one tool authorization decision.
	RecordAuthz(ctx context.Context, allowed bool)

	// RecordRateLimit records one rate-limit decision. scope is "identity"
	// or "tool".
	RecordRateLimit(ctx context.Context, scope string, allowed bool)

	// RecordUpstream records a call to a key-set or token endpoint.
	RecordUpstream(ctx context.Context, endpoint string, duration time.Duration, err error)
}

type otelMetrics struct {
	authTotal      metric.Int64Counter
	authDuration   metric.Float64Histogram
	authzTotal     metric.Int64Counter
	rateLimitTotal metric.Int64Counter
	upstreamTotal  metric.Int64Counter
	upstreamErrors metric.Int64Counter
	upstreamHist   metric.Float64Histogram
}

// NewMetrics creates Metrics backed by the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &otelMetrics{}
	var err error

	if m.authTotal, err = meter.Int64Counter(
		"gateway.auth.total",
		metric.WithDescription("Authentication attempts by provider and outcome"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.authDuration, err = meter.Float64Histogram(
		"gateway.auth.duration_ms",
		metric.WithDescription("Authentication latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.authzTotal, err = meter.Int64Counter(
		"gateway.authz.decisions",
		metric.WithDescription("Tool authorization decisions"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, err
	}
	if m.rateLimitTotal, err = meter.Int64Counter(
		"gateway.ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by bucket scope"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, err
	}
	if m.upstreamTotal, err = meter.Int64Counter(
		"gateway.upstream.calls",
		metric.WithDescription("Calls to key-set and token endpoints"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.upstreamErrors, err = meter.Int64Counter(
		"gateway.upstream.errors",
		metric.WithDescription("Failed calls to key-set and token endpoints"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.upstreamHist, err = meter.Float64Histogram(
		"gateway.upstream.duration_ms",
		metric.WithDescription("Upstream call latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordAuth(ctx context.Context, provider, outcome string, duration time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("auth.provider", provider),
		attribute.String("auth.outcome", outcome),
	)
	m.authTotal.Add(ctx, 1, opt)
	m.authDuration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *otelMetrics) RecordAuthz(ctx context.Context, allowed bool) {
	m.authzTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("authz.allowed", allowed)))
}

func (m *otelMetrics) RecordRateLimit(ctx context.Context, scope string, allowed bool) {
	m.rateLimitTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ratelimit.scope", scope),
		attribute.Bool("ratelimit.allowed", allowed),
	))
}

func (m *otelMetrics) RecordUpstream(ctx context.Context, endpoint string, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("upstream.endpoint", endpoint))
	m.upstreamTotal.Add(ctx, 1, opt)
	if err != nil {
		m.upstreamErrors.Add(ctx, 1, opt)
	}
	m.upstreamHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// nopMetrics discards everything.
type nopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) RecordAuth(context.Context, string, string, time.Duration)    {}
func (nopMetrics) RecordAuthz(context.Context, bool)                            {}
func (nopMetrics) RecordRateLimit(context.Context, string, bool)                {}
func (nopMetrics) RecordUpstream(context.Context, string, time.Duration, error) {}
