// Package exporters builds the OpenTelemetry exporters the gateway can be
// configured with.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names. None and the empty string record without exporting.
const (
	None       = "none"
	Stdout     = "stdout"
	OTLP       = "otlp"
	Prometheus = "prometheus"
)

var (
	// ErrUnknown is returned for an exporter name that is not supported
	// for the signal.
	ErrUnknown = errors.New("exporters: unknown exporter")

	// ErrNoEndpoint is returned when OTLP is selected without an endpoint
	// in the environment.
	ErrNoEndpoint = errors.New("exporters: OTLP endpoint not configured")
)

var (
	tracingNames = []string{None, "", Stdout, OTLP}
	metricsNames = []string{None, "", Stdout, OTLP, Prometheus}
)

// ValidTracing reports whether name is a supported span exporter.
func ValidTracing(name string) bool { return slices.Contains(tracingNames, name) }

// ValidMetrics reports whether name is a supported metrics exporter.
func ValidMetrics(name string) bool { return slices.Contains(metricsNames, name) }

// Options are shared by every exporter.
type Options struct {
	// Writer receives stdout exporter output. Nil selects os.Stdout.
	Writer io.Writer
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

// Metrics is a metrics reader and, for a pull exporter, the handler that
// serves its scrape endpoint.
type Metrics struct {
	Reader  sdkmetric.Reader
	Handler http.Handler
}

// Tracing creates a span exporter. None returns a nil exporter.
func Tracing(ctx context.Context, name string, opts Options) (sdktrace.SpanExporter, error) {
	switch name {
	case Stdout:
		return stdouttrace.New(stdouttrace.WithWriter(opts.writer()))
	case OTLP:
		if err := requireEndpoint("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	case None, "":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: tracing %q", ErrUnknown, name)
}

// NewMetrics creates a metrics reader. None returns a zero Metrics.
//
// The prometheus exporter registers on its own registry rather than the
// process default, so the returned Handler exposes gateway instruments
// only.
func NewMetrics(ctx context.Context, name string, opts Options) (Metrics, error) {
	switch name {
	case Stdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.writer()))
		if err != nil {
			return Metrics{}, fmt.Errorf("stdout metrics exporter: %w", err)
		}
		return Metrics{Reader: sdkmetric.NewPeriodicReader(exp)}, nil

	case OTLP:
		if err := requireEndpoint("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return Metrics{}, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return Metrics{}, fmt.Errorf("otlp metrics exporter: %w", err)
		}
		return Metrics{Reader: sdkmetric.NewPeriodicReader(exp)}, nil

	case Prometheus:
		reg := prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return Metrics{}, fmt.Errorf("prometheus exporter: %w", err)
		}
		handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:      reg,
			ErrorHandling: promhttp.ContinueOnError,
		})
		return Metrics{Reader: exp, Handler: handler}, nil

	case None, "":
		return Metrics{}, nil
	}
	return Metrics{}, fmt.Errorf("%w: metrics %q", ErrUnknown, name)
}

func requireEndpoint(signalKey string) error {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv(signalKey) != "" {
		return nil
	}
	return fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or %s", ErrNoEndpoint, signalKey)
}
