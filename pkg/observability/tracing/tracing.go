package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used by all CrossCheck spans
const InstrumentationName = "github.com/crosscheckai/crosscheck"

// Exporter names accepted in Config.Exporter
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
)

// Config configures span export
type Config struct {
	Exporter    string  `yaml:"exporter" json:"exporter"`         // none, stdout, zipkin
	ZipkinURL   string  `yaml:"zipkin_url" json:"zipkin_url"`     // e.g. http://localhost:9411/api/v2/spans
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"` // 0..1, 0 means always sample
	ServiceName string  `yaml:"service_name" json:"service_name"`
}

// Provider bundles a tracer with its shutdown hook
type Provider struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Tracer returns the tracer for CrossCheck spans
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes and stops the exporter
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// NewNoop returns a provider whose spans are discarded
func NewNoop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(InstrumentationName)}
}

// Setup builds a tracer provider for cfg and installs it globally.
// An empty or "none" exporter yields a no-op provider.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	return setup(ctx, cfg, os.Stdout)
}

func setup(ctx context.Context, cfg Config, stdout io.Writer) (*Provider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	switch cfg.Exporter {
	case "", ExporterNone:
		return NewNoop(), nil
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(stdout), stdouttrace.WithPrettyPrint())
	case ExporterZipkin:
		if cfg.ZipkinURL == "" {
			return nil, fmt.Errorf("tracing: zipkin exporter requires zipkin_url")
		}
		exporter, err = zipkin.New(cfg.ZipkinURL)
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: create %s exporter: %w", cfg.Exporter, err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "crosscheck"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tracer:   tp.Tracer(InstrumentationName),
		shutdown: tp.Shutdown,
	}, nil
}
