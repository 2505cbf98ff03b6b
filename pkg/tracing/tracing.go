package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"hogflow/internal/config"
)

const (
	defaultServiceName = "hogflow"
	exporterTimeout    = 5 * time.Second
)

// samplers maps the configured sampler type to a constructor taking the
// sampler param. An empty type samples everything.
var samplers = map[string]func(param float64) sdktrace.Sampler{
	"":             func(float64) sdktrace.Sampler { return sdktrace.AlwaysSample() },
	"always_on":    func(float64) sdktrace.Sampler { return sdktrace.AlwaysSample() },
	"always_off":   func(float64) sdktrace.Sampler { return sdktrace.NeverSample() },
	"traceidratio": sdktrace.TraceIDRatioBased,
	"parentbased_always_on": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	},
	"parentbased_traceidratio": func(p float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p))
	},
}

// Provider owns the exporter pipeline installed by Init. The zero value is a
// disabled provider.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

func (p *Provider) Enabled() bool {
	return p != nil && p.sdk != nil
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Init installs the W3C trace context propagator and, when tracing is enabled,
// a global tracer provider exporting over OTLP/gRPC. Propagation is installed
// either way so trace ids keep flowing through Kafka headers and envelopes.
func Init(cfg config.TracingConfig, serviceName string) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	sampler, err := NewSampler(cfg.Sampler)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(firstNonEmpty(serviceName, cfg.ServiceName, defaultServiceName)),
	)

	exporter, err := newExporter(cfg.OTLP)
	if err != nil {
		return nil, err
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk}, nil
}

func newExporter(cfg config.OTLPConfig) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exporterTimeout)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// NewSampler builds the sampler named by cfg.Type.
func NewSampler(cfg config.SamplerConfig) (sdktrace.Sampler, error) {
	build, ok := samplers[strings.ToLower(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("unknown sampler type %q", cfg.Type)
	}
	if cfg.Param < 0 || cfg.Param > 1 {
		return nil, fmt.Errorf("sampler param %v out of range [0, 1]", cfg.Param)
	}
	return build(cfg.Param), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetTracer returns a tracer from the global provider; it is a no-op tracer
// until Init enables tracing.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return GetTracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// EndSpan marks span failed when err is set, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
