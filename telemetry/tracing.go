package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rgeissen/turnengine/core"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Provider wraps an OpenTelemetry TracerProvider and Meter, satisfying
// core.Telemetry. Construct one per process via NewProvider; wire it
// wherever a component needs core.Telemetry.
type Provider struct {
	tracer oteltrace.Tracer
	meter  metric.Meter
	tp     *sdktrace.TracerProvider
}

// NewProvider configures an OTLP gRPC exporter when cfg.Endpoint is set,
// falling back to a stdout exporter for local development, matching the
// exporter-selection pattern used across the pack for OpenTelemetry setup.
func NewProvider(ctx context.Context, cfg core.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if cfg.Endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tracer: tp.Tracer(cfg.ServiceName),
		meter:  otel.GetMeterProvider().Meter(cfg.ServiceName),
		tp:     tp,
	}, nil
}

// Shutdown flushes pending spans; call during process shutdown.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	if p == nil {
		return core.NoOpTelemetry{}.StartSpan(ctx, name)
	}
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	if p == nil || p.meter == nil {
		return
	}
	counter, err := p.meter.Float64Counter(name)
	if err != nil {
		return
	}
	var attrs []attribute.KeyValue
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otelSpan) AddEvent(name string, attrs map[string]interface{}) {
	var kvs []attribute.KeyValue
	for k, v := range attrs {
		kvs = append(kvs, toAttribute(k, v))
	}
	s.span.AddEvent(name, oteltrace.WithAttributes(kvs...))
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// TraceIDFromContext extracts the hex-encoded trace ID from ctx, or "" if
// there is no active span.
func TraceIDFromContext(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// NewTracedHTTPClient wraps baseTransport (or http.DefaultTransport) with
// otelhttp instrumentation so outbound tool/prompt calls propagate trace
// context via W3C traceparent headers.
func NewTracedHTTPClient(baseTransport http.RoundTripper) *http.Client {
	if baseTransport == nil {
		baseTransport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &http.Client{Transport: otelhttp.NewTransport(baseTransport)}
}
