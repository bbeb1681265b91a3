package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelProvider implements the Telemetry/Span interfaces on top of
// OpenTelemetry, exporting traces via OTLP/gRPC and metrics in-process
// (no metric exporter is wired by default: RecordMetric always updates
// the cached instruments, which a caller can additionally read via
// sdkmetric's manual reader if they construct their own MeterProvider).
// When endpoint is empty, traces are written to stdout instead — this
// keeps local development and tests free of a collector dependency.
type OTelProvider struct {
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
	metrics       *MetricInstruments
	shutdownOnce  sync.Once
	shutdown      bool
	mu            sync.RWMutex
}

// NewOTelProvider creates a telemetry provider for serviceName. If
// endpoint is empty, traces are exported to stdout; otherwise an
// OTLP/gRPC exporter is dialed against endpoint (e.g. "localhost:4317").
func NewOTelProvider(serviceName, endpoint string) (*OTelProvider, error) {
	logger := GetLogger()

	if serviceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String("1.0.0"),
	)

	ctx := context.Background()

	var traceExporter sdktrace.SpanExporter
	var err error
	if endpoint == "" {
		logger.Debug("No OTLP endpoint configured, exporting traces to stdout", nil)
		traceExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		logger.Debug("Creating OTLP/gRPC trace exporter", map[string]interface{}{"endpoint": endpoint})
		traceExporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		logger.Error("Failed to create trace exporter", map[string]interface{}{"error": err.Error(), "endpoint": endpoint})
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	provider := &OTelProvider{
		tracer:  tp.Tracer("l0"),
		meter:   mp.Meter("l0"),
		traceProvider: tp,
		metrics: NewMetricInstruments("l0"),
	}

	logger.Info("OpenTelemetry provider initialized", map[string]interface{}{
		"service_name": serviceName,
		"endpoint":     endpoint,
	})

	return provider, nil
}

// StartSpan starts a new span. Callers use this both for a per-session
// span and a per-attempt child span; the caller is responsible for
// setting l0.session.id / l0.attempt.index attributes.
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	o.mu.RLock()
	shutdown := o.shutdown
	o.mu.RUnlock()
	if shutdown || o.tracer == nil {
		return ctx, noOpSpan{}
	}

	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric routes value to a counter or histogram based on a name
// heuristic: a name containing "duration"/"latency"/"ms" is a histogram;
// otherwise a name containing "count"/"total"/"retries"/"fallbacks"/
// "violations"/"attempts" is a cumulative counter; everything else is a
// histogram.
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	o.mu.RLock()
	shutdown := o.shutdown
	o.mu.RUnlock()
	if shutdown || o.metrics == nil {
		return
	}

	ctx := context.Background()
	var attrs []attribute.KeyValue
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	switch {
	case contains(name, "duration", "latency", "ms"):
		_ = o.metrics.RecordHistogram(ctx, name, value, metric.WithAttributes(attrs...))
	case contains(name, "count", "total", "retries", "fallbacks", "violations", "attempts"):
		_ = o.metrics.RecordCounter(ctx, name, int64(value), metric.WithAttributes(attrs...))
	default:
		_ = o.metrics.RecordHistogram(ctx, name, value, metric.WithAttributes(attrs...))
	}
}

func contains(name string, substrings ...string) bool {
	for _, substr := range substrings {
		if len(name) >= len(substr) &&
			(name[len(name)-len(substr):] == substr || name[:len(substr)] == substr) {
			return true
		}
	}
	return false
}

// Shutdown flushes and tears down the trace/metric providers. Safe to
// call multiple times.
func (o *OTelProvider) Shutdown(ctx context.Context) (shutdownErr error) {
	logger := GetLogger()
	o.shutdownOnce.Do(func() {
		o.mu.Lock()
		o.shutdown = true
		o.mu.Unlock()
		shutdownErr = o.doShutdown(ctx, logger)
	})
	return shutdownErr
}

func (o *OTelProvider) doShutdown(ctx context.Context, logger *StructuredLogger) error {
	var errs []error

	if err := o.metrics.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	if o.traceProvider != nil {
		if err := o.traceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		logger.Error("OpenTelemetry provider shutdown completed with errors", map[string]interface{}{
			"error_count": len(errs),
			"errors":      fmt.Sprintf("%v", errs),
		})
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
