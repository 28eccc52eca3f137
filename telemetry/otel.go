// Package telemetry wires meshcore.Telemetry to the OpenTelemetry SDK.
// Grounded on gomind's telemetry/otel.go (OTelProvider, span/metric
// instrument management, idempotent shutdown), adapted from OTLP/HTTP
// exporters to stdout trace/metric exporters: this substrate has no
// collector endpoint to target in-process, so the stdout exporter
// variant of the same SDK wiring is the faithful choice (SPEC_FULL.md
// §2).
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/meshfabric/agentmesh/meshcore"
)

// OTelProvider implements meshcore.Telemetry on top of the OpenTelemetry
// SDK, exporting spans and metrics to stdout.
type OTelProvider struct {
	tracer         trace.Tracer
	meter          metric.Meter
	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	mu       sync.RWMutex
	shutdown bool

	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	instMu     sync.Mutex
}

// NewOTelProvider builds a provider that tags every span/metric with
// serviceName. The tracer and the meter are both named "meshnode".
func NewOTelProvider(serviceName string) (*OTelProvider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name cannot be empty")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String("1.0.0"),
	)

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &OTelProvider{
		tracer:         tp.Tracer("meshnode"),
		meter:          mp.Meter("meshnode"),
		traceProvider:  tp,
		metricProvider: mp,
		counters:       make(map[string]metric.Float64Counter),
		histograms:     make(map[string]metric.Float64Histogram),
	}, nil
}

// StartSpan implements meshcore.Telemetry.
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, meshcore.Span) {
	o.mu.RLock()
	shutdown := o.shutdown
	o.mu.RUnlock()
	if shutdown || o.tracer == nil {
		return ctx, noOpSpan{}
	}
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

// RecordMetric implements meshcore.Telemetry, routing by name heuristic
// to a counter or histogram instrument (gomind's contains() heuristic).
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	o.mu.RLock()
	shutdown := o.shutdown
	o.mu.RUnlock()
	if shutdown || o.meter == nil {
		return
	}

	var attrs []attribute.KeyValue
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	opt := metric.WithAttributes(attrs...)
	ctx := context.Background()

	switch {
	case isDurationMetric(name):
		hist := o.histogramFor(name)
		if hist != nil {
			hist.Record(ctx, value, opt)
		}
	default:
		counter := o.counterFor(name)
		if counter != nil {
			counter.Add(ctx, value, opt)
		}
	}
}

func isDurationMetric(name string) bool {
	for _, suffix := range []string{"duration", "latency", "time_ms", "time"} {
		if strings.Contains(name, suffix) {
			return true
		}
	}
	return false
}

func (o *OTelProvider) counterFor(name string) metric.Float64Counter {
	o.instMu.Lock()
	defer o.instMu.Unlock()
	if c, ok := o.counters[name]; ok {
		return c
	}
	c, err := o.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	o.counters[name] = c
	return c
}

func (o *OTelProvider) histogramFor(name string) metric.Float64Histogram {
	o.instMu.Lock()
	defer o.instMu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return h
	}
	h, err := o.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	o.histograms[name] = h
	return h
}

// Shutdown flushes and stops both providers. Idempotent.
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return nil
	}
	o.shutdown = true
	o.mu.Unlock()

	var errs []error
	if o.metricProvider != nil {
		if err := o.metricProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if o.traceProvider != nil {
		if err := o.traceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}
	return nil
}

type noOpSpan struct{}

func (noOpSpan) End()                             {}
func (noOpSpan) SetAttribute(string, interface{}) {}
func (noOpSpan) RecordError(error)                {}

type otelSpan struct{ span trace.Span }

func (s otelSpan) End() { s.span.End() }

func (s otelSpan) SetAttribute(key string, value interface{}) {
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

func (s otelSpan) RecordError(err error) { s.span.RecordError(err) }

var _ meshcore.Telemetry = (*OTelProvider)(nil)
