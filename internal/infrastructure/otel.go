package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"polarcli/internal/config"
	"polarcli/pkg/contracts"
)

// InstrumentationName identifies polarcli tracers and meters
const InstrumentationName = "polarcli"

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up tracing and metrics according to cfg. Disabled
// signals fall back to no-op implementations so callers never nil-check.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = GetLogger()
	}
	ctx := context.Background()

	logger.InfoContext(ctx, "Initializing OpenTelemetry",
		slog.String("service", cfg.ServiceName),
		slog.String("version", contracts.Version),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(contracts.Version),
			attribute.String("service.instance.id", generateInstanceID()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Logger: logger,
		Tracer: otel.Tracer(InstrumentationName),
		Meter:  noop.NewMeterProvider().Meter(InstrumentationName),
	}

	if cfg.EnableTracing && cfg.TraceExporter != "none" {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return providers, nil
}

// initializeTracing sets up OpenTelemetry tracing
func initializeTracing(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(contracts.Version))
	otel.SetTracerProvider(tp)

	providers.Logger.InfoContext(ctx, "Tracing initialized", slog.String("exporter", cfg.TraceExporter))
	return nil
}

// initializeMetrics wires the OTel Prometheus exporter to a private
// registry that also carries the Go runtime and process collectors.
func initializeMetrics(ctx context.Context, res *resource.Resource, providers *OTelProviders) error {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(contracts.Version))
	otel.SetMeterProvider(mp)

	providers.Logger.InfoContext(ctx, "Metrics initialized", slog.String("exporter", "prometheus"))
	return nil
}

// Metrics holds the application instruments
type Metrics struct {
	FilesLoaded        metric.Int64Counter
	EncodingFallbacks  metric.Int64Counter
	RowsConverted      metric.Int64Counter
	DegenerateRows     metric.Int64Counter
	ConversionDuration metric.Float64Histogram
	Exports            metric.Int64Counter

	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	WebSocketClients  metric.Int64UpDownCounter
	WebSocketMessages metric.Int64Counter
}

// NewMetrics creates the application instruments on meter. A nil meter
// yields no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	if m.FilesLoaded, err = meter.Int64Counter("polar.files.loaded",
		metric.WithDescription("Input files processed by the ingestion resolver")); err != nil {
		return nil, err
	}
	if m.EncodingFallbacks, err = meter.Int64Counter("polar.encoding.fallbacks",
		metric.WithDescription("Files that needed a non-first candidate or statistical detection")); err != nil {
		return nil, err
	}
	if m.RowsConverted, err = meter.Int64Counter("polar.rows.converted",
		metric.WithDescription("Samples converted to Stokes vectors")); err != nil {
		return nil, err
	}
	if m.DegenerateRows, err = meter.Int64Counter("polar.rows.degenerate",
		metric.WithDescription("Converted samples with non-finite outputs")); err != nil {
		return nil, err
	}
	if m.ConversionDuration, err = meter.Float64Histogram("polar.conversion.duration",
		metric.WithDescription("Forward transform duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.Exports, err = meter.Int64Counter("polar.exports",
		metric.WithDescription("CSV exports written")); err != nil {
		return nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter("http.requests",
		metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("http.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.WebSocketClients, err = meter.Int64UpDownCounter("polar.websocket.clients",
		metric.WithDescription("Connected progress clients")); err != nil {
		return nil, err
	}
	if m.WebSocketMessages, err = meter.Int64Counter("polar.websocket.messages",
		metric.WithDescription("Progress messages delivered or dropped")); err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments that record nothing
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(nil)
	return m
}

// RecordLoad records one ingestion attempt
func (m *Metrics) RecordLoad(ctx context.Context, encoding, resolution string, fallback bool, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.FilesLoaded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("encoding", encoding),
		attribute.String("resolution", resolution),
		attribute.String("status", status),
	))
	if fallback {
		m.EncodingFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("encoding", encoding)))
	}
}

// RecordConversion records one forward transform
func (m *Metrics) RecordConversion(ctx context.Context, rows, degenerate int, duration time.Duration) {
	m.RowsConverted.Add(ctx, int64(rows))
	if degenerate > 0 {
		m.DegenerateRows.Add(ctx, int64(degenerate))
	}
	m.ConversionDuration.Record(ctx, duration.Seconds())
}

// RecordExport records one CSV export
func (m *Metrics) RecordExport(ctx context.Context, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.Exports.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordWebSocketClients adjusts the connected client gauge by delta
func (m *Metrics) RecordWebSocketClients(ctx context.Context, delta int64) {
	m.WebSocketClients.Add(ctx, delta)
}

// RecordWebSocketBroadcast records the outcome of one broadcast
func (m *Metrics) RecordWebSocketBroadcast(ctx context.Context, messageType string, delivered, dropped int) {
	if delivered > 0 {
		m.WebSocketMessages.Add(ctx, int64(delivered), metric.WithAttributes(
			attribute.String("type", messageType), attribute.String("status", "delivered")))
	}
	if dropped > 0 {
		m.WebSocketMessages.Add(ctx, int64(dropped), metric.WithAttributes(
			attribute.String("type", messageType), attribute.String("status", "dropped")))
	}
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
