package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/convertidor/internal/config"
	"github.com/loqalabs/convertidor/internal/skill"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const (
	exporterOTLP   = "otlp"
	exporterStdout = "stdout"
	exporterNone   = "none"
)

// telemetry holds the providers a runtime installs for the skill's spans
// and counters. Each runtime scrapes its own Prometheus registry.
type telemetry struct {
	exporter string
	tracer   *sdktrace.TracerProvider
	meter    *sdkmetric.MeterProvider
	registry *prom.Registry
}

// traceExporter picks where spans go: an OTLP collector when an endpoint is
// set, otherwise stdout if asked for, otherwise nowhere.
func traceExporter(cfg config.TelemetryConfig) string {
	switch {
	case strings.TrimSpace(cfg.OTLPEndpoint) != "":
		return exporterOTLP
	case cfg.StdoutTraces:
		return exporterStdout
	default:
		return exporterNone
	}
}

func newSpanExporter(ctx context.Context, kind string, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch kind {
	case exporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(strings.TrimSpace(cfg.OTLPEndpoint))}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case exporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case exporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", kind)
	}
}

func newTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceVersion(skill.Version),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	t := &telemetry{exporter: traceExporter(cfg.Telemetry)}
	spans, err := newSpanExporter(ctx, t.exporter, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("%s trace exporter: %w", t.exporter, err)
	}
	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Telemetry.TraceSampleRatio))),
	}
	if spans != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spans))
	}
	t.tracer = sdktrace.NewTracerProvider(traceOpts...)

	t.registry = prom.NewRegistry()
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reader, err := otelprom.New(otelprom.WithRegisterer(t.registry))
	if err != nil {
		_ = t.tracer.Shutdown(ctx)
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	t.meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	logger.Info("telemetry initialized",
		slog.String("exporter", t.exporter),
		slog.String("endpoint", cfg.Telemetry.OTLPEndpoint),
		slog.Float64("sample_ratio", cfg.Telemetry.TraceSampleRatio),
	)
	return t, nil
}

// install makes the providers global so otel.Tracer and otel.Meter calls in
// the skill and discovery packages reach them.
func (t *telemetry) install() {
	otel.SetTracerProvider(t.tracer)
	otel.SetMeterProvider(t.meter)
}

// metricsHandler serves the runtime's registry in the Prometheus text format.
func (t *telemetry) metricsHandler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meter.Shutdown(ctx), t.tracer.Shutdown(ctx))
}
