package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-compose/internal/config"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// composeAttributes describes the node and the audio it renders.
func composeAttributes(cfg config.Config) []attribute.KeyValue {
	sampler := "off"
	if cfg.Sampler.Enabled {
		sampler = cfg.Sampler.Mode
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.RuntimeName),
		semconv.ServiceInstanceID(cfg.Node.ID),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.String("compose.node.role", cfg.Node.Role),
		attribute.Int("compose.synth.sample_rate", cfg.Synth.SampleRate),
		attribute.Int("compose.synth.channels", cfg.Synth.Channels),
		attribute.String("compose.sampler", sampler),
		attribute.Float64Slice("compose.window", []float64{cfg.Composer.MinDuration, cfg.Composer.MaxDuration}),
		attribute.String("compose.history.retention", cfg.History.RetentionMode),
	}
	if cfg.Bus.Enabled && cfg.Bus.Embedded {
		attrs = append(attrs, attribute.Int("compose.bus.max_payload_bytes", cfg.Bus.MaxPayload))
	}
	return attrs
}

func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(composeAttributes(cfg)...))
	if err != nil {
		return nil, nil, err
	}

	traceProvider, traceShutdown, err := initTracer(ctx, cfg, res, logger)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(traceProvider)

	meterProvider, metricHandler := initMetrics(cfg, res, logger)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		var errs []error
		if err := meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := traceShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return shutdown, metricHandler, nil
}

func initTracer(ctx context.Context, cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		logger.Info("telemetry initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
		return tp, tp.Shutdown, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	logger.Info("telemetry initialized", slog.String("exporter", "stdout"))
	return tp, tp.Shutdown, nil
}

// initMetrics exports otel instruments through a private prometheus registry
// alongside Go runtime collectors and a constant compose_info series.
func initMetrics(cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		composeInfo(cfg),
	)
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return meter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func composeInfo(cfg config.Config) prom.Collector {
	info := prom.NewGauge(prom.GaugeOpts{
		Namespace: "loqa",
		Name:      "compose_info",
		Help:      "Static render settings of this composer node.",
		ConstLabels: prom.Labels{
			"node_id":     cfg.Node.ID,
			"sample_rate": strconv.Itoa(cfg.Synth.SampleRate),
			"channels":    strconv.Itoa(cfg.Synth.Channels),
			"sampler":     strconv.FormatBool(cfg.Sampler.Enabled),
		},
	})
	info.Set(1)
	return info
}
