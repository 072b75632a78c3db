package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	RunCounter    metric.Int64Counter
	RunDuration   metric.Int64Histogram
	PhaseDuration metric.Int64Histogram
	TierCounter   metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "cert-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	runCounter, _ := meter.Int64Counter("cert_run_total")
	runDuration, _ := meter.Int64Histogram("cert_run_duration_ms")
	phaseDuration, _ := meter.Int64Histogram("cert_phase_duration_ms")
	tierCounter, _ := meter.Int64Counter("cert_tier_total")
	return &Observability{
		Tracer:        tracer,
		Meter:         meter,
		traceProvider: tp,
		RunCounter:    runCounter,
		RunDuration:   runDuration,
		PhaseDuration: phaseDuration,
		TierCounter:   tierCounter,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkRun(ctx context.Context, status string) {
	if o == nil {
		return
	}
	o.RunCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) MarkRunDuration(ctx context.Context, elapsed time.Duration) {
	if o == nil {
		return
	}
	o.RunDuration.Record(ctx, elapsed.Milliseconds())
}

func (o *Observability) MarkPhase(ctx context.Context, phase string, elapsed time.Duration) {
	if o == nil {
		return
	}
	o.PhaseDuration.Record(ctx, elapsed.Milliseconds(), metric.WithAttributes(
		attribute.String("phase", phase),
	))
}

func (o *Observability) MarkTier(ctx context.Context, tier string) {
	if o == nil {
		return
	}
	if tier == "" {
		tier = "none"
	}
	o.TierCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
	))
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
