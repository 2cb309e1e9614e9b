// Package telemetry bootstraps the process-wide OpenTelemetry
// TracerProvider and MeterProvider. There is exactly one
// bundle of observability state, built once at startup by Init and
// torn down explicitly by the returned shutdown func, rather than a
// lazily-constructed global any package reaches for on its own.
//
// Stdout exporters are the default (via
// go.opentelemetry.io/otel/exporters/stdout/{stdouttrace,stdoutmetric})
// with an optional OTLP-HTTP metric exporter
// (otlpmetric/otlpmetrichttp) when ATLAS_OTEL_METRICS_ENDPOINT is set.
// Every component package (pool, cache, backup, txn) calls
// otel.Tracer/otel.Meter against the process-wide global provider;
// Init only decides what those global providers point at.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config controls Init's exporter selection. The zero value is a
// reasonable default: traces to Writer, metrics to Writer on a 30s
// interval, with a nil Writer discarding both.
type Config struct {
	ServiceName string
	// Writer receives stdout-exporter output; nil defaults to
	// io.Discard so tests and the CLI don't spam the terminal unless
	// asked to (ATLAS_OTEL_DEBUG=1 points this at os.Stdout).
	Writer io.Writer
	// OTLPMetricEndpoint, if set, replaces the stdout metric exporter
	// with an OTLP-HTTP one pointed at this host:port.
	OTLPMetricEndpoint string
}

// Provider owns the process-wide trace/metric providers and their
// shutdown.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *metric.MeterProvider
}

// Init installs the global TracerProvider and MeterProvider per cfg
// and returns the Provider whose Shutdown flushes and closes both.
// Safe to call once per process. Component packages call otel.Tracer
// and otel.Meter in package-level variables, before Init runs; those
// calls are safe: the default global providers hand out delegating
// instruments that forward to the providers Init installs.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "atlas"
	}
	writer := cfg.Writer
	if writer == nil {
		writer = io.Discard
	}
	if os.Getenv("ATLAS_OTEL_DEBUG") == "1" {
		writer = os.Stdout
	}
	if cfg.OTLPMetricEndpoint == "" {
		cfg.OTLPMetricEndpoint = os.Getenv("ATLAS_OTEL_METRICS_ENDPOINT")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(writer), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	var metricReader metric.Reader
	if cfg.OTLPMetricEndpoint != "" {
		metricExp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.OTLPMetricEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp metric exporter: %w", err)
		}
		metricReader = metric.NewPeriodicReader(metricExp, metric.WithInterval(30*time.Second))
	} else {
		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(writer))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout metric exporter: %w", err)
		}
		metricReader = metric.NewPeriodicReader(metricExp, metric.WithInterval(30*time.Second))
	}
	mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(metricReader))
	otel.SetMeterProvider(mp)

	return &Provider{tp: tp, mp: mp}, nil
}

// Shutdown flushes and closes both providers. Safe to call on a nil
// Provider (e.g. if Init failed and the caller shuts down anyway).
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
