// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the OpenTelemetry providers for signaltree
// binaries.
//
// Library packages only call otel.Tracer and otel.Meter. Until Init runs
// those are no-ops, so tests and embedders pay nothing. The CLI calls Init
// once at startup and the shutdown func on exit.
//
// Exporters are looked up by name in two small tables, listed by
// TraceExporters and MetricExporters. The prometheus reader is pulled
// through MetricsHandler.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNilContext is returned when Init receives a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// ExporterNone disables a signal.
const ExporterNone = "none"

// Config selects exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// TraceExporter is one of TraceExporters() or ExporterNone.
	TraceExporter string

	// MetricExporter is one of MetricExporters() or ExporterNone.
	MetricExporter string

	// OTLPEndpoint is the OTLP gRPC receiver.
	OTLPEndpoint string
	OTLPInsecure bool

	// Writer receives stdout exporter output. Defaults to os.Stderr so
	// command output on stdout stays clean.
	Writer io.Writer
}

// DefaultConfig disables both exporters. OTEL_TRACES_EXPORTER,
// OTEL_METRICS_EXPORTER and OTEL_EXPORTER_OTLP_ENDPOINT override.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "signaltree",
		ServiceVersion: "dev",
		TraceExporter:  envOr("OTEL_TRACES_EXPORTER", ExporterNone),
		MetricExporter: envOr("OTEL_METRICS_EXPORTER", ExporterNone),
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// =============================================================================
// Exporter tables
// =============================================================================

type spanExporterFunc func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error)

// metricReaderFunc builds a reader and, for pull exporters, the handler
// that serves it.
type metricReaderFunc func(cfg Config) (sdkmetric.Reader, http.Handler, error)

var spanExporters = map[string]spanExporterFunc{
	"stdout": func(_ context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(cfg.Writer), stdouttrace.WithPrettyPrint())
	},
	"otlp": func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	},
}

var metricReaders = map[string]metricReaderFunc{
	"stdout": func(cfg Config) (sdkmetric.Reader, http.Handler, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil, nil
	},
	"prometheus": func(Config) (sdkmetric.Reader, http.Handler, error) {
		exp, err := promexporter.New()
		if err != nil {
			return nil, nil, err
		}
		return exp, promhttp.Handler(), nil
	},
}

// TraceExporters lists the accepted trace exporter names.
func TraceExporters() []string { return sortedKeys(spanExporters) }

// MetricExporters lists the accepted metric exporter names.
func MetricExporters() []string { return sortedKeys(metricReaders) }

// =============================================================================
// Init
// =============================================================================

var metricsHandler atomic.Pointer[http.Handler]

// MetricsHandler returns the /metrics handler when a pull exporter is
// active, else nil. It serves both the otel instruments and the promauto
// collectors registered by the history, entities and config packages.
func MetricsHandler() http.Handler {
	if h := metricsHandler.Load(); h != nil {
		return *h
	}
	return nil
}

// Init installs global tracer and meter providers.
//
// Inputs:
//   - ctx: Used for exporter connections. Must not be nil.
//   - cfg: Exporter selection. Empty names mean ExporterNone.
//
// Outputs:
//   - shutdown: Flushes and stops every installed provider. Always call it.
//   - error: ErrNilContext, ErrUnknownExporter, or an exporter failure.
//
// Thread Safety: Call once at startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	var stops []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var result *multierror.Error
		for _, stop := range slices.Backward(stops) {
			result = multierror.Append(result, stop(ctx))
		}
		return result.ErrorOrNil()
	}

	if enabled(cfg.TraceExporter) {
		newExporter, ok := spanExporters[cfg.TraceExporter]
		if !ok {
			return nil, fmt.Errorf("init tracer: %w: %s", ErrUnknownExporter, cfg.TraceExporter)
		}
		exp, err := newExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %s exporter: %w", cfg.TraceExporter, err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}

	if enabled(cfg.MetricExporter) {
		newReader, ok := metricReaders[cfg.MetricExporter]
		if !ok {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w: %s", ErrUnknownExporter, cfg.MetricExporter)
		}
		reader, h, err := newReader(cfg)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("init meter: %s exporter: %w", cfg.MetricExporter, err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
		otel.SetMeterProvider(mp)
		if h != nil {
			metricsHandler.Store(&h)
		}
		stops = append(stops, mp.Shutdown)
	}

	return shutdown, nil
}

// LoggerWithTrace adds trace_id and span_id from ctx to logger when a
// span is recording.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

func enabled(name string) bool { return name != "" && name != ExporterNone }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
