// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry installs the OpenTelemetry tracer provider used for
// dispatch cycle and per-mail send spans.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/version"
)

const (
	DefaultServiceName = "accountdesk"

	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"

	flushTimeout = 5 * time.Second
)

type Options struct {
	// Enabled false installs a no-op provider.
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Component is recorded as the accountdesk.component resource attribute
	// so serve and one-shot dispatch runs can be told apart.
	Component    string
	Exporter     string
	Endpoint     string
	Insecure     bool
	SamplingRate float64
	Logger       *zap.SugaredLogger
}

// OptionsFrom builds Options from the telemetry section of the file config.
func OptionsFrom(cfg config.Telemetry, component string, log *zap.SugaredLogger) Options {
	return Options{
		Enabled:        cfg.Enabled,
		ServiceName:    DefaultServiceName,
		ServiceVersion: version.Version,
		Component:      component,
		Exporter:       cfg.Exporter,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		SamplingRate:   cfg.SamplingRate,
		Logger:         log,
	}
}

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs the global tracer provider and propagator. The returned
// ShutdownFunc is always safe to call.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, noopShutdown, nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("telemetry")
	opts.SamplingRate = clampSamplingRate(opts.SamplingRate, log)

	attrs := []attribute.KeyValue{
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	}
	if opts.Component != "" {
		attrs = append(attrs, attribute.String("accountdesk.component", opts.Component))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace resource: %w", err)
	}

	exporter, err := newExporter(ctx, opts, log)
	if err != nil {
		return nil, nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SamplingRate))),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("OpenTelemetry internal error", "error", err)
	}))

	log.Infow("Tracing enabled",
		"component", opts.Component,
		"exporter", opts.Exporter,
		"samplingRate", opts.SamplingRate,
	)

	return tp, func(ctx context.Context) error {
		flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
		defer cancel()
		return tp.Shutdown(flushCtx)
	}, nil
}

// newExporter returns a nil exporter for "none": spans are recorded but dropped.
func newExporter(ctx context.Context, opts Options, log *zap.SugaredLogger) (sdktrace.SpanExporter, error) {
	switch opts.Exporter {
	case ExporterOTLP, "":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		log.Debugw("OTLP exporter ready", "endpoint", opts.Endpoint, "insecure", opts.Insecure)
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q: supported values are otlp, stdout, none", opts.Exporter)
	}
}

func clampSamplingRate(rate float64, log *zap.SugaredLogger) float64 {
	if rate < 0 || rate > 1 {
		log.Warnw("Sampling rate out of range, sampling everything", "provided", rate)
		return 1.0
	}
	return rate
}
