// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"context"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

const (
	// TraceEndpointEnvKey names the OTLP gRPC endpoint that request
	// spans are exported to. Tracing is off when it is empty.
	TraceEndpointEnvKey = "EXTDIRECT_TRACE_ENDPOINT"

	// TraceInsecureEnvKey, when non-empty, exports spans without TLS.
	TraceInsecureEnvKey = "EXTDIRECT_TRACE_INSECURE"
)

// startTracing installs a global tracer provider exporting to endpoint.
// The returned function flushes and stops it.
func startTracing(ctx context.Context, endpoint string, insecure bool) (func(context.Context) error, error) {
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}
	if insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(options...))
	if err != nil {
		return nil, errors.Annotatef(err, "cannot export traces to %s", endpoint)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("extdirect"),
		)),
	)
	otel.SetTracerProvider(tp)
	logger.Debugf("exporting traces to %s", endpoint)
	return tp.Shutdown, nil
}
