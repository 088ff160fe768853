// Package telemetry installs the OpenTelemetry tracer provider used by the
// task store spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cexll/taskdeck/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a global tracer provider exporting over OTLP/HTTP when
// telemetry is enabled. When disabled the global no-op provider stays in
// place and the returned shutdown does nothing.
func Setup(ctx context.Context, s *config.Settings) (ShutdownFunc, error) {
	if s == nil {
		return nil, errors.New("telemetry: settings is nil")
	}
	if !s.TelemetryEnabled() {
		return noopShutdown, nil
	}
	cfg := s.Telemetry

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure != nil && *cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}
	provider := NewProvider(cfg.ServiceName, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	log.Printf("telemetry: exporting traces to %s as %q", cfg.Endpoint, cfg.ServiceName)
	return provider.Shutdown, nil
}

// NewProvider builds an SDK tracer provider tagged with the service name.
func NewProvider(serviceName string, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	all := append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	return sdktrace.NewTracerProvider(all...)
}
