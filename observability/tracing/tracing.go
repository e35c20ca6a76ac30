// Package tracing sets up the OpenTelemetry tracer provider the plugin
// manager reports its lifecycle spans to.
package tracing

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/go-lynx/plughost/conf"
)

// NoExport as the collector address samples spans without exporting them.
const NoExport = "None"

// Service describes the process in exported spans.
type Service struct {
	Name    string
	Version string
}

// Validate checks what NewProvider cannot fix with defaults.
func Validate(c *conf.Tracing) error {
	if c == nil {
		return nil
	}
	if c.Ratio < 0 || c.Ratio > 1 {
		return fmt.Errorf("sampling ratio must be between 0 and 1, got %f", c.Ratio)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("export timeout must not be negative, got %d", c.TimeoutSeconds)
	}
	return nil
}

// NewProvider builds a tracer provider from c: parent based ratio sampling,
// a resource naming svc and, unless the address is NoExport, an OTLP/gRPC
// exporter. extra options are applied last.
func NewProvider(ctx context.Context, c *conf.Tracing, svc Service, extra ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if c == nil {
		c = &conf.Tracing{Addr: NoExport, Ratio: 1}
	}
	if err := Validate(c); err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.Ratio))),
		sdktrace.WithResource(buildResource(svc)),
	}
	if c.Addr != NoExport {
		exp, err := buildExporter(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		if c.Batch {
			opts = append(opts, sdktrace.WithBatcher(exp))
		} else {
			opts = append(opts, sdktrace.WithSyncer(exp))
		}
	}
	opts = append(opts, extra...)
	return sdktrace.NewTracerProvider(opts...), nil
}

// Setup installs a provider built from c as the global tracer provider,
// with W3C trace context and baggage propagation. The returned func flushes
// and shuts the provider down.
func Setup(ctx context.Context, c *conf.Tracing, svc Service, extra ...sdktrace.TracerProviderOption) (func(context.Context) error, error) {
	tp, err := NewProvider(ctx, c, svc, extra...)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return func(ctx context.Context) error {
		if err := tp.ForceFlush(ctx); err != nil {
			return fmt.Errorf("failed to flush tracer provider: %w", err)
		}
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}

func buildExporter(ctx context.Context, c *conf.Tracing) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.Addr)}
	if c.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(c.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(c.Headers))
	}
	if c.TimeoutSeconds > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(time.Duration(c.TimeoutSeconds)*time.Second))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func buildResource(svc Service) *resource.Resource {
	host, _ := os.Hostname()
	return resource.NewSchemaless(
		semconv.ServiceName(svc.Name),
		semconv.ServiceVersion(svc.Version),
		semconv.ServiceInstanceID(host),
	)
}
