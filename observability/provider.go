// Package observability installs the OpenTelemetry meter provider that relay's
// instruments report to.
package observability

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

// Exporter names
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// DefaultInterval is the export interval used when none is configured.
const DefaultInterval = 30 * time.Second

// Config selects the metric exporter. Exporter is "stdout" or "otlp"; the otlp
// exporter sends to Endpoint (host:port) over Protocol, "http" when empty.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Exporter       string
	Endpoint       string
	Protocol       string
	Insecure       bool
	Headers        map[string]string
	Interval       time.Duration
}

// Provider manages the lifecycle of the meter provider.
type Provider interface {
	MeterProvider() metric.MeterProvider

	// Shutdown flushes pending data and stops the exporter.
	Shutdown(ctx context.Context) error

	ForceFlush(ctx context.Context) error
}

// Option customizes NewProvider.
type Option func(*providerOptions)

type providerOptions struct {
	reader sdkmetric.Reader
	writer io.Writer
}

// WithReader replaces the periodic exporter with the given reader. Tests pass a ManualReader.
func WithReader(r sdkmetric.Reader) Option {
	return func(o *providerOptions) { o.reader = r }
}

// WithWriter sends stdout exporter output to w.
func WithWriter(w io.Writer) Option {
	return func(o *providerOptions) { o.writer = w }
}

type provider struct {
	meterProvider *sdkmetric.MeterProvider
	mu            sync.Mutex
	shutdown      bool
}

// NewProvider builds a meter provider for cfg. A disabled config yields a no-op provider.
func NewProvider(ctx context.Context, cfg *Config, opts ...Option) (Provider, error) {
	if cfg == nil || !cfg.Enabled {
		return newNoopProvider(), nil
	}

	var o providerOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, err := createResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	reader := o.reader
	if reader == nil {
		exporter, err := createMetricExporter(ctx, cfg, o.writer)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		interval := cfg.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	}

	return &provider{
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
	}, nil
}

// Setup builds a provider and registers it as the global meter provider.
func Setup(ctx context.Context, cfg *Config, opts ...Option) (Provider, error) {
	p, err := NewProvider(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(p.MeterProvider())
	return p, nil
}

// createResource merges the default resource with service attributes. The
// custom resource carries no schema URL so the merge cannot conflict.
func createResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	custom, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}
	return resource.Merge(resource.Default(), custom)
}

func (p *provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

func (p *provider) ForceFlush(ctx context.Context) error {
	return p.meterProvider.ForceFlush(ctx)
}

// Shutdown is safe to call more than once.
func (p *provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil
	}
	p.shutdown = true
	return p.meterProvider.Shutdown(ctx)
}
