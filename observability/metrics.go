package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc/credentials/insecure"
)

// OTLP protocols
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// createMetricExporter creates a metric exporter for the configured exporter name.
func createMetricExporter(ctx context.Context, cfg *Config, out io.Writer) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		opts := []stdoutmetric.Option{stdoutmetric.WithPrettyPrint()}
		if out != nil {
			opts = append(opts, stdoutmetric.WithWriter(out))
		}
		return stdoutmetric.New(opts...)
	case ExporterOTLP:
		if cfg.Endpoint == "" {
			return nil, ErrMissingEndpoint
		}
		switch cfg.Protocol {
		case "", ProtocolHTTP:
			return createOTLPHTTPExporter(ctx, cfg)
		case ProtocolGRPC:
			return createOTLPGRPCExporter(ctx, cfg)
		default:
			return nil, fmt.Errorf("metrics protocol %q: %w", cfg.Protocol, ErrInvalidProtocol)
		}
	default:
		return nil, fmt.Errorf("exporter %q: %w", cfg.Exporter, ErrInvalidExporter)
	}
}

func createOTLPHTTPExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	return otlpmetrichttp.New(ctx, opts...)
}

// createOTLPGRPCExporter dials lazily, so an unreachable collector surfaces on export rather than here.
func createOTLPGRPCExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}
