package observability

import "errors"

// ErrInvalidExporter is returned when the exporter is neither "stdout" nor "otlp".
var ErrInvalidExporter = errors.New("observability: exporter must be either 'stdout' or 'otlp'")

// ErrMissingEndpoint is returned when the otlp exporter has no endpoint.
var ErrMissingEndpoint = errors.New("observability: endpoint is required for the otlp exporter")

// ErrInvalidProtocol is returned when the otlp protocol is neither "http" nor "grpc".
var ErrInvalidProtocol = errors.New("observability: protocol must be either 'http' or 'grpc'")
