package transport

import (
	"context"
	nethttp "net/http"
	"net/url"
	"time"
)

// Request is a single HTTP attempt relative to a profile's base URL.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
	Class   CallClass
}

// Response represents an HTTP response with tracking information.
// Any status code is a Response; only failures without a response are errors.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	CallCount   int64
}

// RequestInterceptor is called before sending the request
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// TokenSource supplies the bearer token for AuthBearer profiles.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Sender sends one attempt through a profile.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
	Profile() *Profile
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
