package transport

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/casedesk/relay/logger"
	"github.com/casedesk/relay/trace"
)

const (
	// DefaultTimeout is the default timeout of interactive calls
	DefaultTimeout = 30 * time.Second

	// DefaultLongTimeout is the default timeout of long-running calls
	DefaultLongTimeout = 5 * time.Minute

	headerContentType = "Content-Type"
	headerAuth        = "Authorization"
	mimeJSON          = "application/json"
)

// Client sends requests through exactly one Profile.
type Client struct {
	profile      Profile
	httpClient   *nethttp.Client
	limiter      *rate.Limiter
	logger       logger.Logger
	interceptors []RequestInterceptor
	callCount    int64
	logPayloads  bool
}

var _ Sender = (*Client)(nil)

// Builder provides a fluent interface for configuring a profile client
type Builder struct {
	profile      Profile
	logger       logger.Logger
	sharedJar    nethttp.CookieJar
	roundTripper nethttp.RoundTripper
	tokens       TokenSource
	interceptors []RequestInterceptor
	logPayloads  bool
}

// NewBuilder creates a new client builder for the profile
func NewBuilder(profile Profile, log logger.Logger) *Builder {
	headers := make(map[string]string, len(profile.DefaultHeaders))
	for k, v := range profile.DefaultHeaders {
		headers[k] = v
	}
	profile.DefaultHeaders = headers
	return &Builder{profile: profile, logger: log}
}

// WithSharedJar sets the jar used when the profile sends cross-origin credentials
func (b *Builder) WithSharedJar(jar nethttp.CookieJar) *Builder {
	b.sharedJar = jar
	return b
}

// WithTransport overrides the round tripper, mostly for tests
func (b *Builder) WithTransport(rt nethttp.RoundTripper) *Builder {
	b.roundTripper = rt
	return b
}

// WithTokenSource sets the bearer token source for AuthBearer profiles
func (b *Builder) WithTokenSource(src TokenSource) *Builder {
	b.tokens = src
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.interceptors = append(b.interceptors, interceptor)
	return b
}

// WithPayloadLogging enables debug-level logging of request and response bodies
func (b *Builder) WithPayloadLogging(enabled bool) *Builder {
	b.logPayloads = enabled
	return b
}

// Build validates the profile and creates the client
func (b *Builder) Build() (*Client, error) {
	if err := b.profile.Validate(); err != nil {
		return nil, err
	}

	jar, err := b.jarFor(b.profile.Credentials)
	if err != nil {
		return nil, err
	}

	httpClient := &nethttp.Client{Jar: jar}
	if b.roundTripper != nil {
		httpClient.Transport = b.roundTripper
	}

	interceptors := []RequestInterceptor{NewRequestIDInterceptor()}
	if b.profile.Auth == AuthBearer && b.tokens != nil {
		interceptors = append(interceptors, NewBearerInterceptor(b.tokens))
	}
	interceptors = append(interceptors, b.interceptors...)

	var limiter *rate.Limiter
	if b.profile.RateLimit > 0 {
		burst := b.profile.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(b.profile.RateLimit), burst)
	}

	log := b.logger
	if log == nil {
		log = logger.Nop()
	}

	return &Client{
		profile:      b.profile,
		httpClient:   httpClient,
		limiter:      limiter,
		logger:       log.WithFields(map[string]any{"profile": b.profile.Name}),
		interceptors: interceptors,
		logPayloads:  b.logPayloads,
	}, nil
}

func (b *Builder) jarFor(mode CredentialMode) (nethttp.CookieJar, error) {
	switch mode {
	case CredentialsSameOrigin:
		return NewJar()
	case CredentialsCrossOrigin:
		if b.sharedJar != nil {
			return b.sharedJar, nil
		}
		return NewJar()
	default:
		return nil, nil
	}
}

// NewJar creates a cookie jar scoped by the public suffix list
func NewJar() (nethttp.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// Profile returns the profile this client sends through
func (c *Client) Profile() *Profile {
	return &c.profile
}

// Send performs one HTTP attempt. A response with any status code is returned
// without error; an error means no response was received.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.profile.TimeoutFor(req.Class))
	defer cancel()

	httpReq, err := c.buildRequest(attemptCtx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	callCount := atomic.AddInt64(&c.callCount, 1)
	logger.IncrementRoundTrips(ctx)
	c.logRequest(httpReq, req)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.AddRoundTripElapsed(ctx, int64(time.Since(start)))
		c.logger.Debug().Err(err).Str("method", req.Method).Str("path", req.Path).Msg("transport attempt failed")
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	elapsed := time.Since(start)
	logger.AddRoundTripElapsed(ctx, int64(elapsed))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
		Stats:      Stats{ElapsedTime: elapsed, CallCount: callCount},
	}
	c.logResponse(req, resp)
	return resp, nil
}

// validateRequest validates the request before sending
func (c *Client) validateRequest(req *Request) error {
	if req == nil {
		return NewValidationError("request cannot be nil", "request")
	}
	if req.Method == "" {
		return NewValidationError("method cannot be empty", "method")
	}
	if req.Path == "" {
		return NewValidationError("path cannot be empty", "path")
	}
	return nil
}

// ResolveURL joins the profile base URL with a request path and query
func (c *Client) ResolveURL(path string, query url.Values) string {
	u := strings.TrimRight(c.profile.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// buildRequest constructs an *http.Request, applies headers, and runs request interceptors
func (c *Client) buildRequest(ctx context.Context, req *Request) (*nethttp.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, req.Method, c.ResolveURL(req.Path, req.Query), body)
	if err != nil {
		return nil, NewValidationError(err.Error(), "url")
	}

	for key, value := range c.profile.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get(headerContentType) == "" && req.Body != nil {
		httpReq.Header.Set(headerContentType, mimeJSON)
	}

	for _, interceptor := range c.interceptors {
		if err := interceptor(ctx, httpReq); err != nil {
			return nil, NewInterceptorError("request interceptor failed", err)
		}
	}
	return httpReq, nil
}

func (c *Client) logRequest(httpReq *nethttp.Request, req *Request) {
	event := c.logger.Debug().
		Str("direction", "outbound").
		Str("method", req.Method).
		Str("url", httpReq.URL.String()).
		Str("class", req.Class.String())
	if c.logPayloads {
		event = event.Interface("headers", httpReq.Header)
		if len(req.Body) > 0 {
			event = event.Str("body", string(req.Body))
		}
	}
	event.Msg("relay transport request")
}

func (c *Client) logResponse(req *Request, resp *Response) {
	event := c.logger.Debug().
		Str("direction", "inbound").
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", resp.Stats.ElapsedTime).
		Int64("call_count", resp.Stats.CallCount)
	if c.logPayloads && len(resp.Body) > 0 {
		event = event.Str("body", string(resp.Body))
	}
	event.Msg("relay transport response")
}

// NewRequestIDInterceptor stamps the call's request ID on every attempt
func NewRequestIDInterceptor() RequestInterceptor {
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(trace.HeaderXRequestID) != "" {
			return nil
		}
		if id, ok := trace.RequestIDFromContext(ctx); ok {
			req.Header.Set(trace.HeaderXRequestID, id)
		}
		return nil
	}
}

// NewBearerInterceptor attaches Authorization: Bearer <token> when a token is stored.
// Requests that already carry an Authorization header are left alone.
func NewBearerInterceptor(src TokenSource) RequestInterceptor {
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(headerAuth) != "" {
			return nil
		}
		token, err := src.Token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set(headerAuth, "Bearer "+token)
		}
		return nil
	}
}
