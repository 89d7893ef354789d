package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casedesk/relay/logger"
	"github.com/casedesk/relay/trace"
)

const (
	testProfile     = "primary"
	testJSONType    = "application/json"
	testContentType = "Content-Type"
)

type roundTripperFunc func(*nethttp.Request) (*nethttp.Response, error)

func (f roundTripperFunc) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	return f(req)
}

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) { return "", errors.New("keychain locked") }

func newIPv4TestServer(t *testing.T, handler nethttp.Handler) *httptest.Server {
	t.Helper()
	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: unable to bind IPv4 listener: %v", err)
		return &httptest.Server{}
	}

	server := &httptest.Server{
		Listener: listener,
		Config:   &nethttp.Server{Handler: handler},
	}
	server.Start()
	return server
}

func testProfileFor(baseURL string) Profile {
	return Profile{
		Name:    testProfile,
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	}
}

func mustBuild(t *testing.T, b *Builder) *Client {
	t.Helper()
	c, err := b.Build()
	require.NoError(t, err)
	return c
}

func TestBuilderValidation(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		field   string
	}{
		{"missing name", Profile{BaseURL: "https://api.example.com"}, "name"},
		{"missing base url", Profile{Name: "p"}, "base_url"},
		{"relative base url", Profile{Name: "p", BaseURL: "/api"}, "base_url"},
		{"negative timeout", Profile{Name: "p", BaseURL: "https://api.example.com", Timeout: -time.Second}, "timeout"},
		{"negative rate", Profile{Name: "p", BaseURL: "https://api.example.com", RateLimit: -1}, "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(tt.profile, logger.Nop()).Build()
			require.Error(t, err)
			assert.True(t, IsErrorType(err, ValidationError))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestCredentialModes(t *testing.T) {
	shared, err := NewJar()
	require.NoError(t, err)

	t.Run("none has no jar", func(t *testing.T) {
		p := testProfileFor("https://api.example.com")
		c := mustBuild(t, NewBuilder(p, nil).WithSharedJar(shared))
		assert.Nil(t, c.httpClient.Jar)
	})

	t.Run("same-origin gets a private jar", func(t *testing.T) {
		p := testProfileFor("https://api.example.com")
		p.Credentials = CredentialsSameOrigin
		c := mustBuild(t, NewBuilder(p, nil).WithSharedJar(shared))
		require.NotNil(t, c.httpClient.Jar)
		assert.NotSame(t, shared, c.httpClient.Jar)
	})

	t.Run("cross-origin uses the shared jar", func(t *testing.T) {
		p := testProfileFor("https://api.example.com")
		p.Credentials = CredentialsCrossOrigin
		c := mustBuild(t, NewBuilder(p, nil).WithSharedJar(shared))
		assert.Same(t, shared, c.httpClient.Jar)
	})
}

func TestParseModes(t *testing.T) {
	mode, err := ParseCredentialMode("include")
	require.NoError(t, err)
	assert.Equal(t, CredentialsCrossOrigin, mode)

	mode, err = ParseCredentialMode("same-origin")
	require.NoError(t, err)
	assert.Equal(t, CredentialsSameOrigin, mode)

	_, err = ParseCredentialMode("sometimes")
	assert.Error(t, err)

	auth, err := ParseAuthMode("bearer")
	require.NoError(t, err)
	assert.Equal(t, AuthBearer, auth)

	_, err = ParseAuthMode("kerberos")
	assert.Error(t, err)
}

func TestTimeoutFor(t *testing.T) {
	p := Profile{Timeout: 5 * time.Second, LongTimeout: 10 * time.Minute}
	assert.Equal(t, 5*time.Second, p.TimeoutFor(ClassInteractive))
	assert.Equal(t, 10*time.Minute, p.TimeoutFor(ClassLongRunning))

	var zero Profile
	assert.Equal(t, DefaultTimeout, zero.TimeoutFor(ClassInteractive))
	assert.Equal(t, DefaultLongTimeout, zero.TimeoutFor(ClassLongRunning))
}

func TestSend(t *testing.T) {
	t.Run("returns any status as a response", func(t *testing.T) {
		server := newIPv4TestServer(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			assert.Equal(t, "/api/records/7", r.URL.Path)
			assert.Equal(t, "full", r.URL.Query().Get("view"))
			w.WriteHeader(nethttp.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"national id already registered"}`))
		}))
		defer server.Close()

		c := mustBuild(t, NewBuilder(testProfileFor(server.URL+"/api/"), logger.Nop()))
		resp, err := c.Send(context.Background(), &Request{
			Method: nethttp.MethodGet,
			Path:   "/records/7",
			Query:  url.Values{"view": {"full"}},
		})

		require.NoError(t, err)
		assert.Equal(t, nethttp.StatusUnprocessableEntity, resp.StatusCode)
		assert.JSONEq(t, `{"message":"national id already registered"}`, string(resp.Body))
		assert.Equal(t, int64(1), resp.Stats.CallCount)
	})

	t.Run("applies headers in order", func(t *testing.T) {
		server := newIPv4TestServer(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			assert.Equal(t, "request", r.Header.Get("X-Source"))
			assert.Equal(t, "ar", r.Header.Get("Accept-Language"))
			assert.Equal(t, testJSONType, r.Header.Get(testContentType))
			assert.Equal(t, "req-42", r.Header.Get(trace.HeaderXRequestID))
			w.WriteHeader(nethttp.StatusNoContent)
		}))
		defer server.Close()

		p := testProfileFor(server.URL)
		p.DefaultHeaders = map[string]string{"X-Source": "default", "Accept-Language": "ar"}
		c := mustBuild(t, NewBuilder(p, logger.Nop()))

		ctx := trace.WithRequestID(context.Background(), "req-42")
		resp, err := c.Send(ctx, &Request{
			Method:  nethttp.MethodPost,
			Path:    "families",
			Headers: map[string]string{"X-Source": "request"},
			Body:    []byte(`{"name":"x"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, nethttp.StatusNoContent, resp.StatusCode)
	})

	t.Run("counts round trips on the caller context", func(t *testing.T) {
		server := newIPv4TestServer(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		c := mustBuild(t, NewBuilder(testProfileFor(server.URL), logger.Nop()))
		ctx := logger.WithRoundTripCounter(context.Background())
		for range 3 {
			_, err := c.Send(ctx, &Request{Method: nethttp.MethodGet, Path: "/me"})
			require.NoError(t, err)
		}
		assert.Equal(t, int64(3), logger.GetRoundTrips(ctx))
		assert.Positive(t, logger.GetRoundTripElapsed(ctx))
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		rt := roundTripperFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
			return nil, fmt.Errorf("dial %s: connection refused", req.URL.Host)
		})
		c := mustBuild(t, NewBuilder(testProfileFor("https://api.example.com"), logger.Nop()).WithTransport(rt))
		resp, err := c.Send(context.Background(), &Request{Method: nethttp.MethodGet, Path: "/me"})
		assert.Nil(t, resp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("profile timeout surfaces as deadline exceeded", func(t *testing.T) {
		rt := roundTripperFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})
		p := testProfileFor("https://api.example.com")
		p.Timeout = 20 * time.Millisecond
		c := mustBuild(t, NewBuilder(p, logger.Nop()).WithTransport(rt))

		_, err := c.Send(context.Background(), &Request{Method: nethttp.MethodGet, Path: "/slow"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("validation errors", func(t *testing.T) {
		c := mustBuild(t, NewBuilder(testProfileFor("https://api.example.com"), logger.Nop()))
		_, err := c.Send(context.Background(), nil)
		assert.True(t, IsErrorType(err, ValidationError))
		_, err = c.Send(context.Background(), &Request{Path: "/x"})
		assert.True(t, IsErrorType(err, ValidationError))
		_, err = c.Send(context.Background(), &Request{Method: nethttp.MethodGet})
		assert.True(t, IsErrorType(err, ValidationError))
	})
}

func TestBearerInterceptor(t *testing.T) {
	var seen atomic.Value
	rt := roundTripperFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
		seen.Store(req.Header.Get("Authorization"))
		return &nethttp.Response{StatusCode: nethttp.StatusOK, Body: nethttp.NoBody, Header: nethttp.Header{}}, nil
	})

	t.Run("attached for bearer profiles", func(t *testing.T) {
		p := testProfileFor("https://api.example.com")
		p.Auth = AuthBearer
		c := mustBuild(t, NewBuilder(p, logger.Nop()).WithTransport(rt).WithTokenSource(staticTokens("tok-1")))
		_, err := c.Send(context.Background(), &Request{Method: nethttp.MethodGet, Path: "/me"})
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok-1", seen.Load())
	})

	t.Run("not attached for session profiles", func(t *testing.T) {
		p := testProfileFor("https://api.example.com")
		c := mustBuild(t, NewBuilder(p, logger.Nop()).WithTransport(rt).WithTokenSource(staticTokens("tok-1")))
		_, err := c.Send(context.Background(), &Request{Method: nethttp.MethodGet, Path: "/me"})
		require.NoError(t, err)
		assert.Equal(t, "", seen.Load())
	})

	t.Run("empty token sends no header", func(t *testing.T) {
		p := testProfileFor("https://api.example.com")
		p.Auth = AuthBearer
		c := mustBuild(t, NewBuilder(p, logger.Nop()).WithTransport(rt).WithTokenSource(staticTokens("")))
		_, err := c.Send(context.Background(), &Request{Method: nethttp.MethodGet, Path: "/me"})
		require.NoError(t, err)
		assert.Equal(t, "", seen.Load())
	})

	t.Run("token source failure is an interceptor error", func(t *testing.T) {
		p := testProfileFor("https://api.example.com")
		p.Auth = AuthBearer
		c := mustBuild(t, NewBuilder(p, logger.Nop()).WithTransport(rt).WithTokenSource(failingTokens{}))
		_, err := c.Send(context.Background(), &Request{Method: nethttp.MethodGet, Path: "/me"})
		require.Error(t, err)
		assert.True(t, IsErrorType(err, InterceptorError))
		assert.True(t, strings.Contains(err.Error(), "keychain locked"))
	})
}

func TestRateLimit(t *testing.T) {
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		return &nethttp.Response{StatusCode: nethttp.StatusOK, Body: nethttp.NoBody, Header: nethttp.Header{}}, nil
	})
	p := testProfileFor("https://api.example.com")
	p.RateLimit = 0.001
	p.RateBurst = 1
	c := mustBuild(t, NewBuilder(p, logger.Nop()).WithTransport(rt))

	_, err := c.Send(context.Background(), &Request{Method: nethttp.MethodGet, Path: "/a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Send(ctx, &Request{Method: nethttp.MethodGet, Path: "/b"})
	assert.Error(t, err)
}
