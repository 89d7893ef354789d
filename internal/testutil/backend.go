// Package testutil provides a scripted fake backend for relay tests.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// Step is one scripted reply. The last step of a route repeats forever.
type Step struct {
	Status  int
	Body    any
	Delay   time.Duration
	Headers map[string]string
}

// Reply returns a JSON step. A string body is sent as text/plain.
func Reply(status int, body any) Step {
	return Step{Status: status, Body: body}
}

// Slow returns a step that answers only after delay.
func Slow(delay time.Duration, status int, body any) Step {
	return Step{Status: status, Body: body, Delay: delay}
}

// Backend is an echo server answering from per-route scripts.
type Backend struct {
	Echo   *echo.Echo
	Server *httptest.Server

	mu      sync.Mutex
	scripts map[string][]Step
	hits    map[string]int
	headers map[string]http.Header
	bodies  map[string][]byte
}

// NewBackend starts a backend that is shut down when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	b := &Backend{
		Echo:    e,
		scripts: map[string][]Step{},
		hits:    map[string]int{},
		headers: map[string]http.Header{},
		bodies:  map[string][]byte{},
	}
	b.Server = httptest.NewServer(e)
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the backend base URL.
func (b *Backend) URL() string {
	return b.Server.URL
}

func routeKey(method, path string) string {
	return method + " " + path
}

// Handle scripts the replies of method+path. Calling it again replaces the script.
func (b *Backend) Handle(method, path string, steps ...Step) {
	key := routeKey(method, path)
	b.mu.Lock()
	_, registered := b.scripts[key]
	b.scripts[key] = steps
	b.mu.Unlock()
	if registered {
		return
	}

	b.Echo.Add(method, path, func(c echo.Context) error {
		step := b.next(key, c.Request())
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-c.Request().Context().Done():
				return nil
			}
		}
		for k, v := range step.Headers {
			c.Response().Header().Set(k, v)
		}
		switch v := step.Body.(type) {
		case nil:
			return c.NoContent(step.Status)
		case string:
			return c.String(step.Status, v)
		default:
			return c.JSON(step.Status, v)
		}
	})
}

func (b *Backend) next(key string, req *http.Request) Step {
	body, _ := io.ReadAll(req.Body)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.headers[key] = req.Header.Clone()
	b.bodies[key] = body
	n := b.hits[key]
	b.hits[key] = n + 1

	steps := b.scripts[key]
	if len(steps) == 0 {
		return Step{Status: http.StatusNotImplemented, Body: map[string]string{"message": fmt.Sprintf("no script for %s", key)}}
	}
	if n >= len(steps) {
		return steps[len(steps)-1]
	}
	return steps[n]
}

// Hits returns how many requests method+path received.
func (b *Backend) Hits(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[routeKey(method, path)]
}

// TotalHits returns the number of requests across all routes.
func (b *Backend) TotalHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.hits {
		total += n
	}
	return total
}

// LastHeaders returns the headers of the latest request to method+path.
func (b *Backend) LastHeaders(method, path string) http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.headers[routeKey(method, path)]
}

// LastBody returns the body of the latest request to method+path.
func (b *Backend) LastBody(method, path string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[routeKey(method, path)]
}

// ClosedURL returns the address of a server that has already shut down, so
// every connection attempt fails.
func ClosedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}
