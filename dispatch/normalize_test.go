package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/casedesk/relay/transport"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func resp(status int, body string) *transport.Response {
	return &transport.Response{StatusCode: status, Body: []byte(body), Headers: http.Header{}}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		raw       RawFailure
		kind      Kind
		status    int
		message   string
		cancelled bool
	}{
		{name: "aborted without response", raw: RawFailure{Err: errors.New("boom"), Aborted: true}, kind: KindUnknown, cancelled: true},
		{name: "context canceled", raw: RawFailure{Err: fmt.Errorf("send: %w", context.Canceled)}, kind: KindUnknown, cancelled: true},
		{name: "deadline exceeded", raw: RawFailure{Err: fmt.Errorf("send: %w", context.DeadlineExceeded)}, kind: KindTimeout},
		{name: "net timeout", raw: RawFailure{Err: timeoutErr{}}, kind: KindTimeout},
		{name: "connection refused", raw: RawFailure{Err: errors.New("dial tcp: connection refused")}, kind: KindNetwork},
		{name: "request construction", raw: RawFailure{Err: transport.NewValidationError("bad", "url")}, kind: KindUnknown},
		{name: "401", raw: RawFailure{Response: resp(401, `{"message":"invalid credentials"}`)}, kind: KindUnauthorized, status: 401, message: "invalid credentials"},
		{name: "403", raw: RawFailure{Response: resp(403, `{"error":"forbidden origin"}`)}, kind: KindClientError, status: 403, message: "forbidden origin"},
		{name: "500", raw: RawFailure{Response: resp(500, `{"msg":"boom"}`)}, kind: KindServerError, status: 500, message: "boom"},
		{name: "502 text body", raw: RawFailure{Response: resp(502, "bad gateway upstream")}, kind: KindServerError, status: 502, message: "bad gateway upstream"},
		{name: "422 verbatim", raw: RawFailure{Response: resp(422, `{"detail":"Le champ nom est requis"}`)}, kind: KindClientError, status: 422, message: "Le champ nom est requis"},
		{name: "404 empty body", raw: RawFailure{Response: resp(404, "")}, kind: KindClientError, status: 404, message: "Not Found"},
		{name: "html body falls back to status text", raw: RawFailure{Response: resp(400, "<html>oops</html>")}, kind: KindClientError, status: 400, message: "Bad Request"},
		{name: "nested error object", raw: RawFailure{Response: resp(409, `{"error":{"message":"already exists"}}`)}, kind: KindClientError, status: 409, message: "already exists"},
		{name: "503 widened", raw: RawFailure{Response: resp(503, `{"message":"maintenance"}`)}, kind: KindServerError, status: 503, message: "maintenance"},
		{name: "structured code widened", raw: RawFailure{Response: resp(400, `{"message":"try later","code":"DB_UNAVAILABLE"}`)}, kind: KindServerError, status: 400, message: "try later"},
		{name: "vocabulary widened", raw: RawFailure{Response: resp(400, `{"message":"Database connection timeout"}`)}, kind: KindServerError, status: 400, message: "Database connection timeout"},
		{name: "econnrefused widened", raw: RawFailure{Response: resp(422, `{"message":"connect ECONNREFUSED 10.0.0.1:5432"}`)}, kind: KindServerError, status: 422},
		{name: "business 400 untouched", raw: RawFailure{Response: resp(400, `{"message":"national id already registered"}`)}, kind: KindClientError, status: 400, message: "national id already registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Normalize(tt.raw)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.cancelled, e.Cancelled)
			if tt.message != "" {
				assert.Equal(t, tt.message, e.Message)
			}
		})
	}
}

func TestNormalizeIsPure(t *testing.T) {
	raw := RawFailure{Response: resp(500, `{"message":"x"}`)}
	a, b := Normalize(raw), Normalize(raw)
	assert.Equal(t, a, b)
	assert.NotSame(t, a, b)
}

func TestErrorMessage(t *testing.T) {
	business := Normalize(RawFailure{Response: resp(401, `{"message":"invalid credentials"}`)})
	assert.Equal(t, "invalid credentials", business.Error())

	server := Normalize(RawFailure{Response: resp(500, `{"message":"boom"}`)})
	assert.Equal(t, "relay: server_error (status 500): boom", server.Error())

	network := &Error{Kind: KindNetwork, Err: errors.New("refused")}
	assert.Equal(t, "relay: network: refused", network.Error())
	assert.True(t, network.Temporary())

	cancelled := cancelledError("p", context.Canceled)
	assert.True(t, IsCancelled(cancelled))
	assert.False(t, cancelled.Temporary())
	assert.ErrorIs(t, cancelled, context.Canceled)
}

func TestErrorHelpers(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindClientError, Status: 403})
	assert.True(t, IsKind(err, KindClientError))
	assert.True(t, IsStatus(err, 403))
	assert.False(t, IsStatus(err, 401))
	assert.Equal(t, KindClientError, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	expired := &Error{Kind: KindUnauthorized, Err: fmt.Errorf("%w: %w", ErrSessionExpired, errors.New("probe"))}
	assert.True(t, IsSessionExpired(expired))
	assert.False(t, IsSessionExpired(err))
}
