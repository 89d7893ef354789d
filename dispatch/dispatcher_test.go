package dispatch

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casedesk/relay/internal/testutil"
	"github.com/casedesk/relay/logger"
	"github.com/casedesk/relay/session"
	"github.com/casedesk/relay/trace"
	"github.com/casedesk/relay/transport"
)

func TestNewDispatcherRequiresProfiles(t *testing.T) {
	_, err := NewDispatcher(nil, Options{})
	assert.True(t, transport.IsErrorType(err, transport.ValidationError))
}

func TestDispatchTimeoutFallsBackToNextProfile(t *testing.T) {
	slow := testutil.NewBackend(t)
	slow.Handle(http.MethodGet, testutil.ResourcePath, testutil.Slow(time.Second, 200, map[string]int{"id": 0}))
	fast := testutil.NewBackend(t)
	fast.Handle(http.MethodGet, testutil.ResourcePath, testutil.Reply(200, map[string]int{"id": 1}))

	d := newDispatcher(t, nil,
		newSender(t, "a", slow.URL(), transport.AuthSession, 20*time.Millisecond),
		newSender(t, "b", fast.URL(), transport.AuthSession, time.Second),
	)
	assert.Equal(t, []string{"a", "b"}, d.Profiles())

	resp, err := d.Dispatch(context.Background(), NewDescriptor(http.MethodGet, testutil.ResourcePath))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.True(t, resp.OK)
	assert.Equal(t, map[string]any{"id": float64(1)}, resp.Data)
	assert.Equal(t, "b", resp.Profile)
	assert.Equal(t, 4, resp.Attempts, "three timed-out attempts on a, one on b")
}

func TestDispatchContinuationTable(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      any
		fallback  bool
		wantKind  Kind
		wantProbe bool
	}{
		{name: "403 continues", status: 403, body: map[string]string{"message": "credentials rejected"}, fallback: true},
		{name: "500 aborts", status: 500, body: map[string]string{"message": "boom"}, fallback: false, wantKind: KindServerError},
		{name: "400 aborts", status: 400, body: map[string]string{"message": "invalid national id"}, fallback: false, wantKind: KindClientError},
		{name: "404 aborts", status: 404, body: nil, fallback: false, wantKind: KindClientError},
		{name: "401 on bearer continues", status: 401, body: nil, fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := testutil.NewBackend(t)
			first.Handle(http.MethodPost, "/requests", testutil.Reply(tt.status, tt.body))
			second := testutil.NewBackend(t)
			second.Handle(http.MethodPost, "/requests", testutil.Reply(201, map[string]int{"id": 9}))

			d := newDispatcher(t, nil,
				newSender(t, "first", first.URL(), transport.AuthBearer, time.Second),
				newSender(t, "second", second.URL(), transport.AuthBearer, time.Second),
			)

			resp, err := d.Dispatch(context.Background(), NewDescriptor(http.MethodPost, "/requests", WithBody([]byte(`{"x":1}`))))
			if tt.fallback {
				require.NoError(t, err)
				assert.Equal(t, 201, resp.Status)
				assert.Equal(t, "second", resp.Profile)
				assert.Equal(t, 1, second.Hits(http.MethodPost, "/requests"))
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.wantKind))
			assert.Zero(t, second.Hits(http.MethodPost, "/requests"), "must not retry a business or server error through another profile")
		})
	}
}

func TestDispatchSurfacesLastErrorWhenExhausted(t *testing.T) {
	first := testutil.NewBackend(t)
	first.Handle(http.MethodGet, testutil.ResourcePath, testutil.Reply(403, map[string]string{"message": "first says no"}))
	second := testutil.NewBackend(t)
	second.Handle(http.MethodGet, testutil.ResourcePath, testutil.Reply(403, map[string]string{"message": "second says no"}))

	d := newDispatcher(t, nil,
		newSender(t, "first", first.URL(), transport.AuthBearer, time.Second),
		newSender(t, "second", second.URL(), transport.AuthBearer, time.Second),
	)

	_, err := d.Dispatch(context.Background(), NewDescriptor(http.MethodGet, testutil.ResourcePath))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "second says no", e.Message)
	assert.Equal(t, "second", e.Profile)
	assert.Equal(t, 2, e.Attempts)
}

func TestDispatchLoginWrongCredentials(t *testing.T) {
	first := testutil.NewBackend(t)
	first.Handle(http.MethodPost, testutil.LoginPath, testutil.Reply(401, map[string]string{"message": testutil.BadCredentials}))
	first.Handle(http.MethodGet, testutil.ProbePath, testutil.Reply(200, map[string]any{"id": 1}))
	second := testutil.NewBackend(t)
	second.Handle(http.MethodPost, testutil.LoginPath, testutil.Reply(200, nil))

	state, events := newStateWithLog()
	d := newDispatcher(t, state,
		newSender(t, "first", first.URL(), transport.AuthSession, time.Second),
		newSender(t, "second", second.URL(), transport.AuthSession, time.Second),
	)

	_, err := d.Dispatch(context.Background(), NewDescriptor(http.MethodPost, testutil.LoginPath, WithBody([]byte(`{"user":"a","password":"b"}`))))
	require.Error(t, err)
	assert.Equal(t, testutil.BadCredentials, err.Error())

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, testutil.BadCredentials, e.Message)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, 1, first.Hits(http.MethodPost, testutil.LoginPath))
	assert.Zero(t, first.Hits(http.MethodGet, testutil.ProbePath))
	assert.Zero(t, second.Hits(http.MethodPost, testutil.LoginPath))
	assert.Zero(t, events.count(session.EventSessionExpired))
}

func TestDispatchCancelled(t *testing.T) {
	t.Run("before dispatch", func(t *testing.T) {
		backend := testutil.NewBackend(t)
		backend.Handle(http.MethodGet, testutil.ResourcePath, testutil.Reply(200, nil))
		d := newDispatcher(t, nil, newSender(t, "a", backend.URL(), transport.AuthSession, time.Second))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := d.Dispatch(ctx, NewDescriptor(http.MethodGet, testutil.ResourcePath))
		assert.True(t, IsCancelled(err))
		assert.Zero(t, backend.TotalHits())
	})

	t.Run("in flight", func(t *testing.T) {
		slow := testutil.NewBackend(t)
		slow.Handle(http.MethodGet, testutil.ResourcePath, testutil.Slow(2*time.Second, 200, nil))
		other := testutil.NewBackend(t)
		other.Handle(http.MethodGet, testutil.ResourcePath, testutil.Reply(200, nil))

		state, events := newStateWithLog()
		d := newDispatcher(t, state,
			newSender(t, "a", slow.URL(), transport.AuthSession, 5*time.Second),
			newSender(t, "b", other.URL(), transport.AuthSession, time.Second),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := d.Dispatch(ctx, NewDescriptor(http.MethodGet, testutil.ResourcePath))
		assert.True(t, IsCancelled(err))
		assert.Equal(t, 1, slow.Hits(http.MethodGet, testutil.ResourcePath))
		assert.Zero(t, other.TotalHits())
		assert.Empty(t, events.events)
	})
}

func TestDispatchFreshCallStartsAtZero(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.Handle(http.MethodGet, testutil.ResourcePath, testutil.Reply(500, nil))
	d := newDispatcher(t, nil, newSender(t, "a", backend.URL(), transport.AuthSession, time.Second))

	desc := NewDescriptor(http.MethodGet, testutil.ResourcePath)
	for range 2 {
		_, err := d.Dispatch(context.Background(), desc)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, 3, e.Attempts)
	}
	assert.Zero(t, desc.Attempts(), "the caller's descriptor is never mutated")
	assert.Equal(t, 6, backend.Hits(http.MethodGet, testutil.ResourcePath))
}

func TestDispatchCircuitBreakerSkipsBrokenProfile(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.Handle(http.MethodGet, testutil.ResourcePath, testutil.Reply(200, map[string]int{"id": 1}))

	d, err := NewDispatcher([]transport.Sender{
		newSender(t, "broken", testutil.ClosedURL(t), transport.AuthSession, time.Second),
		newSender(t, "working", backend.URL(), transport.AuthSession, time.Second),
	}, Options{
		Retry:   fastRetry(),
		Breaker: BreakerSettings{FailureThreshold: 1, OpenTimeout: time.Minute},
	})
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), NewDescriptor(http.MethodGet, testutil.ResourcePath))
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Attempts)

	resp, err = d.Dispatch(context.Background(), NewDescriptor(http.MethodGet, testutil.ResourcePath))
	require.NoError(t, err)
	assert.Equal(t, "working", resp.Profile)
	assert.Equal(t, 1, resp.Attempts, "open breaker must skip the broken profile without sending")
}

func TestDispatchPropagatesRequestIDAndCountsRoundTrips(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.Handle(http.MethodGet, testutil.ResourcePath, testutil.Reply(500, nil), testutil.Reply(200, nil))
	d := newDispatcher(t, nil, newSender(t, "a", backend.URL(), transport.AuthSession, time.Second))

	ctx := logger.WithRoundTripCounter(trace.WithRequestID(context.Background(), "req-42"))
	resp, err := d.Dispatch(ctx, NewDescriptor(http.MethodGet, testutil.ResourcePath, WithHeader("Accept-Language", "ar")))
	require.NoError(t, err)
	assert.Nil(t, resp.Data)

	headers := backend.LastHeaders(http.MethodGet, testutil.ResourcePath)
	assert.Equal(t, "req-42", headers.Get(trace.HeaderXRequestID))
	assert.Equal(t, "ar", headers.Get("Accept-Language"))
	assert.Equal(t, int64(2), logger.GetRoundTrips(ctx))
}

func TestDispatchNilDescriptor(t *testing.T) {
	backend := testutil.NewBackend(t)
	d := newDispatcher(t, nil, newSender(t, "a", backend.URL(), transport.AuthSession, time.Second))
	_, err := d.Dispatch(context.Background(), nil)
	assert.True(t, IsKind(err, KindUnknown))
}
