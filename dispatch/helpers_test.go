package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casedesk/relay/session"
	"github.com/casedesk/relay/transport"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func newSender(t *testing.T, name, baseURL string, auth transport.AuthMode, timeout time.Duration) transport.Sender {
	t.Helper()
	c, err := transport.NewBuilder(transport.Profile{
		Name:        name,
		BaseURL:     baseURL,
		Timeout:     timeout,
		Auth:        auth,
		Credentials: transport.CredentialsSameOrigin,
	}, nil).Build()
	require.NoError(t, err)
	return c
}

func newDispatcher(t *testing.T, state *session.State, senders ...transport.Sender) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(senders, Options{
		Retry:    fastRetry(),
		Recovery: RecoveryConfig{State: state},
	})
	require.NoError(t, err)
	return d
}

type eventLog struct {
	events []session.Event
}

func (l *eventLog) record(e session.Event) { l.events = append(l.events, e) }

func (l *eventLog) types() []session.EventType {
	out := make([]session.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) count(t session.EventType) int {
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newStateWithLog() (*session.State, *eventLog) {
	n := session.NewNotifier()
	l := &eventLog{}
	n.Subscribe(l.record)
	return session.NewState(n, nil), l
}
