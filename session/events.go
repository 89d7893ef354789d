package session

import (
	"sync"
	"time"
)

// EventType names the signals relay emits to the surrounding application.
type EventType string

const (
	// EventAuthError reports a single 401. Informational.
	EventAuthError EventType = "auth-error"

	// EventSessionExpired reports a dead session; the application should send
	// the user back to the login surface.
	EventSessionExpired EventType = "session-expired"
)

// Event is delivered to subscribers.
type Event struct {
	Type    EventType
	Profile string
	Method  string
	Path    string
	Status  int
	At      time.Time
}

// Notifier fans events out to subscribers synchronously, in subscription order.
type Notifier struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription
}

type subscription struct {
	id uint64
	fn func(Event)
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier) Subscribe(fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	n.next++
	id := n.next
	n.subs = append(n.subs, subscription{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, s := range n.subs {
				if s.id == id {
					n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers e to every current subscriber before returning.
func (n *Notifier) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	n.mu.RLock()
	subs := n.subs
	n.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}
