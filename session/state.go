// Package session holds the process-wide authentication state: the current
// identity, the cache keys that depend on it, and the signals emitted when the
// session dies.
package session

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/casedesk/relay/logger"
)

// record is never mutated after it is published.
type record struct {
	identity   *Identity
	dependents map[string]struct{}
	version    uint64
	expired    bool
}

// Snapshot is a consistent view of the state at one instant.
type Snapshot struct {
	Identity   *Identity
	Dependents []string
	Version    uint64
	Expired    bool
}

// State is replaced wholesale on every transition, so readers never see a
// half-applied update.
type State struct {
	cur      atomic.Pointer[record]
	notifier *Notifier
	logger   logger.Logger

	hooksMu sync.RWMutex
	hooks   []func(keys []string)
}

// NewState creates an unauthenticated state that reports through notifier.
func NewState(notifier *Notifier, log logger.Logger) *State {
	if notifier == nil {
		notifier = NewNotifier()
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &State{notifier: notifier, logger: log}
	s.cur.Store(&record{dependents: map[string]struct{}{}})
	return s
}

// Notifier returns the notifier session events are emitted on.
func (s *State) Notifier() *Notifier {
	return s.notifier
}

// Snapshot returns identity, dependents and version read from a single record.
func (s *State) Snapshot() Snapshot {
	r := s.cur.Load()
	return Snapshot{
		Identity:   cloneIdentity(r.identity),
		Dependents: sortedKeys(r.dependents),
		Version:    r.version,
		Expired:    r.expired,
	}
}

// Identity returns the current identity, or nil when unauthenticated.
func (s *State) Identity() *Identity {
	return cloneIdentity(s.cur.Load().identity)
}

func (s *State) Authenticated() bool {
	return s.cur.Load().identity != nil
}

// Version changes whenever the identity changes or the session is cleared.
func (s *State) Version() uint64 {
	return s.cur.Load().version
}

// Dependents lists the cache keys evicted when the session is cleared.
func (s *State) Dependents() []string {
	return sortedKeys(s.cur.Load().dependents)
}

// SetIdentity records a successful authentication. A different principal
// replaces the old one and bumps the version, which drops its dependent entries.
func (s *State) SetIdentity(id Identity) {
	var dropped []string
	s.update(func(r *record) *record {
		next := &record{identity: &id, dependents: r.dependents, version: r.version}
		dropped = nil
		if r.identity == nil || r.identity.ID != id.ID {
			dropped = sortedKeys(r.dependents)
			next.dependents = map[string]struct{}{}
			next.version = r.version + 1
		}
		return next
	})
	s.logger.Info().Str("identity", id.ID).Msg("session identity set")
	if len(dropped) > 0 {
		s.runHooks(dropped)
	}
}

// AddDependent registers key as belonging to the current session. Without an
// identity there is nothing to depend on and the call is a no-op.
func (s *State) AddDependent(key string) {
	s.update(func(r *record) *record {
		if r.identity == nil {
			return nil
		}
		if _, ok := r.dependents[key]; ok {
			return nil
		}
		deps := maps.Clone(r.dependents)
		deps[key] = struct{}{}
		return &record{identity: r.identity, dependents: deps, version: r.version, expired: r.expired}
	})
}

// Expire declares the session dead: identity and dependents are cleared in one
// step and session-expired is emitted. Only the caller that performs the
// transition gets true; concurrent failures of the same dead session do not
// emit a second event.
func (s *State) Expire(cause Event) bool {
	var dropped []string
	transitioned := false
	s.update(func(r *record) *record {
		if r.expired {
			transitioned = false
			return nil
		}
		transitioned = true
		dropped = sortedKeys(r.dependents)
		return &record{dependents: map[string]struct{}{}, version: r.version + 1, expired: true}
	})
	if !transitioned {
		return false
	}

	s.logger.Warn().Str("profile", cause.Profile).Str("path", cause.Path).Msg("session expired")
	s.runHooks(dropped)
	cause.Type = EventSessionExpired
	s.notifier.Emit(cause)
	return true
}

// Logout clears the session without emitting session-expired.
func (s *State) Logout() {
	var dropped []string
	s.update(func(r *record) *record {
		dropped = sortedKeys(r.dependents)
		return &record{dependents: map[string]struct{}{}, version: r.version + 1}
	})
	s.logger.Info().Msg("session cleared by logout")
	s.runHooks(dropped)
}

// OnClear registers fn to run with the evicted keys after every clearing transition.
func (s *State) OnClear(fn func(keys []string)) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// update applies fn with compare-and-swap until it wins. fn returning nil means no change.
func (s *State) update(fn func(*record) *record) {
	for {
		old := s.cur.Load()
		next := fn(old)
		if next == nil || s.cur.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *State) runHooks(keys []string) {
	s.hooksMu.RLock()
	hooks := slices.Clone(s.hooks)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(keys)
	}
}

func cloneIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func sortedKeys(m map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(m))
}
