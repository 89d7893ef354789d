// Package client is the application-facing facade of relay. It builds the
// transport profiles, the dispatcher, the session state and the query cache
// from configuration and exposes them as one Client.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"

	"github.com/jonboulle/clockwork"

	"github.com/casedesk/relay/cache"
	"github.com/casedesk/relay/config"
	"github.com/casedesk/relay/dispatch"
	"github.com/casedesk/relay/logger"
	"github.com/casedesk/relay/query"
	"github.com/casedesk/relay/session"
	"github.com/casedesk/relay/transport"
)

// Option customizes New.
type Option func(*options)

type options struct {
	store     cache.Cache
	transport nethttp.RoundTripper
	clock     clockwork.Clock
	onRetry   func(d *dispatch.Descriptor, rec dispatch.AttemptRecord, err *dispatch.Error)
	intercept []transport.RequestInterceptor
}

// WithStore uses store instead of opening the configured one. The caller keeps ownership.
func WithStore(store cache.Cache) Option {
	return func(o *options) { o.store = store }
}

// WithTransport sets the round tripper of every profile.
func WithTransport(rt nethttp.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithClock drives retry sleeps and cache staleness from clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithRetryObserver is called before every transport-level retry.
func WithRetryObserver(fn func(d *dispatch.Descriptor, rec dispatch.AttemptRecord, err *dispatch.Error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithRequestInterceptor runs fn on every attempt of every profile, after the
// request-ID and bearer interceptors.
func WithRequestInterceptor(fn transport.RequestInterceptor) Option {
	return func(o *options) { o.intercept = append(o.intercept, fn) }
}

// Client sends logical API calls to the backend.
type Client struct {
	cfg        *config.Config
	logger     logger.Logger
	store      cache.Cache
	ownsStore  bool
	tokens     *session.TokenStore
	state      *session.State
	dispatcher *dispatch.Dispatcher
	queries    *query.Cache
}

// New builds a client from cfg. The persisted store is opened from cfg.Store
// unless WithStore is given.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client: config is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, owns := o.store, false
	if store == nil {
		var err error
		if store, err = OpenStore(ctx, &cfg.Store); err != nil {
			return nil, fmt.Errorf("client: open store: %w", err)
		}
		owns = true
	}

	c := &Client{
		cfg:       cfg,
		logger:    log,
		store:     store,
		ownsStore: owns,
		tokens:    session.NewTokenStore(store),
		state:     session.NewState(session.NewNotifier(), log),
	}

	senders, err := c.buildSenders(&o)
	if err != nil {
		c.closeOwned()
		return nil, err
	}

	c.dispatcher, err = dispatch.NewDispatcher(senders, dispatch.Options{
		Retry: dispatch.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Clock:       o.clock,
			OnRetry:     o.onRetry,
		},
		Recovery: dispatch.RecoveryConfig{
			ProbePath:   cfg.Session.ProbePath,
			ExemptPaths: cfg.Session.ExemptPaths,
			State:       c.state,
		},
		Breaker: dispatch.BreakerSettings{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
		},
		Logger: log,
	})
	if err != nil {
		c.closeOwned()
		return nil, err
	}

	read := query.DefaultReadPolicy()
	read.MaxRetries, read.BaseDelay, read.MaxDelay = cfg.Query.ReadRetries, cfg.Query.BaseDelay, cfg.Query.MaxDelay
	write := query.DefaultWritePolicy()
	write.MaxRetries, write.BaseDelay, write.MaxDelay = cfg.Query.WriteRetries, cfg.Query.BaseDelay, cfg.Query.MaxDelay

	c.queries = query.New(query.Config{
		StaleTime:   cfg.Query.StaleTime,
		ReadPolicy:  read,
		WritePolicy: write,
		Clock:       o.clock,
		Store:       store,
		State:       c.state,
		Logger:      log,
	})
	return c, nil
}

// buildSenders creates one transport client per profile. Cross-origin
// profiles share a single cookie jar.
func (c *Client) buildSenders(o *options) ([]transport.Sender, error) {
	profiles, err := c.cfg.TransportProfiles()
	if err != nil {
		return nil, err
	}
	jar, err := transport.NewJar()
	if err != nil {
		return nil, err
	}

	senders := make([]transport.Sender, 0, len(profiles))
	for _, p := range profiles {
		b := transport.NewBuilder(p, c.logger).
			WithSharedJar(jar).
			WithTokenSource(c.tokens).
			WithPayloadLogging(c.cfg.Log.Payloads)
		if o.transport != nil {
			b = b.WithTransport(o.transport)
		}
		for _, fn := range o.intercept {
			b = b.WithRequestInterceptor(fn)
		}
		sender, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.Name, err)
		}
		senders = append(senders, sender)
	}
	return senders, nil
}

// Request sends one logical call. body may be nil, raw JSON bytes or any
// value that marshals to JSON.
func (c *Client) Request(ctx context.Context, method, path string, body any, opts ...dispatch.DescriptorOption) (*dispatch.Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		opts = append([]dispatch.DescriptorOption{dispatch.WithBody(payload)}, opts...)
	}
	return c.dispatcher.Dispatch(ctx, dispatch.NewDescriptor(method, path, opts...))
}

// Do dispatches a prepared descriptor.
func (c *Client) Do(ctx context.Context, d *dispatch.Descriptor) (*dispatch.Response, error) {
	return c.dispatcher.Dispatch(ctx, d)
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
		return data, nil
	}
}

// Fetch returns a fetcher that GETs path and yields the decoded response data.
func (c *Client) Fetch(path string, opts ...dispatch.DescriptorOption) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		resp, err := c.Request(ctx, nethttp.MethodGet, path, nil, opts...)
		if err != nil {
			return nil, err
		}
		return resp.Data, nil
	}
}

// Read returns the cached value of key, fetching it when absent.
func (c *Client) Read(ctx context.Context, key string, fetch query.Fetcher, opts ...query.KeyOption) (any, error) {
	return c.queries.Read(ctx, key, fetch, opts...)
}

// Invalidate drops keys so the next Read fetches.
func (c *Client) Invalidate(keys ...string) {
	c.queries.Invalidate(keys...)
}

// Write stores value under key as if it had just been fetched.
func (c *Client) Write(key string, value any, opts ...query.KeyOption) {
	c.queries.Write(key, value, opts...)
}

// Mutate runs fn under the write policy and invalidates the given keys on success.
func (c *Client) Mutate(ctx context.Context, fn query.Fetcher, invalidates ...string) (any, error) {
	return c.queries.Mutate(ctx, fn, invalidates...)
}

// Settings decodes the settings document into v. When the backend is
// unreachable the last-known-good snapshot is used instead.
func (c *Client) Settings(ctx context.Context, v any) error {
	value, err := c.queries.Read(ctx, SettingsKey, func(ctx context.Context) (any, error) {
		resp, err := c.Request(ctx, nethttp.MethodGet, c.cfg.Backend.SettingsPath, nil)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(resp.Body), nil
	}, query.Persisted(cache.SettingsSnapshotKey))
	if err != nil {
		return err
	}
	raw, ok := value.(json.RawMessage)
	if !ok {
		return fmt.Errorf("client: unexpected settings value %T", value)
	}
	return json.Unmarshal(raw, v)
}

// SettingsKey is the query key of the settings document.
const SettingsKey = "settings"

// Subscribe registers fn for session events. The returned func unsubscribes.
func (c *Client) Subscribe(fn func(session.Event)) func() {
	return c.state.Notifier().Subscribe(fn)
}

// State returns the session state.
func (c *Client) State() *session.State {
	return c.state
}

// Identity returns the signed-in user, or nil.
func (c *Client) Identity() *session.Identity {
	return c.state.Identity()
}

// Query returns the query cache, for use with query.Get.
func (c *Client) Query() *query.Cache {
	return c.queries
}

// Profiles lists the profile names in fallback order.
func (c *Client) Profiles() []string {
	return c.dispatcher.Profiles()
}

// Close releases the store when the client opened it.
func (c *Client) Close() error {
	return c.closeOwned()
}

func (c *Client) closeOwned() error {
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}
