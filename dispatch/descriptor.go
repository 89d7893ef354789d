package dispatch

import (
	"maps"
	"net/url"
	"slices"
	"sync/atomic"

	"github.com/casedesk/relay/transport"
)

// Descriptor describes one logical call. It is immutable once built; the
// dispatcher keeps per-call bookkeeping on a private copy.
type Descriptor struct {
	method  string
	path    string
	body    []byte
	headers map[string]string
	query   url.Values
	class   transport.CallClass

	state *callState
	probe bool
}

// callState is shared by every attempt, probe and replay of one Dispatch.
type callState struct {
	attempts  atomic.Int64
	recovered atomic.Bool
}

// DescriptorOption configures a Descriptor at construction.
type DescriptorOption func(*Descriptor)

// WithBody sets the raw request body.
func WithBody(body []byte) DescriptorOption {
	return func(d *Descriptor) { d.body = slices.Clone(body) }
}

// WithHeader sets one request header.
func WithHeader(key, value string) DescriptorOption {
	return func(d *Descriptor) { d.headers[key] = value }
}

// WithHeaders merges headers into the request headers.
func WithHeaders(headers map[string]string) DescriptorOption {
	return func(d *Descriptor) { maps.Copy(d.headers, headers) }
}

// WithQuery sets the query string.
func WithQuery(query url.Values) DescriptorOption {
	return func(d *Descriptor) { d.query = cloneValues(query) }
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = slices.Clone(vals)
	}
	return out
}

// WithClass selects the timeout class of the call.
func WithClass(class transport.CallClass) DescriptorOption {
	return func(d *Descriptor) { d.class = class }
}

// NewDescriptor builds a call description.
func NewDescriptor(method, path string, opts ...DescriptorOption) *Descriptor {
	d := &Descriptor{method: method, path: path, headers: map[string]string{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Descriptor) Method() string { return d.method }
func (d *Descriptor) Path() string { return d.path }
func (d *Descriptor) Body() []byte { return slices.Clone(d.body) }
func (d *Descriptor) Class() transport.CallClass { return d.class }
func (d *Descriptor) Header(key string) string { return d.headers[key] }
func (d *Descriptor) Headers() map[string]string { return maps.Clone(d.headers) }
func (d *Descriptor) Query() url.Values { return cloneValues(d.query) }

// Attempts reports how many transport attempts the current call has made.
// It is zero outside a Dispatch.
func (d *Descriptor) Attempts() int {
	if d.state == nil {
		return 0
	}
	return int(d.state.attempts.Load())
}

// begin returns the private copy a Dispatch works on. Every Dispatch starts
// from a fresh call state.
func (d *Descriptor) begin() *Descriptor {
	c := *d
	c.state = &callState{}
	return &c
}

// probeFor builds the identity probe of a call. Probes never trigger recovery.
func probeFor(d *Descriptor, path string) *Descriptor {
	p := NewDescriptor("GET", path)
	p.state = &callState{}
	p.state.recovered.Store(true)
	p.probe = true
	return p
}

// markRecovery reports whether the caller won the single recovery slot of the call.
func (d *Descriptor) markRecovery() bool {
	if d.probe || d.state == nil {
		return false
	}
	return d.state.recovered.CompareAndSwap(false, true)
}

func (d *Descriptor) countAttempt() {
	if d.state != nil {
		d.state.attempts.Add(1)
	}
}

func (d *Descriptor) request() *transport.Request {
	return &transport.Request{
		Method:  d.method,
		Path:    d.path,
		Query:   d.query,
		Headers: d.headers,
		Body:    d.body,
		Class:   d.class,
	}
}
