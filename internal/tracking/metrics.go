// Package tracking records relay's OpenTelemetry metrics. Instruments are created
// lazily from the global meter provider so they pick up whatever provider the
// application installs with otel.SetMeterProvider.
package tracking

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "relay"

	metricDispatchAttempts  = "relay.dispatch.attempts"  // Counter, one per transport attempt
	metricDispatchDuration  = "relay.dispatch.duration"  // Histogram in seconds, per logical call
	metricDispatchFallbacks = "relay.dispatch.fallbacks" // Counter, profile hand-overs
	metricRetries           = "relay.retry.scheduled"    // Counter
	metricRecoveries        = "relay.session.recoveries" // Counter by outcome
	metricQueryLookups      = "relay.query.lookups"      // Counter by result (hit, miss, stale)
	metricStoreDuration     = "relay.store.operation.duration"

	attrProfile   = "relay.profile"
	attrOutcome   = "relay.outcome"
	attrErrorKind = "error.type"
	attrResult    = "relay.query.result"
	attrStore     = "relay.store"
	attrOperation = "relay.store.operation"
)

// Store operation names
const (
	OpGet    = "get"
	OpSet    = "set"
	OpDelete = "delete"
	OpHealth = "ping"
)

// Query lookup results
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupStale   = "stale"
	LookupPersist = "persisted"
)

// Session recovery outcomes
const (
	RecoveryReplayed = "replayed"
	RecoveryExpired  = "expired"
	RecoverySkipped  = "skipped"
)

type instruments struct {
	attempts  metric.Int64Counter
	duration  metric.Float64Histogram
	fallbacks metric.Int64Counter
	retries   metric.Int64Counter
	recovery  metric.Int64Counter
	lookups   metric.Int64Counter
	storeDur  metric.Float64Histogram
}

var (
	initOnce sync.Once
	inst     instruments
)

// logMetricError logs a metric initialization error to stderr.
func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize relay metric %s: %v\n", metricName, err)
	}
}

func ensureInitialized() {
	initOnce.Do(func() {
		meter := otel.Meter(meterName)
		var err error

		inst.attempts, err = meter.Int64Counter(metricDispatchAttempts,
			metric.WithDescription("Transport attempts sent per profile"),
			metric.WithUnit("{attempt}"))
		logMetricError(metricDispatchAttempts, err)

		inst.duration, err = meter.Float64Histogram(metricDispatchDuration,
			metric.WithDescription("Duration of logical dispatches including retries and fallbacks"),
			metric.WithUnit("s"))
		logMetricError(metricDispatchDuration, err)

		inst.fallbacks, err = meter.Int64Counter(metricDispatchFallbacks,
			metric.WithDescription("Hand-overs from one profile to the next"),
			metric.WithUnit("{fallback}"))
		logMetricError(metricDispatchFallbacks, err)

		inst.retries, err = meter.Int64Counter(metricRetries,
			metric.WithDescription("Retries scheduled by the retry interceptor"),
			metric.WithUnit("{retry}"))
		logMetricError(metricRetries, err)

		inst.recovery, err = meter.Int64Counter(metricRecoveries,
			metric.WithDescription("Session recovery sequences by outcome"),
			metric.WithUnit("{recovery}"))
		logMetricError(metricRecoveries, err)

		inst.lookups, err = meter.Int64Counter(metricQueryLookups,
			metric.WithDescription("Query cache lookups by result"),
			metric.WithUnit("{lookup}"))
		logMetricError(metricQueryLookups, err)

		inst.storeDur, err = meter.Float64Histogram(metricStoreDuration,
			metric.WithDescription("Duration of persisted store operations"),
			metric.WithUnit("s"))
		logMetricError(metricStoreDuration, err)
	})
}

// RecordAttempt counts one transport attempt through profile.
func RecordAttempt(ctx context.Context, profile string) {
	ensureInitialized()
	if inst.attempts != nil {
		inst.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String(attrProfile, profile)))
	}
}

// RecordDispatch records a finished logical call. errorKind is empty on success.
func RecordDispatch(ctx context.Context, profile string, duration time.Duration, errorKind string) {
	ensureInitialized()
	if inst.duration == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String(attrProfile, profile)}
	if errorKind != "" {
		attrs = append(attrs, attribute.String(attrErrorKind, errorKind))
	}
	inst.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFallback counts a hand-over away from profile.
func RecordFallback(ctx context.Context, profile, errorKind string) {
	ensureInitialized()
	if inst.fallbacks != nil {
		inst.fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrProfile, profile),
			attribute.String(attrErrorKind, errorKind)))
	}
}

// RecordRetry counts one scheduled retry.
func RecordRetry(ctx context.Context, profile, errorKind string) {
	ensureInitialized()
	if inst.retries != nil {
		inst.retries.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrProfile, profile),
			attribute.String(attrErrorKind, errorKind)))
	}
}

// RecordRecovery counts one session recovery sequence.
func RecordRecovery(ctx context.Context, profile, outcome string) {
	ensureInitialized()
	if inst.recovery != nil {
		inst.recovery.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrProfile, profile),
			attribute.String(attrOutcome, outcome)))
	}
}

// RecordLookup counts one query cache lookup.
func RecordLookup(ctx context.Context, result string) {
	ensureInitialized()
	if inst.lookups != nil {
		inst.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
	}
}

// RecordStoreOperation records a persisted store operation.
func RecordStoreOperation(ctx context.Context, store, operation string, duration time.Duration, err error) {
	ensureInitialized()
	if inst.storeDur == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrStore, store),
		attribute.String(attrOperation, operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.String(attrErrorKind, fmt.Sprintf("%T", err)))
	}
	inst.storeDur.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
