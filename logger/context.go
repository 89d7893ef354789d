package logger

import (
	"context"
	"sync/atomic"
)

// contextKey is the type for context keys to avoid collisions
type contextKey string

const (
	// roundTripCounterKey tracks how many HTTP round trips a caller context caused
	roundTripCounterKey contextKey = "round_trip_counter"
	// roundTripElapsedKey tracks the total time spent on the wire for a caller context
	roundTripElapsedKey contextKey = "round_trip_elapsed_nanos"
)

// WithRoundTripCounter creates a new context with a round-trip counter and elapsed time tracker.
// Every transport send made with a derived context increments the counter.
func WithRoundTripCounter(ctx context.Context) context.Context {
	counter := int64(0)
	elapsed := int64(0)
	ctx = context.WithValue(ctx, roundTripCounterKey, &counter)
	ctx = context.WithValue(ctx, roundTripElapsedKey, &elapsed)
	return ctx
}

// IncrementRoundTrips increments the round-trip counter in the context
func IncrementRoundTrips(ctx context.Context) {
	if counter, ok := ctx.Value(roundTripCounterKey).(*int64); ok && counter != nil {
		atomic.AddInt64(counter, 1)
	}
}

// GetRoundTrips returns the current round-trip count from the context
func GetRoundTrips(ctx context.Context) int64 {
	if counter, ok := ctx.Value(roundTripCounterKey).(*int64); ok && counter != nil {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// AddRoundTripElapsed adds elapsed nanoseconds to the round-trip elapsed time in the context
func AddRoundTripElapsed(ctx context.Context, nanos int64) {
	if elapsed, ok := ctx.Value(roundTripElapsedKey).(*int64); ok && elapsed != nil {
		atomic.AddInt64(elapsed, nanos)
	}
}

// GetRoundTripElapsed returns the accumulated round-trip time in nanoseconds from the context
func GetRoundTripElapsed(ctx context.Context) int64 {
	if elapsed, ok := ctx.Value(roundTripElapsedKey).(*int64); ok && elapsed != nil {
		return atomic.LoadInt64(elapsed)
	}
	return 0
}
