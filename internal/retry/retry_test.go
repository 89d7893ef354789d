package retry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casedesk/relay/internal/retry"
)

var (
	errTransient = errors.New("transient")
	errPermanent = errors.New("permanent")
)

func alwaysRetry(error) retry.Action { return retry.Retry }

func classifyByError(err error) retry.Action {
	if errors.Is(err, errPermanent) {
		return retry.Stop
	}
	return retry.Retry
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
}

func TestDelay(t *testing.T) {
	p := retry.Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(5))
	assert.Equal(t, time.Second, p.Delay(60))

	var prev time.Duration
	for k := 1; k <= 4; k++ {
		d := p.Delay(k)
		assert.Greater(t, d, prev, "delay must strictly increase below the cap")
		prev = d
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy(3), alwaysRetry, func(context.Context, int) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	var seen []int
	val, err := retry.Do(context.Background(), fastPolicy(3), alwaysRetry, func(_ context.Context, attempt int) (string, error) {
		seen = append(seen, attempt)
		if attempt < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy(3), classifyByError, func(context.Context, int) (struct{}, error) {
		calls++
		return struct{}{}, errPermanent
	})
	var permErr *retry.PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, retry.Attempts(err))
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	var delays []time.Duration
	p := fastPolicy(4)
	p.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }

	_, err := retry.Do(context.Background(), p, alwaysRetry, func(context.Context, int) (struct{}, error) {
		calls++
		return struct{}{}, errTransient
	})
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, []time.Duration{time.Microsecond, 2 * time.Microsecond, 4 * time.Microsecond}, delays)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), retry.Policy{}, alwaysRetry, func(context.Context, int) (struct{}, error) {
		calls++
		return struct{}{}, errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 5, BaseDelay: time.Hour, Clock: clock}

	var (
		wg  sync.WaitGroup
		err error
	)
	calls := 0
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err = retry.Do(ctx, p, alwaysRetry, func(context.Context, int) (struct{}, error) {
			calls++
			return struct{}{}, errTransient
		})
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	wg.Wait()

	var cancelled *retry.CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, cancelled.Last, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_WaitsOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := retry.Policy{MaxAttempts: 2, BaseDelay: time.Minute, Clock: clock}

	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(context.Background(), p, alwaysRetry, func(_ context.Context, attempt int) (struct{}, error) {
			if attempt == 1 {
				return struct{}{}, errTransient
			}
			return struct{}{}, nil
		})
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	select {
	case <-done:
		t.Fatal("retry must wait for the backoff delay")
	default:
	}
	clock.Advance(time.Minute)
	require.NoError(t, <-done)
}
