package skynet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/hrygo/constellation/internal/errors"
	"github.com/pkg/errors"
)

// testGateway returns a gateway with a fake clock. Sleeps advance the
// clock instead of blocking, and every sleep is recorded.
func testGateway(config GatewayConfig) (*Gateway, *[]time.Duration) {
	config.Jitter = 0
	config.MinSpacing = time.Nanosecond
	g := NewGateway(config)

	clock := time.Unix(1700000000, 0)
	sleeps := &[]time.Duration{}
	g.now = func() time.Time { return clock }
	g.sleep = func(_ context.Context, d time.Duration) error {
		clock = clock.Add(d)
		*sleeps = append(*sleeps, d)
		return nil
	}
	return g, sleeps
}

func TestGatewaySlidingWindow(t *testing.T) {
	g, sleeps := testGateway(GatewayConfig{
		MaxRequests: 2,
		Window:      10 * time.Second,
		MinDelay:    time.Nanosecond,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, g.Do(ctx, func(context.Context) error { return nil }))
	}
	// Only the nanosecond inter-request delay so far.
	for _, d := range *sleeps {
		require.Less(t, d, time.Millisecond)
	}

	// Third call exceeds the window capacity and must wait for the
	// oldest timestamp to fall out.
	require.NoError(t, g.Do(ctx, func(context.Context) error { return nil }))
	total := time.Duration(0)
	for _, d := range *sleeps {
		total += d
	}
	require.GreaterOrEqual(t, total, 9*time.Second)
}

func TestGatewayMinDelay(t *testing.T) {
	g, sleeps := testGateway(GatewayConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		MinDelay:    2 * time.Second,
	})

	ctx := context.Background()
	require.NoError(t, g.Do(ctx, func(context.Context) error { return nil }))
	require.Empty(t, *sleeps)

	require.NoError(t, g.Do(ctx, func(context.Context) error { return nil }))
	require.Len(t, *sleeps, 1)
	require.Equal(t, 2*time.Second, (*sleeps)[0])
}

func TestGatewayBackoffOnThrottle(t *testing.T) {
	g, sleeps := testGateway(GatewayConfig{
		MaxRequests:   100,
		Window:        time.Minute,
		MinDelay:      time.Nanosecond,
		MinWait:       time.Second,
		BackoffFactor: 2,
		MaxBackoff:    time.Minute,
		MaxRetries:    3,
	})

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &RateLimitError{}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	// Backoff sleeps grow exponentially: minWait*2^0, minWait*2^1.
	backoffs := []time.Duration{}
	for _, d := range *sleeps {
		if d >= time.Second {
			backoffs = append(backoffs, d)
		}
	}
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, backoffs)
}

func TestGatewayRetryAfterHint(t *testing.T) {
	g, sleeps := testGateway(GatewayConfig{
		MaxRequests:   100,
		Window:        time.Minute,
		MinDelay:      time.Nanosecond,
		MinWait:       time.Second,
		BackoffFactor: 2,
		MaxRetries:    3,
	})

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitError{RetryAfter: 30 * time.Second}
		}
		return nil
	})
	require.NoError(t, err)

	longest := time.Duration(0)
	for _, d := range *sleeps {
		if d > longest {
			longest = d
		}
	}
	require.Equal(t, 30*time.Second, longest)
}

func TestGatewayRetryBudgetExhausted(t *testing.T) {
	g, _ := testGateway(GatewayConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		MinDelay:    time.Nanosecond,
		MinWait:     time.Second,
		MaxRetries:  3,
	})

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return &RateLimitError{}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, apperrors.ErrCodeRateLimitExceeded, apperrors.CodeOf(err))
}

func TestGatewayNonThrottleErrorNotRetried(t *testing.T) {
	g, _ := testGateway(GatewayConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		MinDelay:    time.Nanosecond,
		MaxRetries:  3,
	})

	calls := 0
	boom := errors.New("boom")
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestGatewaySuccessResetsConsecutiveErrors(t *testing.T) {
	g, sleeps := testGateway(GatewayConfig{
		MaxRequests:   100,
		Window:        time.Minute,
		MinDelay:      time.Nanosecond,
		MinWait:       time.Second,
		BackoffFactor: 2,
		MaxRetries:    3,
	})

	throttleOnce := func() {
		calls := 0
		require.NoError(t, g.Do(context.Background(), func(context.Context) error {
			calls++
			if calls == 1 {
				return &RateLimitError{}
			}
			return nil
		}))
	}

	throttleOnce()
	*sleeps = nil
	// After the success above the counter is back to zero, so the next
	// throttle backs off from minWait again.
	throttleOnce()

	backoffs := []time.Duration{}
	for _, d := range *sleeps {
		if d >= time.Second {
			backoffs = append(backoffs, d)
		}
	}
	require.Equal(t, []time.Duration{time.Second}, backoffs)
}
