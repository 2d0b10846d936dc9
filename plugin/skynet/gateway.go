// Package skynet talks to the remote social-graph provider. All outbound
// requests funnel through a shared Gateway that enforces the provider's
// rate limits before the provider has to.
package skynet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/hrygo/constellation/internal/errors"
)

// RateLimitError signals that the provider throttled a request.
// RetryAfter carries the provider's hint, zero when absent.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider throttled request, retry after %s", e.RetryAfter)
	}
	return "provider throttled request"
}

// GatewayConfig tunes the request throttle. Zero values fall back to
// the defaults below.
type GatewayConfig struct {
	// MaxRequests is the sliding-window capacity.
	MaxRequests int
	// Window is the sliding-window length.
	Window time.Duration
	// MinDelay is the forced minimum delay between requests.
	MinDelay time.Duration
	// Jitter is the maximum random addition to throttle sleeps.
	Jitter time.Duration
	// MinWait is the exponential backoff base.
	MinWait time.Duration
	// MaxBackoff caps a single backoff sleep.
	MaxBackoff time.Duration
	// BackoffFactor is the exponential backoff multiplier.
	BackoffFactor float64
	// MaxRetries bounds throttle retries per call.
	MaxRetries int
	// MaxInFlight caps concurrent outbound calls.
	MaxInFlight int
	// MinSpacing is the absolute minimum spacing between dispatched
	// calls, independent of the sliding window.
	MinSpacing time.Duration
}

func (c *GatewayConfig) fillDefaults() {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 30
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MinDelay <= 0 {
		c.MinDelay = time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.MinWait <= 0 {
		c.MinWait = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 2
	}
	if c.MinSpacing <= 0 {
		c.MinSpacing = 100 * time.Millisecond
	}
}

// Gateway serializes outbound provider calls. Two throttle layers: a
// sliding window with a forced inter-request delay, and a coarse
// limiter + semaphore capping global spacing and concurrency. Safe for
// concurrent use.
type Gateway struct {
	config GatewayConfig

	mu              sync.Mutex
	timestamps      []time.Time
	lastDispatch    time.Time
	consecutiveErrs int
	rng             *rand.Rand

	sem     chan struct{}
	limiter *rate.Limiter

	// Overridable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway with the given config.
func NewGateway(config GatewayConfig) *Gateway {
	config.fillDefaults()
	return &Gateway{
		config:  config,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sem:     make(chan struct{}, config.MaxInFlight),
		limiter: rate.NewLimiter(rate.Every(config.MinSpacing), 1),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn under the throttle. Throttled calls (fn returning
// *RateLimitError) are retried with exponential backoff up to
// MaxRetries, honoring the provider's Retry-After hint; exhausting the
// budget surfaces a RATE_LIMIT_EXCEEDED error. Other errors return
// unchanged. Any success resets the consecutive-error counter.
func (g *Gateway) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	for attempt := 1; ; attempt++ {
		if err := g.waitTurn(ctx); err != nil {
			return err
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		g.markDispatched()

		err := fn(ctx)
		if err == nil {
			g.mu.Lock()
			g.consecutiveErrs = 0
			g.mu.Unlock()
			return nil
		}

		var throttled *RateLimitError
		if !errors.As(err, &throttled) {
			return err
		}

		g.mu.Lock()
		errCount := g.consecutiveErrs
		g.consecutiveErrs++
		g.mu.Unlock()

		if attempt >= g.config.MaxRetries {
			return apperrors.Wrap(err, apperrors.ErrCodeRateLimitExceeded,
				fmt.Sprintf("provider still throttling after %d attempts", attempt))
		}

		wait := g.backoff(errCount)
		if throttled.RetryAfter > wait {
			wait = throttled.RetryAfter
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// waitTurn blocks until the sliding window and the forced minimum delay
// both allow another request.
func (g *Gateway) waitTurn(ctx context.Context) error {
	for {
		wait := g.nextWait()
		if wait <= 0 {
			return nil
		}
		if err := g.sleep(ctx, wait+g.jitter()); err != nil {
			return err
		}
	}
}

func (g *Gateway) nextWait() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.config.Window)
	kept := g.timestamps[:0]
	for _, ts := range g.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.timestamps = kept

	var windowWait time.Duration
	if len(g.timestamps) >= g.config.MaxRequests {
		windowWait = g.timestamps[0].Add(g.config.Window).Sub(now)
	}

	var delayWait time.Duration
	if !g.lastDispatch.IsZero() {
		if since := now.Sub(g.lastDispatch); since < g.config.MinDelay {
			delayWait = g.config.MinDelay - since
		}
	}

	if windowWait > delayWait {
		return windowWait
	}
	return delayWait
}

func (g *Gateway) markDispatched() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.timestamps = append(g.timestamps, now)
	g.lastDispatch = now
}

func (g *Gateway) jitter() time.Duration {
	if g.config.Jitter <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Duration(g.rng.Int63n(int64(g.config.Jitter)))
}

// backoff computes min(maxBackoff, minWait * factor^errCount).
func (g *Gateway) backoff(errCount int) time.Duration {
	d := time.Duration(float64(g.config.MinWait) * math.Pow(g.config.BackoffFactor, float64(errCount)))
	if d > g.config.MaxBackoff || d <= 0 {
		return g.config.MaxBackoff
	}
	return d
}
