package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/mwalsh/polyflow/internal/telemetry"
)

// ErrAuthExpired marks a 401 whose credentials can be refreshed. The
// HTTP client refreshes once and replays; it is not retried here.
var ErrAuthExpired = errors.New("auth credentials expired")

// HTTPError carries the status code of a failed exchange request so
// the retry policy can classify it.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying: request timeout,
// rate limiting, server errors and network timeouts. Other 4xx codes
// are permanent and fail immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthExpired) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 408, httpErr.StatusCode == 429:
			return true
		case httpErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Connection resets, refused connections and DNS failures arrive
	// as *net.OpError wrapped by the http client.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Policy holds the backoff schedule for retried operations.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	sleep func(context.Context, time.Duration) error
	randf func() float64
}

func NewPolicy(maxAttempts int, initial, max time.Duration, multiplier float64) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if multiplier <= 1 {
		multiplier = 2.0
	}
	return &Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   multiplier,
		sleep:        sleepCtx,
		randf:        rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NextDelay returns the pause before retry number attempt (0-based),
// exponential with a cap and ±25% jitter, never below 100ms.
func (p *Policy) NextDelay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if capped := float64(p.MaxDelay); base > capped {
		base = capped
	}
	jitter := 1 + (p.randf()-0.5)*0.5 // 0.75 .. 1.25
	d := time.Duration(base * jitter)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// Do runs fn until it succeeds, returns a permanent error, or the
// attempt budget is exhausted. The last error is returned unwrapped so
// callers can still classify it.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.NextDelay(attempt)
		telemetry.Warnf("%s failed (attempt %d/%d), retrying in %s: %v",
			op, attempt+1, p.MaxAttempts, delay, lastErr)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: exhausted %d attempts: %w", op, p.MaxAttempts, lastErr)
}

// DoValue is Do for operations returning a value. retryResult, when
// non-nil, can force a retry on a successful call whose result is
// unusable (for example an empty order book during settlement).
func DoValue[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error), retryResult func(T) bool) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			if retryResult == nil || !retryResult(v) {
				return v, nil
			}
			lastErr = fmt.Errorf("%s: unusable result", op)
		} else {
			if !IsTransient(err) {
				return zero, err
			}
			lastErr = err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.NextDelay(attempt)
		telemetry.Warnf("%s failed (attempt %d/%d), retrying in %s: %v",
			op, attempt+1, p.MaxAttempts, delay, lastErr)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s: exhausted %d attempts: %w", op, p.MaxAttempts, lastErr)
}
