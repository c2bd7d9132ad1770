package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mwalsh/polyflow/internal/telemetry"
)

// Limiter gates outbound exchange requests against two sliding quotas:
// a burst limit (large quota, minimum inter-arrival spacing once full)
// and a sustained limit (small quota over a one-second window).
//
// The whole evict+check+sleep+record sequence runs under one mutex so
// concurrent callers cannot overrun a quota between the check and the
// record.
type Limiter struct {
	burstLimit     int
	sustainedLimit int
	window         time.Duration

	mu        sync.Mutex
	burst     []time.Time
	sustained []time.Time

	totalRequests int64
	totalDelays   int64
	totalDelay    time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(burstLimit, sustainedLimit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		burstLimit:     burstLimit,
		sustainedLimit: sustainedLimit,
		window:         window,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until n request slots are available and records them.
// It returns how long the caller was held at the gate. No exchange
// request may bypass this call.
func (l *Limiter) Acquire(ctx context.Context, n int) (time.Duration, error) {
	if n <= 0 {
		n = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var waited time.Duration

	l.evictSustained(now)

	// Sustained window: wait for the oldest entry to age out.
	if len(l.sustained)+n > l.sustainedLimit && len(l.sustained) > 0 {
		wait := l.sustained[0].Add(l.window).Sub(now)
		if wait > 0 {
			telemetry.Debugf("ratelimit: sustained quota full (%d/%d), waiting %s",
				len(l.sustained), l.sustainedLimit, wait)
			if err := l.sleep(ctx, wait); err != nil {
				return waited, err
			}
			waited += wait
			now = l.now()
			l.evictSustained(now)
		}
	}

	// Burst quota: enforce minimum spacing scaled by n once the
	// burst queue is full.
	if len(l.burst)+n > l.burstLimit && len(l.burst) > 0 {
		minInterval := l.window / time.Duration(l.burstLimit)
		last := l.burst[len(l.burst)-1]
		wait := last.Add(minInterval * time.Duration(n)).Sub(now)
		if wait > 0 {
			telemetry.Debugf("ratelimit: burst quota full, waiting %s", wait)
			if err := l.sleep(ctx, wait); err != nil {
				return waited, err
			}
			waited += wait
			now = l.now()
		}
	}

	for i := 0; i < n; i++ {
		l.burst = append(l.burst, now)
		l.sustained = append(l.sustained, now)
	}
	// Burst queue behaves like a fixed-size ring: only the newest
	// burstLimit entries matter for spacing.
	if over := len(l.burst) - l.burstLimit; over > 0 {
		l.burst = l.burst[over:]
	}

	l.totalRequests += int64(n)
	if waited > 0 {
		l.totalDelays++
		l.totalDelay += waited
		telemetry.Metrics.RateLimiterWait.Record(waited)
	}
	return waited, nil
}

// caller must hold mu
func (l *Limiter) evictSustained(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.sustained) && !l.sustained[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sustained = l.sustained[i:]
	}
}

type Stats struct {
	TotalRequests  int64
	RecentRequests int
	TotalDelays    int64
	TotalDelayTime time.Duration
	BurstLimit     int
	SustainedLimit int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictSustained(l.now())
	return Stats{
		TotalRequests:  l.totalRequests,
		RecentRequests: len(l.sustained),
		TotalDelays:    l.totalDelays,
		TotalDelayTime: l.totalDelay,
		BurstLimit:     l.burstLimit,
		SustainedLimit: l.sustainedLimit,
	}
}
