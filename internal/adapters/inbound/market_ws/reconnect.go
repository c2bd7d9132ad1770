package market_ws

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ReconnectState tracks consecutive connection failures and computes
// the next backoff delay. The failure count resets only on a
// successful connection, so a flapping link keeps climbing toward the
// cap instead of hammering the endpoint.
type ReconnectState struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     time.Duration

	mu       sync.Mutex
	failures int

	randf func() float64
}

func NewReconnectState(initial, max time.Duration, multiplier float64, jitter time.Duration) *ReconnectState {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	if multiplier <= 1 {
		multiplier = 2.0
	}
	return &ReconnectState{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		jitter:     jitter,
		randf:      rand.Float64,
	}
}

// NextBackoff returns the delay before the next dial attempt, based on
// the current failure count.
func (r *ReconnectState) NextBackoff() time.Duration {
	r.mu.Lock()
	failures := r.failures
	r.mu.Unlock()

	base := float64(r.initial) * math.Pow(r.multiplier, float64(failures))
	if capped := float64(r.max); base > capped {
		base = capped
	}
	return time.Duration(base) + time.Duration(r.randf()*float64(r.jitter))
}

// RecordFailure bumps the consecutive failure count.
func (r *ReconnectState) RecordFailure() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

// RecordSuccess resets the failure count. A successful dial that drops
// moments later still resets; the next failure starts the ladder over.
func (r *ReconnectState) RecordSuccess() {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}

// Failures returns the current consecutive failure count.
func (r *ReconnectState) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}
