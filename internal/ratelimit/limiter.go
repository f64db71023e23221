// Package ratelimit provides a sliding-window admission guard keyed by
// caller identity. The window trails continuously, so a burst cannot
// straddle two fixed buckets to exceed twice the limit.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits up to limit calls per key within a trailing window.
// State is process-local and rebuilt empty on restart.
type Limiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Limiter with the given policy.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		history: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a call for key is admitted under the policy and,
// if so, records it. An unknown key behaves as an empty history.
func (l *Limiter) Allow(key string) bool {
	if l.limit <= 0 {
		return false
	}
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := trim(l.history[key], cutoff)
	if len(recent) >= l.limit {
		l.history[key] = recent
		return false
	}
	l.history[key] = append(recent, now)
	return true
}

// Sweep removes keys whose entire history has aged out, bounding memory.
// Safe to call concurrently with Allow.
func (l *Limiter) Sweep() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, stamps := range l.history {
		recent := trim(stamps, cutoff)
		if len(recent) == 0 {
			delete(l.history, key)
			continue
		}
		l.history[key] = recent
	}
}

// trim drops timestamps at or before cutoff. History is append-ordered,
// so the first retained index splits the slice.
func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	for i, ts := range stamps {
		if ts.After(cutoff) {
			return append(stamps[:0:0], stamps[i:]...)
		}
	}
	return nil
}
