// Package ratelimit implements a per-identifier sliding-window rate limiter.
//
// State lives in an in-process map: limits are per instance, not shared across
// replicas. Identifiers are caller IPs or API keys.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration // zero when Allowed
}

// Limiter tracks request timestamps per identifier over a sliding window.
//
// Limiter is safe for concurrent use by multiple goroutines.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string][]time.Time
	lastGC  time.Time
}

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 60

	// DefaultWindow is the sliding-window length.
	DefaultWindow = time.Minute

	// gcInterval bounds how often the full entries map is swept for
	// identifiers that have gone idle.
	gcInterval = 5 * time.Minute
)

// New creates a Limiter allowing limit requests per window.
// Non-positive arguments select the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string][]time.Time),
	}
}

// Check records one request for identifier and reports whether it is allowed.
// Denied requests are not recorded, so a client that backs off regains
// capacity as soon as its oldest allowed request slides out.
func (l *Limiter) Check(identifier string) Decision {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeGC(now, cutoff)

	// Drop timestamps that have slid out of the window.
	recent := l.entries[identifier][:0]
	for _, ts := range l.entries[identifier] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.limit {
		l.entries[identifier] = recent
		// The window frees a slot when the oldest recorded request expires.
		reset := recent[0].Add(l.window)
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: reset.Sub(now),
		}
	}

	recent = append(recent, now)
	l.entries[identifier] = recent

	return Decision{
		Allowed:   true,
		Remaining: l.limit - len(recent),
		ResetTime: recent[0].Add(l.window),
	}
}

// maybeGC sweeps identifiers whose every timestamp has expired.
// Caller must hold l.mu.
func (l *Limiter) maybeGC(now, cutoff time.Time) {
	if now.Sub(l.lastGC) < gcInterval {
		return
	}
	l.lastGC = now
	for id, stamps := range l.entries {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.entries, id)
		}
	}
}
