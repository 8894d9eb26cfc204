// Package ratelimit bounds restart-and-allocate retries per conference.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults for restart rate limiting.
const (
	DefaultMinInterval = 10 * time.Second
	DefaultInterval    = 60 * time.Second
	DefaultMaxRequests = 3
)

// Limiter admits a request only when both hold: the most recent accepted
// request is at least minInterval old, and fewer than maxRequests were
// accepted within the trailing interval window. A timestamp exactly at
// the window edge still counts against the limit.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	interval    time.Duration
	maxRequests int
	accepted    []time.Time

	// now is replaceable in tests
	now func() time.Time
}

// New creates a limiter with the given bounds.
func New(minInterval, interval time.Duration, maxRequests int) *Limiter {
	return &Limiter{
		minInterval: minInterval,
		interval:    interval,
		maxRequests: maxRequests,
		now:         time.Now,
	}
}

// NewDefault creates a limiter with the default bounds.
func NewDefault() *Limiter {
	return New(DefaultMinInterval, DefaultInterval, DefaultMaxRequests)
}

// Accept reports whether a request is admitted now, recording it if so.
func (l *Limiter) Accept() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if n := len(l.accepted); n > 0 {
		if now.Sub(l.accepted[n-1]) < l.minInterval {
			return false
		}
		if n >= l.maxRequests {
			return false
		}
	}

	l.accepted = append(l.accepted, now)
	return true
}

// TimeUntilNextRequest reports how long until the min-interval condition
// clears. It says nothing about the trailing window; callers poll for
// window openings.
func (l *Limiter) TimeUntilNextRequest() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.accepted) == 0 {
		return 0
	}
	deficit := l.minInterval - l.now().Sub(l.accepted[len(l.accepted)-1])
	if deficit < 0 {
		return 0
	}
	return deficit
}

// pruneLocked drops timestamps strictly older than now - interval.
// Entries exactly at the edge are retained.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.interval)
	i := 0
	for i < len(l.accepted) && l.accepted[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.accepted = append(l.accepted[:0], l.accepted[i:]...)
	}
}
