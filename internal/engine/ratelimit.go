package engine

import (
	"sync"
	"time"
)

// Admission is the result of a rate-limit check. RetryAfter is meaningful
// only when Admitted is false.
type Admission struct {
	Admitted   bool
	RetryAfter time.Duration
}

// SlidingLimiter admits requests per identity using a sliding window of
// timestamps: a request is admitted iff fewer than ceiling timestamps fall
// within the trailing window. Check-and-record is one atomic step under the
// mutex, so a race can never admit more than the ceiling. Distinct
// identities are fully independent.
type SlidingLimiter struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration
	buckets map[string][]time.Time
	now     func() time.Time // overridable in tests
}

// NewSlidingLimiter creates a limiter admitting up to ceiling requests per
// identity within window.
func NewSlidingLimiter(ceiling int, window time.Duration) *SlidingLimiter {
	return &SlidingLimiter{
		ceiling: ceiling,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// TryAdmit checks and records cost requests for identity. On rejection
// nothing is recorded and RetryAfter says when the oldest in-window entry
// falls out of the window.
func (l *SlidingLimiter) TryAdmit(identity string, cost int) Admission {
	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Drop expired timestamps; reclaim the bucket once its window empties.
	ts := l.buckets[identity]
	keep := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	if len(keep) == 0 {
		delete(l.buckets, identity)
		keep = nil
	}

	if len(keep)+cost > l.ceiling {
		metrics.RateLimitRejections.Add(1)
		retryAfter := l.window
		if len(keep) > 0 {
			retryAfter = l.window - now.Sub(keep[0])
		}
		if len(keep) > 0 {
			l.buckets[identity] = keep
		}
		return Admission{Admitted: false, RetryAfter: retryAfter}
	}

	for i := 0; i < cost; i++ {
		keep = append(keep, now)
	}
	l.buckets[identity] = keep
	return Admission{Admitted: true}
}

// Identities returns the number of identities currently tracked.
func (l *SlidingLimiter) Identities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
