package enrich

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most max requests per trailing window.
// Rejected callers are expected to skip their work, not queue: the
// enrichment pipeline treats a denied slot as "try again next run".
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

func NewSlidingWindowLimiter(max int, window time.Duration) *SlidingWindowLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowLimiter{max: max, window: window, now: time.Now}
}

// Allow records and admits one request if the trailing window has
// capacity. It never blocks.
func (l *SlidingWindowLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.stamps) >= l.max {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// Remaining reports how many admissions the current window has left.
func (l *SlidingWindowLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return l.max - len(l.stamps)
}

func (l *SlidingWindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	keep := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	l.stamps = keep
}
