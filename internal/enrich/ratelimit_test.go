package enrich

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewSlidingWindowLimiter(3, 10*time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if l.Allow() {
		t.Fatal("4th request within window should be rejected")
	}
	if got := l.Remaining(); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}

	// Denied requests consume no slot: still rejected, still 0 left.
	if l.Allow() {
		t.Fatal("repeat rejection expected")
	}

	// Half the window later nothing has expired yet.
	now = now.Add(5 * time.Minute)
	if l.Allow() {
		t.Fatal("request should still be rejected mid-window")
	}

	// Once the first admissions fall out of the window, capacity returns.
	now = now.Add(5*time.Minute + time.Second)
	if !l.Allow() {
		t.Fatal("request should be admitted after window slides")
	}
}

func TestSlidingWindowLimiterDefaults(t *testing.T) {
	l := NewSlidingWindowLimiter(0, 0)
	if l.max != 1 || l.window != time.Minute {
		t.Fatalf("defaults not applied: max=%d window=%v", l.max, l.window)
	}
}
