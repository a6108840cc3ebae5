package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fixedClock lets tests advance time manually.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, window)
	l.now = clock.now
	return l, clock
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(60, time.Minute)

	for i := 0; i < 60; i++ {
		d := l.Check("client-a")
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if want := 60 - (i + 1); d.Remaining != want {
			t.Errorf("request %d: remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}
}

func TestLimiter_DeniesRequestOverLimit(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(60, time.Minute)

	for i := 0; i < 60; i++ {
		l.Check("client-a")
	}

	d := l.Check("client-a")
	if d.Allowed {
		t.Fatal("61st request within the window should be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("retryAfter = %v, want in (0, 1m]", d.RetryAfter)
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(2, time.Minute)

	l.Check("client-a")
	clock.advance(30 * time.Second)
	l.Check("client-a")

	if d := l.Check("client-a"); d.Allowed {
		t.Fatal("third request inside window should be denied")
	}

	// First request slides out at t+60s.
	clock.advance(31 * time.Second)
	if d := l.Check("client-a"); !d.Allowed {
		t.Fatal("request after oldest slid out should be allowed")
	}
}

func TestLimiter_IdentifiersIsolated(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(1, time.Minute)

	if d := l.Check("client-a"); !d.Allowed {
		t.Fatal("first request for client-a should be allowed")
	}
	if d := l.Check("client-b"); !d.Allowed {
		t.Fatal("client-b should not share client-a's window")
	}
	if d := l.Check("client-a"); d.Allowed {
		t.Fatal("second request for client-a should be denied")
	}
}

func TestLimiter_ConcurrentSafety(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(100, time.Minute)

	var wg sync.WaitGroup
	allowed := make([]int, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if l.Check("shared").Allowed {
					allowed[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range allowed {
		total += n
	}
	if total != 100 {
		t.Errorf("allowed %d of 200 concurrent requests, want exactly 100", total)
	}
}

func TestLimiter_GCRemovesIdleEntries(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(5, time.Minute)

	for i := 0; i < 50; i++ {
		l.Check(fmt.Sprintf("client-%d", i))
	}

	clock.advance(10 * time.Minute)
	l.Check("fresh")

	l.mu.Lock()
	n := len(l.entries)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("entries = %d after GC, want 1", n)
	}
}
