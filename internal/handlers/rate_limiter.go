package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// sweepInterval bounds how often expired windows are swept. Sweeping on a
// count of admissions keeps Allow O(1) in the common case.
const sweepInterval = 64

// fixedWindowLimiter throttles order creation per caller. Each caller gets a
// counter that resets when its window elapses; state for idle callers is
// swept periodically so the map does not grow with every user ever seen.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu         sync.Mutex
	windows    map[string]callerWindow
	admissions int
}

type callerWindow struct {
	count     int
	expiresAt time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]callerWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.expiresAt) {
		current = callerWindow{expiresAt: now.Add(l.window)}
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current

	l.admissions++
	if l.admissions >= sweepInterval {
		l.admissions = 0
		for k, w := range l.windows {
			if !now.Before(w.expiresAt) {
				delete(l.windows, k)
			}
		}
	}
	return true
}
