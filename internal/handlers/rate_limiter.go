package handlers

import (
	"strings"
	"sync"
	"time"
)

// attemptLimiter caps how many times one principal may hit an endpoint within a fixed window.
// A nil limiter allows everything.
type attemptLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]attemptWindow
}

type attemptWindow struct {
	count int
	reset time.Time
}

func newAttemptLimiter(limit int, window time.Duration, clock func() time.Time) *attemptLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &attemptLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]attemptWindow),
	}
}

// Allow records an attempt for key and reports whether it is within the limit.
func (l *attemptLimiter) Allow(key string) bool {
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
	if !ok || !now.Before(current.reset) {
		l.windows[key] = attemptWindow{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current
	return true
}

func (l *attemptLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
