// Package ratelimit bounds per-session request rates over a
// trailing window.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count       int
	windowStart time.Time
}

// Limiter counts requests per session identifier within a trailing
// window. Check-and-increment is a single atomic step under one lock,
// so two concurrent callers can never both claim the last slot.
type Limiter struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration
	now     func() time.Time
	items   map[string]window
}

func New(ceiling int, windowSize time.Duration) *Limiter {
	if ceiling <= 0 {
		ceiling = 60
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	return &Limiter{
		ceiling: ceiling,
		window:  windowSize,
		now:     time.Now,
		items:   make(map[string]window),
	}
}

// Allow reports whether one more request fits in the session's
// current window, recording it if so. Once the ceiling is reached it
// returns false without mutating state. Expired windows are reset
// lazily on access; idle identifiers are never scanned.
func (l *Limiter) Allow(sessionID string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	curr, ok := l.items[sessionID]
	if !ok || now.Sub(curr.windowStart) >= l.window {
		curr = window{count: 0, windowStart: now}
	}
	if curr.count >= l.ceiling {
		return false
	}
	curr.count++
	l.items[sessionID] = curr
	return true
}

// Forget releases window state for a destroyed session.
func (l *Limiter) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.items, sessionID)
	l.mu.Unlock()
}

// SetNow overrides the clock. Tests only.
func (l *Limiter) SetNow(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}
