package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryPruneThreshold is the key count above which closed windows are dropped.
const memoryPruneThreshold = 4096

type memoryWindow struct {
	closes time.Time
	count  int
}

// MemoryLimiter keeps request windows in process memory. It serves single
// instance deployments and stands in while Redis is unreachable.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*memoryWindow)}
}

// Allow consumes one request from key's window, opening a new window when the
// previous one has closed.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if window <= 0 {
		window = time.Second
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.windows[key]
	if w == nil || !now.Before(w.closes) {
		if w == nil && len(l.windows) >= memoryPruneThreshold {
			l.pruneLocked(now)
		}
		w = &memoryWindow{closes: now.Add(window)}
		l.windows[key] = w
	}
	if w.count >= limit {
		return Result{Allowed: false, Reset: w.closes.UTC()}, nil
	}
	w.count++
	return Result{Allowed: true, Remaining: limit - w.count, Reset: w.closes.UTC()}, nil
}

func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.closes) {
			delete(l.windows, key)
		}
	}
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
