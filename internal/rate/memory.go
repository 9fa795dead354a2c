// Package rate is a small in-memory fixed-window limiter guarding the
// submission endpoints.
package rate

import (
	"sync"
	"time"
)

type window struct {
	hits  int
	since time.Time
}

type Limiter struct {
	mu      sync.Mutex
	windows map[string]window
	sweptAt time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{windows: map[string]window{}, sweptAt: time.Now().UTC()}
}

// Allow records a hit for key and reports whether it stays within limit for
// the given window. Stale windows are garbage collected opportunistically.
func (l *Limiter) Allow(key string, limit int, span time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	if now.Sub(l.sweptAt) > time.Minute {
		for k, w := range l.windows {
			if now.Sub(w.since) > 3*span {
				delete(l.windows, k)
			}
		}
		l.sweptAt = now
	}
	w, ok := l.windows[key]
	if !ok || now.Sub(w.since) >= span {
		l.windows[key] = window{hits: 1, since: now}
		return true
	}
	if w.hits >= limit {
		return false
	}
	w.hits++
	l.windows[key] = w
	return true
}

// Reset clears the window for key, e.g. after an accepted submission.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}
