package network

import (
	"sync"
	"time"
)

// connectionLimiter counts accepted connections per remote IP over a sliding
// window.
type connectionLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	seen   map[string][]time.Time
}

func newConnectionLimiter(limit int, window time.Duration) *connectionLimiter {
	return &connectionLimiter{
		limit:  limit,
		window: window,
		seen:   make(map[string][]time.Time),
	}
}

func (l *connectionLimiter) allow(remoteIP string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	recent := l.seen[remoteIP][:0]
	for _, at := range l.seen[remoteIP] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= l.limit {
		l.seen[remoteIP] = recent
		return false
	}
	l.seen[remoteIP] = append(recent, now)

	// Forget idle addresses so the map does not grow without bound.
	if len(l.seen) > 1024 {
		for ip, times := range l.seen {
			if len(times) == 0 || !times[len(times)-1].After(cutoff) {
				delete(l.seen, ip)
			}
		}
	}
	return true
}
