package server

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// ipLimiter enforces a per-IP sliding window on new control connections.
// Idle IPs are swept out periodically so the map stays bounded by the set of
// addresses active within the last window.
type ipLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	attempts  int
	seen      map[string][]time.Time
	lastSweep time.Time
}

func newIPLimiter(window time.Duration, attempts int) *ipLimiter {
	return &ipLimiter{
		window:    window,
		attempts:  attempts,
		seen:      make(map[string][]time.Time),
		lastSweep: time.Now(),
	}
}

// Allow records one attempt from ip and reports whether it is within budget.
func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)
	l.sweep(now, cutoff)

	recent := lo.Filter(l.seen[ip], func(t time.Time, _ int) bool {
		return t.After(cutoff)
	})
	if len(recent) >= l.attempts {
		l.seen[ip] = recent
		return false
	}
	l.seen[ip] = append(recent, now)
	return true
}

// sweep drops every IP whose attempts have all aged out of the window. Runs
// at most once per window; callers hold the mutex.
func (l *ipLimiter) sweep(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for ip, attempts := range l.seen {
		if !lo.SomeBy(attempts, func(t time.Time) bool { return t.After(cutoff) }) {
			delete(l.seen, ip)
		}
	}
}
