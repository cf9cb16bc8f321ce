package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// caseLimiter keeps one token bucket per case.
type caseLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*caseBucket
	idle    time.Duration
	now     func() time.Time
}

type caseBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newCaseLimiter returns a limiter allowing rps sustained requests per case.
// A non-positive rps disables limiting.
func newCaseLimiter(rps float64, burst int) *caseLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &caseLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*caseBucket),
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (l *caseLimiter) Allow(caseID string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[caseID]
	if !ok {
		b = &caseBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[caseID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep forgets buckets idle for longer than the idle window.
func (l *caseLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}

// run sweeps periodically until stop is closed.
func (l *caseLimiter) run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}
