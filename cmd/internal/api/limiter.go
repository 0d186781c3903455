package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool is a per-user token-bucket pool backed by golang.org/x/time/rate.
// Idle entries are dropped lazily on access once per cleanup period.
type limiterPool struct {
	mu      sync.Mutex
	m       map[int64]*limiterEntry
	rps     rate.Limit
	burst   int
	ttl     time.Duration
	lastGC  time.Time
	gcEvery time.Duration
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiterPool{
		m:       make(map[int64]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     10 * time.Minute,
		gcEvery: time.Minute,
	}
}

// Reserve takes a token for userID. When none is available it returns false and how long
// the caller should wait before retrying.
func (p *limiterPool) Reserve(userID int64, now time.Time) (bool, time.Duration) {
	l := p.get(userID, now)
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (p *limiterPool) get(userID int64, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastGC) >= p.gcEvery {
		cutoff := now.Add(-p.ttl)
		for k, e := range p.m {
			if e.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
		p.lastGC = now
	}

	if e, ok := p.m[userID]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[userID] = &limiterEntry{l: l, lastSeen: now}
	return l
}
