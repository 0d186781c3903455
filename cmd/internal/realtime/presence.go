package realtime

import (
	"sync"
	"time"
)

// Presence tracks user id -> last activity. It is safe for concurrent use.
//
// The online count is always the number of live entries: coming online adds an entry,
// and each stale entry is evicted exactly once, under mu.
type Presence struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[int64]time.Time
}

// NewPresence constructs a registry. ttl <= 0 uses 5 minutes; nil now uses time.Now.
func NewPresence(ttl time.Duration, now func() time.Time) *Presence {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Presence{
		ttl:  ttl,
		now:  now,
		seen: make(map[int64]time.Time),
	}
}

// Touch records userID as active now and reports whether the user came online
// (no previous entry, or the previous entry had gone stale).
func (p *Presence) Touch(userID int64) bool {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.seen[userID]
	p.seen[userID] = now
	return !ok || p.stale(last, now)
}

// IsOnline reports whether userID was active within the threshold.
func (p *Presence) IsOnline(userID int64) bool {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.seen[userID]
	return ok && !p.stale(last, now)
}

// Sweep evicts stale entries and returns how many were removed.
func (p *Presence) Sweep() int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sweepLocked(now)
}

// OnlineCount sweeps stale entries, then returns the number of online users.
func (p *Presence) OnlineCount() int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweepLocked(now)
	return len(p.seen)
}

func (p *Presence) sweepLocked(now time.Time) int {
	evicted := 0
	for id, last := range p.seen {
		if p.stale(last, now) {
			delete(p.seen, id)
			evicted++
		}
	}
	return evicted
}

func (p *Presence) stale(last, now time.Time) bool {
	return now.Sub(last) > p.ttl
}
