package staffkit

import (
	"math"
	"sync"
	"time"

	"github.com/nhalm/staffkit/clock"
	"golang.org/x/time/rate"
)

const fallbackIdleTTL = 15 * time.Minute

// localLimiter is the per-process token bucket used while the shared store
// is down. It refills at limit/window and holds at most limit tokens, so one
// instance never admits more than the shared limit would over a window.
type localLimiter struct {
	mu        sync.Mutex
	entries   map[string]*localEntry
	rate      rate.Limit
	burst     int
	clock     clock.Clock
	lastPrune time.Time
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLocalLimiter(limit int64, window time.Duration, c clock.Clock) *localLimiter {
	return &localLimiter{
		entries: make(map[string]*localEntry),
		rate:    rate.Limit(float64(limit) / window.Seconds()),
		burst:   int(min(limit, math.MaxInt32)),
		clock:   c,
	}
}

// take spends one token for key and returns whether it was available along
// with the whole tokens left afterwards.
func (l *localLimiter) take(key string) (bool, int64) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > fallbackIdleTTL {
		l.prune(now)
	}

	ent, ok := l.entries[key]
	if !ok {
		ent = &localEntry{lim: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = ent
	}
	ent.lastSeen = now

	allowed := ent.lim.AllowN(now, 1)
	left := int64(math.Floor(ent.lim.TokensAt(now)))
	return allowed, max(0, left)
}

func (l *localLimiter) prune(now time.Time) {
	cutoff := now.Add(-fallbackIdleTTL)
	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
	l.lastPrune = now
}
