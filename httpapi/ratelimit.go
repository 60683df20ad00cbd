package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pkt.systems/afkcraft/schema"
)

const limiterIdleTTL = 30 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// userLimiter keeps one token bucket per user for session mutations.
type userLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[schema.UserKey]*limiterEntry
	swept   time.Time
	now     func() time.Time
}

// newUserLimiter allows perMinute events per user with the given burst. A
// non-positive rate disables limiting.
func newUserLimiter(perMinute float64, burst int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		entries: make(map[schema.UserKey]*limiterEntry),
		now:     time.Now,
	}
}

func (l *userLimiter) allow(user schema.UserKey) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) > limiterIdleTTL {
		for key, entry := range l.entries {
			if now.Sub(entry.lastUsed) > limiterIdleTTL {
				delete(l.entries, key)
			}
		}
		l.swept = now
	}
	entry, ok := l.entries[user]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[user] = entry
	}
	entry.lastUsed = now
	return entry.limiter.AllowN(now, 1)
}
