package chat

import (
	"sync"
	"time"
)

const DefaultRateLimit = 20

// RateLimiter admits up to limit requests per user per minute-aligned
// window. State is process-local; a restart forgets all counters, which is
// acceptable for an advisory abuse guard.
type RateLimiter struct {
	limit   int
	entries sync.Map // int64 -> *rateEntry
	now     func() time.Time
}

type rateEntry struct {
	mu     sync.Mutex
	count  int
	window time.Time
}

func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &RateLimiter{limit: limit, now: time.Now}
}

// Allow reports whether the user may proceed, counting this request if so.
// Each user has its own entry and lock; unrelated users never contend.
func (l *RateLimiter) Allow(userID int64) bool {
	window := l.now().UTC().Truncate(time.Minute)
	val, _ := l.entries.LoadOrStore(userID, &rateEntry{})
	entry := val.(*rateEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.window.Before(window) {
		entry.window = window
		entry.count = 1
		return true
	}
	if entry.count < l.limit {
		entry.count++
		return true
	}
	return false
}
