// Package abuse holds the moderation overlays consulted by the message
// pipeline: keyed token-bucket rate limiters and expiring ban/mute lists.
// All state is process-lifetime only.
package abuse

import (
	"sync"
	"time"
)

type bucket struct {
	tokens   float64
	lastTick time.Time
}

// Limiter is a keyed token bucket. Each key gets `capacity` tokens per
// `window`, refilled continuously rather than reset per window.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	window   time.Duration

	now func() time.Time
}

func NewLimiter(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(capacity),
		window:   window,
		now:      time.Now,
	}
}

// Allow consumes one token for the key. It returns false when the bucket
// is empty; the caller decides what the rejection means.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastTick: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastTick)
		if elapsed > 0 {
			b.tokens += l.capacity * float64(elapsed) / float64(l.window)
			if b.tokens > l.capacity {
				b.tokens = l.capacity
			}
			b.lastTick = now
		}
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// PurgeIdle drops buckets that have been full (untouched) long enough to
// have fully refilled. Called by the background sweeper.
func (l *Limiter) PurgeIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-2 * l.window)
	removed := 0
	for key, b := range l.buckets {
		if b.lastTick.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
