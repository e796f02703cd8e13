package abuse

import (
	"sync"
	"time"
)

// Entry is a ban or mute with an expiry. Entries decay lazily: an expired
// entry counts as absent and is evicted on lookup.
type Entry struct {
	Until  time.Time `json:"until"`
	Reason string    `json:"reason"`
}

// List is an expiring key -> Entry map. Bans key by IP, mutes by an abuse
// key (typically the userId).
type List struct {
	mu      sync.Mutex
	entries map[string]Entry

	now func() time.Time
}

func NewList() *List {
	return &List{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

func (l *List) Add(key string, d time.Duration, reason string) {
	if d < time.Minute {
		d = time.Minute
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = Entry{Until: l.now().Add(d), Reason: reason}
}

func (l *List) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Check reports whether the key is currently listed.
func (l *List) Check(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return false
	}
	if !l.now().Before(e.Until) {
		delete(l.entries, key)
		return false
	}
	return true
}

// Snapshot returns a copy of the live entries for the admin state view.
func (l *List) Snapshot() map[string]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[string]Entry, len(l.entries))
	for key, e := range l.entries {
		if now.Before(e.Until) {
			out[key] = e
		}
	}
	return out
}

// Purge evicts expired entries eagerly. Called by the background sweeper.
func (l *List) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if !now.Before(e.Until) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
