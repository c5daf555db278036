package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Entry is the index record for one admitted or in-progress cache item
// (spec §3 CacheEntry, §4.6). Only Store constructs these, via newEntry.
type Entry struct {
	mu   sync.Mutex
	cond *sync.Cond

	PK           string
	Origin       string
	Collection   string
	Metadata     map[string]string
	ExpectedSize int64
	CurrentSize  int64
	Finished     bool
	Err          error
	Pinned       bool
	TTLExpiresAt *time.Time

	AccessCount atomic.Uint64

	path string // tmp path while building, final on-disk path once finished
}

// Info is an immutable snapshot of an Entry's externally observable state
// (spec §6's contract table: pk, finished, current_size/expected_size,
// pinned/ttl_expires_at).
type Info struct {
	PK           string
	Origin       string
	Collection   string
	ExpectedSize int64
	CurrentSize  int64
	Finished     bool
	Err          error
	Pinned       bool
	TTLExpiresAt *time.Time
	AccessCount  uint64
}

func newEntry() *Entry {
	e := &Entry{Metadata: map[string]string{}}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// snapshot returns a point-in-time copy of the entry's state.
func (e *Entry) snapshot() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ttl *time.Time
	if e.TTLExpiresAt != nil {
		t := *e.TTLExpiresAt
		ttl = &t
	}
	return Info{
		PK:           e.PK,
		Origin:       e.Origin,
		Collection:   e.Collection,
		ExpectedSize: e.ExpectedSize,
		CurrentSize:  e.CurrentSize,
		Finished:     e.Finished,
		Err:          e.Err,
		Pinned:       e.Pinned,
		TTLExpiresAt: ttl,
		AccessCount:  e.AccessCount.Load(),
	}
}

// evictable reports whether the entry may be considered for LRU eviction:
// neither pinned nor within a live TTL (spec §4.6).
func (e *Entry) evictable(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Pinned {
		return false
	}
	if e.TTLExpiresAt != nil && e.TTLExpiresAt.After(now) {
		return false
	}
	return true
}
