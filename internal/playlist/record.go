// Package playlist implements the Playlist Core (spec §4.7): ordered
// PlaylistRecord sequences under a single-writer/multi-reader discipline,
// with capacity, default TTL, lazy-PK indirection, and change notification.
package playlist

import (
	"strings"
	"time"
)

// lazyPKPrefix marks a cache_pk as a reference to a not-yet-admitted cache
// entry (spec §3's PlaylistRecord: "cache_pk may be a lazy PK ... when
// resolved, all records bearing the old key are rewritten atomically").
const lazyPKPrefix = "lazy:"

// IsLazyPK reports whether pk is a placeholder awaiting resolution via
// UpdateCachePK, rather than a real content-addressed cache key.
func IsLazyPK(pk string) bool { return strings.HasPrefix(pk, lazyPKPrefix) }

// NewLazyPK returns the lazy placeholder key for id. The same id always
// yields the same key; distinct ids yield distinct keys.
func NewLazyPK(id string) string { return lazyPKPrefix + id }

// Record is one entry in a playlist (spec §3's PlaylistRecord): a reference
// into the audio cache (C6) plus an optional per-record TTL overriding the
// playlist's default.
type Record struct {
	CachePK string     `json:"cachePk"`
	TTL     *time.Time `json:"ttl,omitempty"`
}
