// Package core holds the error taxonomy and cancellation primitives shared
// by every core subsystem (audio pipeline, broadcast bus, cache, playlist,
// OpenHome synchronizer, event hub).
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds described in spec §7. Callers compare with
// errors.Is rather than matching message strings, mirroring the pattern
// internal/auth uses for ErrInvalidToken/ErrExpiredToken/etc.
var (
	// ErrExpired is returned when a broadcast send's computed expires_at is
	// already in the past by more than the configured grace window.
	ErrExpired = errors.New("pmomusic: packet already expired")

	// ErrClosed is returned by a broadcast bus (or cache/playlist stream)
	// operation performed after the owner closed it and all buffered data
	// was drained.
	ErrClosed = errors.New("pmomusic: channel closed")

	// ErrChildDied indicates a pipeline node's downstream channel was
	// dropped without the consumer returning normally — an invariant
	// violation in the node runtime, not an ordinary completion.
	ErrChildDied = errors.New("pmomusic: child node died without completing")

	// ErrTypeMismatch is returned when pipeline node registration detects
	// an incompatible producer/consumer chunk-type pair.
	ErrTypeMismatch = errors.New("pmomusic: incompatible node type requirement")

	// ErrConflict is returned by the cache when a pin/TTL mutual-exclusion
	// rule (§4.6) is violated.
	ErrConflict = errors.New("pmomusic: conflicting attribute")

	// ErrNotImplemented and ErrReadOnly are transient MetadataProvider
	// errors (§6): copy-metadata helpers swallow these, everything else
	// propagates.
	ErrNotImplemented = errors.New("pmomusic: metadata field not implemented")
	ErrReadOnly       = errors.New("pmomusic: metadata field is read-only")

	// ErrNotFound is returned by cache/playlist lookups for an unknown key.
	ErrNotFound = errors.New("pmomusic: not found")
)

// Lagged is returned by a broadcast receiver whose cursor fell behind the
// buffer head because entries were purged before being read. It carries the
// number of skipped entries so the caller can log/report it once before
// resuming from the fast-forwarded cursor.
type Lagged struct {
	Skipped uint64
}

func (l *Lagged) Error() string {
	return fmt.Sprintf("pmomusic: receiver lagged, skipped %d entries", l.Skipped)
}
