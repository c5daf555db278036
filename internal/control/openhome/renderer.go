package openhome

import "context"

// TrackEntry is one row of a renderer's raw playlist, as returned by
// RendererOps.ReadAllTracks.
type TrackEntry struct {
	ID      uint32
	URI     string
	DIDLXML string
}

// RendererOps is the narrow capability the synchronizer drives (spec §6):
// insert/delete/seek primitives plus two read operations for re-reading
// the renderer's live state before every reconciliation.
type RendererOps interface {
	Insert(ctx context.Context, afterID uint32, uri, didlXML string) (newID uint32, err error)
	DeleteID(ctx context.Context, id uint32) error
	// DeleteIDIfExists succeeds even if id is already gone — tolerating a
	// concurrent controller's edits (spec §4.8, §E.2).
	DeleteIDIfExists(ctx context.Context, id uint32) error
	DeleteAll(ctx context.Context) error
	SeekID(ctx context.Context, id uint32) error
	IDArray(ctx context.Context) ([]uint32, error)
	// CurrentID returns the renderer-assigned id of the currently playing
	// track, or ok=false if nothing is playing.
	CurrentID(ctx context.Context) (id uint32, ok bool, err error)
	ReadAllTracks(ctx context.Context) ([]TrackEntry, error)
}
