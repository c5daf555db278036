package chunk

import "github.com/coissac/pmomusic/internal/metadata"

// SyncMarker is the closed set of non-audio control events that can travel
// alongside audio chunks in the pipeline (spec §3, §4.4): a zero-point
// marker, a track boundary carrying fresh metadata, end-of-stream, an
// inline error, and a liveness heartbeat.
type SyncMarker interface {
	isSyncMarker()
}

// TopZeroSync marks the pipeline's reference zero timestamp, emitted once
// by a source node before its first audio chunk.
type TopZeroSync struct{}

func (TopZeroSync) isSyncMarker() {}

// TrackBoundary announces a new track starting at Timestamp, in playback
// Order, carrying a handle to the new track's metadata. Metadata is the
// MetadataProvider capability (spec §3, §6) itself, not a point-in-time
// snapshot: it is a shared, mutable-under-lock handle, so a source that
// keeps updating fields after emitting the boundary (e.g. a late-arriving
// cover URL) is observed live by every downstream consumer holding the
// same TrackBoundary.
type TrackBoundary struct {
	Order     uint64
	Timestamp float64
	Metadata  metadata.Provider
}

func (TrackBoundary) isSyncMarker() {}

// EndOfStream signals the source has no more audio to produce. FinalTimestamp
// is the stream position just past the last audio chunk emitted before this
// marker (that chunk's timestamp plus its duration).
type EndOfStream struct {
	Order          uint64
	FinalTimestamp float64
}

func (EndOfStream) isSyncMarker() {}

// ErrorMarker carries a non-fatal error downstream inline with the audio
// stream, for sinks that want to log or surface it without tearing down the
// pipeline (e.g. a transient decode glitch).
type ErrorMarker struct {
	Message string
}

func (ErrorMarker) isSyncMarker() {}

// Heartbeat is a liveness marker that carries no audio. None of the source
// nodes in this module emit it.
type Heartbeat struct{}

func (Heartbeat) isSyncMarker() {}
