package chunk

// Segment is the payload an AudioSegment envelope carries: either an
// AudioChunk or a SyncMarker. Both already implement distinguishing marker
// methods (isSyncMarker is unexported to chunk, so AudioChunk values are
// matched instead by the caller type-asserting against AudioChunk first).
type Segment interface{}

// AudioSegment is the unit that actually travels down a pipeline edge: an
// ordered, timestamped envelope around either a chunk of audio or a control
// marker (spec §3, §4.1). Order is a strictly increasing sequence number
// assigned by the originating source node.
type AudioSegment struct {
	Order        uint64
	TimestampSec float64
	Payload      Segment
}

// NewChunkSegment wraps an AudioChunk as an AudioSegment, taking the
// timestamp from the chunk itself.
func NewChunkSegment(order uint64, c AudioChunk) AudioSegment {
	return AudioSegment{Order: order, TimestampSec: c.Timestamp(), Payload: c}
}

// NewMarkerSegment wraps a SyncMarker as an AudioSegment at the given
// timestamp (markers other than TrackBoundary/EndOfStream don't carry their
// own timestamp, so the caller supplies the pipeline's current one).
func NewMarkerSegment(order uint64, timestampSec float64, m SyncMarker) AudioSegment {
	return AudioSegment{Order: order, TimestampSec: timestampSec, Payload: m}
}

// AsChunk reports whether the segment carries audio, returning the chunk if
// so.
func (s AudioSegment) AsChunk() (AudioChunk, bool) {
	c, ok := s.Payload.(AudioChunk)
	return c, ok
}

// AsMarker reports whether the segment carries a control marker, returning
// it if so.
func (s AudioSegment) AsMarker() (SyncMarker, bool) {
	m, ok := s.Payload.(SyncMarker)
	return m, ok
}

// IsEndOfStream reports whether this segment is an EndOfStream marker,
// the condition pipeline drivers watch for to stop pulling from a source.
func (s AudioSegment) IsEndOfStream() bool {
	_, ok := s.Payload.(EndOfStream)
	return ok
}
