package sink

import (
	"github.com/coissac/pmomusic/internal/audio/broadcast"
	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/audio/pipeline"
	"github.com/coissac/pmomusic/internal/core"
)

// broadcastPositiveSentinel is a segmentDuration just above the broadcast
// bus's topZeroEpsilon, used to mark a TopZeroSync send as "has duration"
// (isTopZero) rather than "zero header" (isZeroHeader) — see spec §4.5 and
// the bus's own epoch-restart classification.
const broadcastPositiveSentinel = 1e-6

// BroadcastSink wraps a broadcast.Sender, fanning out every AudioSegment it
// receives exactly per spec §4.5's three-way mapping: a chunk is sent with
// its own timestamp and duration, TopZeroSync is sent as a zero-timestamp,
// positive-duration packet to trigger the bus's epoch restart, and
// EndOfStream closes the sender. Everything else (TrackBoundary, Heartbeat,
// ErrorMarker) forwards as a zero-duration "header" packet so subscribers
// still see it even though it carries no audio.
type BroadcastSink struct {
	Sender *broadcast.Sender[chunk.AudioSegment]
}

// NewBroadcastSink returns a sink node feeding sender.
func NewBroadcastSink(sender *broadcast.Sender[chunk.AudioSegment]) *BroadcastSink {
	return &BroadcastSink{Sender: sender}
}

func (*BroadcastSink) InputType() *pipeline.TypeRequirement {
	r := pipeline.Any()
	return &r
}
func (*BroadcastSink) OutputType() *pipeline.TypeRequirement { return nil }

func (s *BroadcastSink) Run(token pipeline.CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	ctx := pipeline.ContextOf(token)

	for {
		seg, ok := pipeline.Recv(token, in)
		if !ok {
			if token.Cancelled() {
				s.Sender.Close()
				return nil
			}
			return core.ErrChildDied
		}

		if c, isChunk := seg.AsChunk(); isChunk {
			if _, err := s.Sender.Send(ctx, seg, c.Timestamp(), c.Duration()); err != nil {
				return err
			}
			continue
		}

		m, _ := seg.AsMarker()
		switch m.(type) {
		case chunk.TopZeroSync:
			if _, err := s.Sender.Send(ctx, seg, 0, broadcastPositiveSentinel); err != nil {
				return err
			}
		case chunk.EndOfStream:
			s.Sender.Close()
			return nil
		default:
			if _, err := s.Sender.Send(ctx, seg, seg.TimestampSec, 0); err != nil {
				return err
			}
		}
	}
}
