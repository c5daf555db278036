package sink

import (
	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/audio/pipeline"
	"github.com/coissac/pmomusic/internal/core"
)

// AudioDevice is the native output half of the playback sink: a blocking,
// platform-owned handle that accepts fixed-format interleaved stereo
// frames. A real implementation wraps a CGo/ALSA/CoreAudio handle; tests
// use a fake that just records what it was given.
type AudioDevice interface {
	// WriteI16 blocks until frames have been accepted by the device
	// (queued to its internal ring buffer), honoring no cancellation of
	// its own — the playback sink's Run goroutine is the only caller and
	// it owns the device for the node's lifetime.
	WriteI16(frames []chunk.Frame[chunk.I16]) error
	// Drain blocks until the device's internal buffer has fully played
	// out, called once on EndOfStream before the sink returns.
	Drain() error
	// Close releases the device.
	Close() error
}

// PlaybackSink converts any input chunk variant to 16-bit integer PCM
// (narrowing by arithmetic right shift; the float path clamps then scales,
// per spec §4.5 and the chunk package's conversion laws) and writes it to
// Device. Run, the node's own goroutine, is the only caller of Device;
// there is no separate output goroutine, so a WriteI16 or Drain that blocks
// also blocks the node's recv loop.
type PlaybackSink struct {
	Device AudioDevice
}

// NewPlaybackSink returns a playback sink writing to device.
func NewPlaybackSink(device AudioDevice) *PlaybackSink {
	return &PlaybackSink{Device: device}
}

func (*PlaybackSink) InputType() *pipeline.TypeRequirement {
	r := pipeline.Any()
	return &r
}
func (*PlaybackSink) OutputType() *pipeline.TypeRequirement { return nil }

// toI16 converts any AudioChunk variant to 16-bit frames, per the chunk
// package's widen/narrow and clamp-scale conversion helpers.
func toI16(c chunk.AudioChunk) []chunk.Frame[chunk.I16] {
	switch c.Kind() {
	case chunk.KindI16:
		d, _ := chunk.AsI16(c)
		return d.Frames
	case chunk.KindI24:
		d, _ := chunk.AsI24(c)
		return chunk.NarrowI24ToI16(d).Frames
	case chunk.KindI32:
		d, _ := chunk.AsI32(c)
		return chunk.NarrowI32ToI16(d).Frames
	case chunk.KindF32:
		d, _ := chunk.AsF32(c)
		return chunk.I16FromF32(d).Frames
	case chunk.KindF64:
		d, _ := chunk.AsF64(c)
		i32 := chunk.I32FromF64(d)
		return chunk.NarrowI32ToI16(i32).Frames
	default:
		return nil
	}
}

func (p *PlaybackSink) Run(token pipeline.CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	for {
		seg, ok := pipeline.Recv(token, in)
		if !ok {
			if token.Cancelled() {
				return p.Device.Close()
			}
			return core.ErrChildDied
		}

		if c, isChunk := seg.AsChunk(); isChunk {
			if c.FrameCount() == 0 {
				continue
			}
			if err := p.Device.WriteI16(toI16(c)); err != nil {
				return err
			}
			continue
		}

		m, _ := seg.AsMarker()
		switch m.(type) {
		case chunk.EndOfStream:
			if err := p.Device.Drain(); err != nil {
				return err
			}
			return p.Device.Close()
		default:
			// TopZeroSync, TrackBoundary, Heartbeat, ErrorMarker: the
			// device's own buffering carries playback across them
			// seamlessly (spec §4.5), nothing to do here.
		}
	}
}
