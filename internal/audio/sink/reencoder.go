package sink

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/audio/pipeline"
	"github.com/coissac/pmomusic/internal/core"
	"github.com/coissac/pmomusic/internal/ffmpeg"
	"github.com/coissac/pmomusic/internal/metadata"
)

// TrackWriter is what NewTrackWriter hands the re-encoder for one track: the
// destination for that track's encoded bytes, closed when the track ends
// (a new TrackBoundary arrives or the stream ends).
type TrackWriter = io.WriteCloser

// TrackWriterFactory opens the destination for the track announced by
// boundary. Called once at stream start (for the initial TrackBoundary
// every source emits) and again at every subsequent one. The cache sink and
// the plain streaming re-encoder differ only in what this returns: a cache
// build handle versus a file on disk.
type TrackWriterFactory func(boundary chunk.TrackBoundary) (TrackWriter, error)

// ReEncoder is the streaming re-encoder transform node (spec §4.5): it
// consumes integer chunks of a single sample rate and, at each
// TrackBoundary, flushes the current FLAC encode and opens a new one seeded
// with the boundary's metadata. An inconsistent sample rate mid-track is
// fatal; zero-length chunks are skipped.
type ReEncoder struct {
	CompressionLevel int
	BlockSize        int
	NewTrackWriter   TrackWriterFactory

	encoder *ffmpeg.Encoder
}

// NewReEncoder returns a re-encoder node that opens destinations via
// newTrackWriter, FLAC-encoding at the given compression level.
func NewReEncoder(newTrackWriter TrackWriterFactory, compressionLevel int) *ReEncoder {
	return &ReEncoder{
		CompressionLevel: compressionLevel,
		NewTrackWriter:   newTrackWriter,
		encoder:          ffmpeg.NewPCMEncoder(),
	}
}

func (*ReEncoder) InputType() *pipeline.TypeRequirement {
	r := pipeline.AnyInteger()
	return &r
}
func (*ReEncoder) OutputType() *pipeline.TypeRequirement { return nil }

type trackEncode struct {
	dst         TrackWriter
	pipeW       *io.PipeWriter
	encodeErrCh chan error
}

func yearOf(meta metadata.Provider) int {
	if meta == nil {
		return 0
	}
	v, _ := meta.Get(metadata.FieldYear)
	switch y := v.(type) {
	case int:
		return y
	case string:
		n, err := strconv.Atoi(y)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func (r *ReEncoder) startTrack(ctx context.Context, sampleRateHz, bitsPerSample int, b chunk.TrackBoundary) (*trackEncode, error) {
	dst, err := r.NewTrackWriter(b)
	if err != nil {
		return nil, fmt.Errorf("sink: re-encoder: open track writer: %w", err)
	}
	pr, pw := io.Pipe()
	te := &trackEncode{dst: dst, pipeW: pw, encodeErrCh: make(chan error, 1)}

	info := ffmpeg.StreamInfo{SampleRateHz: sampleRateHz, Channels: 2, BitsPerSample: bitsPerSample}
	opts := ffmpeg.EncodeOptions{
		CompressionLevel: r.CompressionLevel,
		BlockSize:        r.BlockSize,
		Title:            metadata.GetString(b.Metadata, metadata.FieldTitle),
		Artist:           metadata.GetString(b.Metadata, metadata.FieldArtist),
		Album:            metadata.GetString(b.Metadata, metadata.FieldAlbum),
		Year:             yearOf(b.Metadata),
	}
	go func() {
		te.encodeErrCh <- r.encoder.EncodeFromPCM(ctx, pr, info, opts, dst)
	}()
	return te, nil
}

// flush closes the pipe feeding the encoder, waits for it to finish, and
// closes the destination. Safe to call on a nil receiver (no track open
// yet), the common case at stream start and after a clean EndOfStream.
func (te *trackEncode) flush() error {
	if te == nil {
		return nil
	}
	te.pipeW.Close()
	encErr := <-te.encodeErrCh
	closeErr := te.dst.Close()
	if encErr != nil {
		return encErr
	}
	return closeErr
}

func (r *ReEncoder) Run(token pipeline.CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	ctx := pipeline.ContextOf(token)

	var (
		current         *trackEncode
		sampleRateHz    int
		bits            int
		haveFormat      bool
		pendingBoundary *chunk.TrackBoundary
	)

	for {
		seg, ok := pipeline.Recv(token, in)
		if !ok {
			current.flush()
			if token.Cancelled() {
				return nil
			}
			return core.ErrChildDied
		}

		if c, isChunk := seg.AsChunk(); isChunk {
			if c.FrameCount() == 0 {
				continue
			}
			if !haveFormat {
				sampleRateHz = c.SampleRate()
				bits = bitsPerSample(c.Kind())
				haveFormat = true
			} else if c.SampleRate() != sampleRateHz {
				current.flush()
				return fmt.Errorf("sink: re-encoder: inconsistent sample rate %d != %d mid-track", c.SampleRate(), sampleRateHz)
			}
			if pendingBoundary != nil {
				next, err := r.startTrack(ctx, sampleRateHz, bits, *pendingBoundary)
				if err != nil {
					return err
				}
				current = next
				pendingBoundary = nil
			}
			if current == nil {
				return fmt.Errorf("sink: re-encoder: audio chunk before any TrackBoundary")
			}
			if err := writePCM(current.pipeW, c); err != nil {
				current.flush()
				return fmt.Errorf("sink: re-encoder: write pcm: %w", err)
			}
			continue
		}

		m, _ := seg.AsMarker()
		switch mk := m.(type) {
		case chunk.TopZeroSync:
			continue
		case chunk.TrackBoundary:
			if err := current.flush(); err != nil {
				return err
			}
			current = nil
			boundary := mk
			pendingBoundary = &boundary
		case chunk.EndOfStream:
			return current.flush()
		}
	}
}
