package sink

import (
	"context"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coissac/pmomusic/internal/audio/broadcast"
	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/audio/pipeline"
	"github.com/coissac/pmomusic/internal/core"
	"github.com/coissac/pmomusic/internal/metadata"
)

// fixtureSource emits a fixed sequence of segments then stops (no
// EndOfStream of its own — individual tests append one when they want
// Run's EndOfStream branch exercised).
type fixtureSource struct {
	segments []chunk.AudioSegment
}

func (fixtureSource) InputType() *pipeline.TypeRequirement { return nil }
func (fixtureSource) OutputType() *pipeline.TypeRequirement {
	// Matches every real source node's declared output (spec §4.4): any
	// integer PCM variant, which Compatible() allows feeding into either
	// an AnyInteger consumer (ReEncoder/CacheSink) or an Any consumer
	// (PlaybackSink/BroadcastSink).
	r := pipeline.AnyInteger()
	return &r
}

func (s *fixtureSource) Run(token pipeline.CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	for _, seg := range s.segments {
		if err := pipeline.Send(token, out, seg); err != nil {
			return err
		}
	}
	return nil
}

func mono16(n int, sampleRateHz int, ts float64) chunk.AudioChunk {
	frames := make([]chunk.Frame[chunk.I16], n)
	for i := range frames {
		frames[i] = chunk.Frame[chunk.I16]{chunk.I16(i), chunk.I16(-i)}
	}
	d, err := chunk.New(frames, sampleRateHz, ts)
	if err != nil {
		panic(err)
	}
	return chunk.WrapI16(d)
}

func runPipeline(t *testing.T, src pipeline.Node, snk pipeline.Node) error {
	t.Helper()
	srcDriver := pipeline.NewDriver("src", src, nil)
	sinkDriver := pipeline.NewDriver("sink", snk, nil)
	require.NoError(t, srcDriver.Register(sinkDriver))
	p := pipeline.New(srcDriver)
	return p.Run(context.Background())
}

// --- BroadcastSink ---

func TestBroadcastSinkMapsSegmentsAndClosesOnEndOfStream(t *testing.T) {
	sender, receiver := broadcast.New[chunk.AudioSegment]("test", 100)

	src := &fixtureSource{segments: []chunk.AudioSegment{
		chunk.NewMarkerSegment(0, 0, chunk.TopZeroSync{}),
		chunk.NewMarkerSegment(1, 0, chunk.TrackBoundary{Order: 1}),
		chunk.NewChunkSegment(2, mono16(10, 44100, 0)),
		chunk.NewMarkerSegment(3, 10.0/44100, chunk.EndOfStream{Order: 3, FinalTimestamp: 10.0 / 44100}),
	}}
	snk := NewBroadcastSink(sender)

	require.NoError(t, runPipeline(t, src, snk))

	ctx := context.Background()
	p1, err := receiver.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), p1.Epoch)

	_, err = receiver.Recv(ctx)
	require.NoError(t, err) // TrackBoundary header

	p3, err := receiver.Recv(ctx)
	require.NoError(t, err)
	c, ok := p3.Payload.AsChunk()
	require.True(t, ok)
	assert.Equal(t, 10, c.FrameCount())

	_, err = receiver.Recv(ctx)
	require.ErrorIs(t, err, core.ErrClosed)
}

// --- PlaybackSink ---

type fakeDevice struct {
	mu      sync.Mutex
	written [][]chunk.Frame[chunk.I16]
	drained bool
	closed  bool
}

func (d *fakeDevice) WriteI16(frames []chunk.Frame[chunk.I16]) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, frames)
	return nil
}
func (d *fakeDevice) Drain() error { d.drained = true; return nil }
func (d *fakeDevice) Close() error { d.closed = true; return nil }

func TestPlaybackSinkConvertsAndDrainsOnEndOfStream(t *testing.T) {
	device := &fakeDevice{}
	src := &fixtureSource{segments: []chunk.AudioSegment{
		chunk.NewMarkerSegment(0, 0, chunk.TopZeroSync{}),
		chunk.NewChunkSegment(1, mono16(4, 44100, 0)),
		chunk.NewMarkerSegment(2, 4.0/44100, chunk.EndOfStream{Order: 2}),
	}}
	snk := NewPlaybackSink(device)

	require.NoError(t, runPipeline(t, src, snk))

	require.Len(t, device.written, 1)
	assert.Len(t, device.written[0], 4)
	assert.True(t, device.drained)
	assert.True(t, device.closed)
}

func TestPlaybackSinkNarrowsI32ToI16(t *testing.T) {
	frames := []chunk.Frame[chunk.I32]{{1 << 20, -(1 << 20)}}
	d, err := chunk.New(frames, 44100, 0)
	require.NoError(t, err)
	c := chunk.WrapI32(d)

	out := toI16(c)
	require.Len(t, out, 1)
	assert.Equal(t, chunk.I16(1<<20>>16), out[0][0])
}

// --- ReEncoder / CacheSink ---

type fakeCacheEntry struct {
	mu     sync.Mutex
	data   []byte
	meta   map[string]string
	closed bool
}

func (e *fakeCacheEntry) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = append(e.data, p...)
	return len(p), nil
}
func (e *fakeCacheEntry) SetMetadata(m map[string]string) error { e.meta = m; return nil }
func (e *fakeCacheEntry) Close() error                          { e.closed = true; return nil }

type fakeCacheBuilder struct {
	mu      sync.Mutex
	entries []*fakeCacheEntry
}

func (b *fakeCacheBuilder) Begin() (CacheEntryWriter, error) {
	e := &fakeCacheEntry{}
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
	return e, nil
}

func TestCacheSinkRequiresFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed, skipping cache sink integration test")
	}

	builder := &fakeCacheBuilder{}
	snk := NewCacheSink(builder, 5)

	src := &fixtureSource{segments: []chunk.AudioSegment{
		chunk.NewMarkerSegment(0, 0, chunk.TopZeroSync{}),
		chunk.NewMarkerSegment(1, 0, chunk.TrackBoundary{Order: 1, Metadata: metadata.NewMapProviderFromStrings(map[string]string{"title": "Test Track"})}),
		chunk.NewChunkSegment(2, mono16(4096, 44100, 0)),
		chunk.NewMarkerSegment(3, 4096.0/44100, chunk.EndOfStream{Order: 3}),
	}}

	require.NoError(t, runPipeline(t, src, snk))

	require.Len(t, builder.entries, 1)
	entry := builder.entries[0]
	assert.True(t, entry.closed)
	assert.NotEmpty(t, entry.data)
	assert.Equal(t, "Test Track", entry.meta["title"])
}

func TestReEncoderRejectsSampleRateChangeMidTrack(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed, skipping re-encoder integration test")
	}

	r := NewReEncoder(func(b chunk.TrackBoundary) (TrackWriter, error) {
		return nopWriteCloser{}, nil
	}, 5)

	src := &fixtureSource{segments: []chunk.AudioSegment{
		chunk.NewMarkerSegment(0, 0, chunk.TopZeroSync{}),
		chunk.NewMarkerSegment(1, 0, chunk.TrackBoundary{Order: 1}),
		chunk.NewChunkSegment(2, mono16(4, 44100, 0)),
		chunk.NewChunkSegment(3, mono16(4, 48000, 4.0/44100)),
	}}

	err := runPipeline(t, src, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inconsistent sample rate")
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
