package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/core"
)

// sourceNode emits a fixed sequence of segments then EndOfStream.
type sourceNode struct {
	segments []chunk.AudioSegment
}

func (sourceNode) InputType() *TypeRequirement  { return nil }
func (sourceNode) OutputType() *TypeRequirement { r := Any(); return &r }

func (s *sourceNode) Run(token CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	for _, seg := range s.segments {
		if err := Send(token, out, seg); err != nil {
			return err
		}
	}
	eos := chunk.NewMarkerSegment(uint64(len(s.segments)), 0, chunk.EndOfStream{})
	return Send(token, out, eos)
}

// sinkNode collects every segment it receives until EndOfStream or channel
// close.
type sinkNode struct {
	mu       sync.Mutex
	received []chunk.AudioSegment
}

func (sinkNode) InputType() *TypeRequirement  { r := Any(); return &r }
func (sinkNode) OutputType() *TypeRequirement { return nil }

func (s *sinkNode) Run(token CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	for {
		seg, ok := Recv(token, in)
		if !ok {
			if token.Cancelled() {
				return nil
			}
			return core.ErrChildDied
		}
		s.mu.Lock()
		s.received = append(s.received, seg)
		s.mu.Unlock()
		if seg.IsEndOfStream() {
			return nil
		}
	}
}

func intSeg(order uint64) chunk.AudioSegment {
	return chunk.NewMarkerSegment(order, 0, chunk.Heartbeat{})
}

func TestPipelineRunsToCompletion(t *testing.T) {
	src := &sourceNode{segments: []chunk.AudioSegment{intSeg(0), intSeg(1), intSeg(2)}}
	sink := &sinkNode{}

	srcDriver := NewDriver("src", src, nil)
	sinkDriver := NewDriver("sink", sink, nil)
	require.NoError(t, srcDriver.Register(sinkDriver))

	p := New(srcDriver)
	err := p.Run(context.Background())
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.received, 4) // 3 heartbeats + EndOfStream
	assert.True(t, sink.received[3].IsEndOfStream())
}

func TestRegisterRejectsTypeMismatch(t *testing.T) {
	src := &sourceNode{}
	sink := &sinkNode{}

	srcDriver := NewDriver("src", src, nil)
	sinkDriver := NewDriver("sink", sink, nil)

	// A sink has no declared output, so registering anything downstream of
	// it must fail with ErrTypeMismatch regardless of the would-be child's
	// own declared input type.
	terminal := NewDriver("terminal", sink, nil)
	require.NoError(t, srcDriver.Register(terminal))

	err := terminal.Register(sinkDriver)
	assert.ErrorIs(t, err, core.ErrTypeMismatch)
}

func TestCancellationStopsPipelineCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	blockingSrc := &blockingSourceNode{}
	sink := &sinkNode{}

	srcDriver := NewDriver("src", blockingSrc, nil)
	sinkDriver := NewDriver("sink", sink, nil)
	require.NoError(t, srcDriver.Register(sinkDriver))

	p := New(srcDriver)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop within deadline after cancellation")
	}
}

// blockingSourceNode never produces anything until its token is cancelled,
// modeling a source awaiting I/O that never arrives.
type blockingSourceNode struct{}

func (blockingSourceNode) InputType() *TypeRequirement  { return nil }
func (blockingSourceNode) OutputType() *TypeRequirement { r := Any(); return &r }

func (blockingSourceNode) Run(token CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	<-token.Done()
	return nil
}

// deadlockingSinkNode never reads from in, forcing anything upstream to
// block forever on Send — the scenario a source is almost always in when
// cancellation happens, since sources spend most of their time mid-emit.
type deadlockingSinkNode struct{}

func (deadlockingSinkNode) InputType() *TypeRequirement  { r := Any(); return &r }
func (deadlockingSinkNode) OutputType() *TypeRequirement { return nil }

func (deadlockingSinkNode) Run(token CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	<-token.Done()
	return nil
}

// TestCancellationDuringSendReturnsCleanly exercises a source blocked mid-
// Send (not mid-Done-wait) when cancellation fires — the path every real
// source node's Run takes, since file.go/http.go/dynamic.go all propagate
// Send's return value directly.
func TestCancellationDuringSendReturnsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// More segments than DefaultChannelSize so the source's Send blocks on
	// a full channel (sink never drains it) instead of completing into the
	// buffer before cancel() has a chance to fire.
	segments := make([]chunk.AudioSegment, DefaultChannelSize*4)
	for i := range segments {
		segments[i] = intSeg(uint64(i))
	}
	src := &sourceNode{segments: segments}
	sink := &deadlockingSinkNode{}

	srcDriver := NewDriver("src", src, nil)
	sinkDriver := NewDriver("sink", sink, nil)
	require.NoError(t, srcDriver.Register(sinkDriver))

	p := New(srcDriver)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "cancellation mid-Send must return a clean nil, not ErrChildDied")
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop within deadline after cancellation")
	}
}
