package pipeline

import (
	"context"

	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/core"
)

// ContextOf recovers a context.Context from a CancelToken for
// collaborators (an ffmpeg decoder, an HTTP client) that need one
// directly rather than the narrow Done()/Cancelled() view. Every concrete
// token this codebase produces is a core.CancelToken, which exposes
// Context(); anything else falls back to context.Background().
func ContextOf(token CancelToken) context.Context {
	type contexter interface {
		Context() context.Context
	}
	if c, ok := token.(contexter); ok {
		return c.Context()
	}
	return context.Background()
}

// Recv waits for the next segment from in, returning (seg, true) on
// success. It returns (zero, false) both when the token is cancelled and
// when the upstream channel closes; callers distinguish the two cases with
// token.Cancelled() — a close observed without prior cancellation and
// without having seen an EndOfStream segment indicates the upstream task
// died without completing normally.
func Recv(token CancelToken, in <-chan chunk.AudioSegment) (chunk.AudioSegment, bool) {
	select {
	case <-token.Done():
		var zero chunk.AudioSegment
		return zero, false
	case seg, ok := <-in:
		return seg, ok
	}
}

// Send delivers seg to every channel in out, honoring cooperative
// cancellation: it races each send against token.Done() so cancellation
// takes effect within one channel operation (spec §5). A done-path hit is
// ordinary shutdown, not a failure (spec §5, §7: "observing a cancellation
// causes the task to ... return Ok"), so Send returns nil when
// token.Cancelled() is true and only reports core.ErrChildDied when the
// done-path fires for some other reason (a token whose Context was
// cancelled out from under it without going through the cooperative
// cancellation path).
func Send(token CancelToken, out []chan<- chunk.AudioSegment, seg chunk.AudioSegment) error {
	for _, ch := range out {
		select {
		case ch <- seg:
		case <-token.Done():
			if token.Cancelled() {
				return nil
			}
			return core.ErrChildDied
		}
	}
	return nil
}

// SendOne is Send for a single output channel, the common case for
// single-output transform and sink nodes.
func SendOne(token CancelToken, out chan<- chunk.AudioSegment, seg chunk.AudioSegment) error {
	select {
	case out <- seg:
		return nil
	case <-token.Done():
		if token.Cancelled() {
			return nil
		}
		return core.ErrChildDied
	}
}
