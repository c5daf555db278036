package core

import "context"

// CancelToken is the cooperative cancellation token threaded through every
// pipeline task (spec §5). It is a thin wrapper over context.Context so
// nodes can select on it alongside channel operations exactly the way
// internal/radio/stream.go's Broadcaster selects on ctx.Done() alongside
// its skip channel.
type CancelToken struct {
	ctx context.Context
}

// NewCancelToken wraps a context as a CancelToken.
func NewCancelToken(ctx context.Context) CancelToken {
	return CancelToken{ctx: ctx}
}

// Done returns the channel that is closed when cancellation is observed.
func (c CancelToken) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Cancelled reports whether cancellation has already been observed.
func (c CancelToken) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Context returns the underlying context, for passing to I/O calls that
// want deadline/cancellation propagation (network reads, exec.CommandContext).
func (c CancelToken) Context() context.Context {
	return c.ctx
}
