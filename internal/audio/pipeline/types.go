// Package pipeline implements the Pipeline Node Runtime (spec §4.3): a
// logic/driver split over a typed DAG of nodes connected by bounded
// channels, run to completion with golang.org/x/sync/errgroup so the
// aggregate task succeeds only when every descendant does.
package pipeline

import (
	"github.com/coissac/pmomusic/internal/audio/chunk"
)

// DefaultChannelSize is the default buffer depth of every inter-node
// channel, giving natural backpressure without node-specific tuning.
const DefaultChannelSize = 16

// ReqKind is the closed set of type-constraint shapes a node can declare
// for one of its channels.
type ReqKind int

const (
	// ReqAny accepts any chunk variant.
	ReqAny ReqKind = iota
	// ReqAnyInteger accepts any integer PCM variant (I16, I24, I32).
	ReqAnyInteger
	// ReqExact accepts only the named variant.
	ReqExact
)

// TypeRequirement constrains which chunk.ChunkKind values a node's input or
// output channel may carry. A nil *TypeRequirement on a node's InputType
// means the node is a source (no upstream); nil OutputType means it is a
// sink (no downstream).
type TypeRequirement struct {
	kind  ReqKind
	exact chunk.ChunkKind
}

// Any matches every chunk variant.
func Any() TypeRequirement { return TypeRequirement{kind: ReqAny} }

// AnyInteger matches I16, I24, or I32.
func AnyInteger() TypeRequirement { return TypeRequirement{kind: ReqAnyInteger} }

// Exact matches only k.
func Exact(k chunk.ChunkKind) TypeRequirement { return TypeRequirement{kind: ReqExact, exact: k} }

// Accepts reports whether a chunk of kind k satisfies this requirement.
func (r TypeRequirement) Accepts(k chunk.ChunkKind) bool {
	switch r.kind {
	case ReqAny:
		return true
	case ReqAnyInteger:
		return chunk.IsInteger(k)
	case ReqExact:
		return k == r.exact
	default:
		return false
	}
}

// Compatible reports whether a producer declaring out can feed a consumer
// declaring in: every kind the producer's requirement admits must also be
// admitted by the consumer's requirement. Exact producer requirements are
// checked directly; Any/AnyInteger producers are compatible only with
// consumers whose requirement is at least as permissive.
func Compatible(out, in TypeRequirement) bool {
	switch out.kind {
	case ReqExact:
		return in.Accepts(out.exact)
	case ReqAnyInteger:
		return in.kind == ReqAny || in.kind == ReqAnyInteger
	case ReqAny:
		return in.kind == ReqAny
	default:
		return false
	}
}

// Node is the logic half of a pipeline node: a cooperative task that
// consumes from zero-or-one upstream channel and produces to zero-or-more
// downstream channels (spec §4.3). Implementations must honor token.Done()
// at every blocking recv/send and return nil promptly once observed.
type Node interface {
	// InputType returns this node's input constraint, or nil if it is a
	// source.
	InputType() *TypeRequirement
	// OutputType returns this node's output constraint, or nil if it is a
	// terminal sink.
	OutputType() *TypeRequirement

	// Run executes the node's logic. in is nil for a source. out has one
	// entry per registered child, in registration order. Run must close
	// nothing on out itself — the driver closes each output channel after
	// Run returns.
	Run(token CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error
}

// CancelToken is the narrow view of core.CancelToken that pipeline.Node
// implementations need; it avoids importing internal/core directly into
// every node package.
type CancelToken interface {
	Done() <-chan struct{}
	Cancelled() bool
}
