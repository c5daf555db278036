package chunk

import "fmt"

// Frame is one stereo PCM frame: left, right.
type Frame[T Sample] [2]T

// ChunkKind tags which Sample type a Data[T] instantiation carries, so code
// holding only the AudioChunk interface can recover the concrete type.
type ChunkKind int

const (
	KindI16 ChunkKind = iota
	KindI24
	KindI32
	KindF32
	KindF64
)

func (k ChunkKind) String() string {
	switch k {
	case KindI16:
		return "I16"
	case KindI24:
		return "I24"
	case KindI32:
		return "I32"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	default:
		return "unknown"
	}
}

// Data is AudioChunkData<T>: an ordered sequence of interleaved stereo
// frames at a given sample rate, with a reference timestamp.
//
// Invariants (§3): Frames must be non-empty for audio-carrying chunks,
// SampleRateHz > 0, and frames are strictly interleaved L,R — guaranteed
// here by modeling each frame as a [2]T pair rather than a flat slice.
type Data[T Sample] struct {
	Frames       []Frame[T]
	SampleRateHz int
	TimestampSec float64
}

// New validates and constructs a Data[T]. Zero-length chunks are legal only
// for transform nodes that explicitly skip them (spec §4.5); most callers
// should treat FrameCount()==0 from a source as a bug.
func New[T Sample](frames []Frame[T], sampleRateHz int, timestampSec float64) (*Data[T], error) {
	if sampleRateHz <= 0 {
		return nil, fmt.Errorf("chunk: sample rate must be > 0, got %d", sampleRateHz)
	}
	return &Data[T]{Frames: frames, SampleRateHz: sampleRateHz, TimestampSec: timestampSec}, nil
}

// FrameCount returns the number of stereo frames in the chunk.
func (d *Data[T]) FrameCount() int { return len(d.Frames) }

// Duration returns FrameCount() / SampleRateHz, the segment duration in
// seconds used to derive broadcast TTLs (spec §6).
func (d *Data[T]) Duration() float64 {
	if d.SampleRateHz == 0 {
		return 0
	}
	return float64(len(d.Frames)) / float64(d.SampleRateHz)
}

// AudioChunk is the tagged-union interface every bit-depth variant of Data
// satisfies. Callers recover the concrete type with the As* helpers below.
type AudioChunk interface {
	Kind() ChunkKind
	FrameCount() int
	Duration() float64
	SampleRate() int
	Timestamp() float64
}

// chunkOf wraps a *Data[T] with the Kind() tag needed to satisfy AudioChunk.
// It is generic over T but each instantiation (chunkOf[I16], chunkOf[I24], …)
// is a distinct concrete type the interface can dispatch on via a type
// switch, which is how As* below recovers the underlying Data[T].
type chunkOf[T Sample] struct {
	*Data[T]
	kind ChunkKind
}

func (c chunkOf[T]) Kind() ChunkKind    { return c.kind }
func (c chunkOf[T]) SampleRate() int    { return c.Data.SampleRateHz }
func (c chunkOf[T]) Timestamp() float64 { return c.Data.TimestampSec }

// WrapI16, WrapI24, WrapI32, WrapF32, WrapF64 lift a concrete Data[T] into
// the AudioChunk tagged union.
func WrapI16(d *Data[I16]) AudioChunk { return chunkOf[I16]{Data: d, kind: KindI16} }
func WrapI24(d *Data[I24]) AudioChunk { return chunkOf[I24]{Data: d, kind: KindI24} }
func WrapI32(d *Data[I32]) AudioChunk { return chunkOf[I32]{Data: d, kind: KindI32} }
func WrapF32(d *Data[F32]) AudioChunk { return chunkOf[F32]{Data: d, kind: KindF32} }
func WrapF64(d *Data[F64]) AudioChunk { return chunkOf[F64]{Data: d, kind: KindF64} }

// AsI16, AsI24, AsI32, AsF32, AsF64 recover the concrete Data[T] from an
// AudioChunk, analogous to the Rust source's "chunk-as-chunk" accessors.
// ok is false if the chunk does not carry that variant.

func AsI16(c AudioChunk) (*Data[I16], bool) { w, ok := c.(chunkOf[I16]); return w.Data, ok }
func AsI24(c AudioChunk) (*Data[I24], bool) { w, ok := c.(chunkOf[I24]); return w.Data, ok }
func AsI32(c AudioChunk) (*Data[I32], bool) { w, ok := c.(chunkOf[I32]); return w.Data, ok }
func AsF32(c AudioChunk) (*Data[F32], bool) { w, ok := c.(chunkOf[F32]); return w.Data, ok }
func AsF64(c AudioChunk) (*Data[F64], bool) { w, ok := c.(chunkOf[F64]); return w.Data, ok }

// IsInteger reports whether the chunk's variant is an integer PCM format,
// used by TypeRequirement.AnyInteger matching (spec §4.3).
func IsInteger(k ChunkKind) bool {
	return k == KindI16 || k == KindI24 || k == KindI32
}
