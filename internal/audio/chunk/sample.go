// Package chunk implements the Audio Segment Model (spec §3, §4.1): typed
// PCM chunk variants across bit depths, sync markers, and the AudioSegment
// envelope that carries either one down a pipeline.
//
// Go has no tagged unions, so the Rust-side `enum AudioChunk` becomes a
// small closed interface (AudioChunk) with one generic struct per bit depth
// implementing it — each instantiation of Data[T] is a distinct concrete
// type, which is exactly what interface dispatch needs.
package chunk

// Sample is the closed set of element types a PCM chunk can carry. I24 is a
// distinct named type (not an alias for I32) so the type system keeps
// 24-bit and 32-bit chunks apart even though both are backed by int32.
type Sample interface {
	I16 | I24 | I32 | F32 | F64
}

// I16, I32 are plain 16-/32-bit signed PCM samples.
type I16 int16
type I32 int32

// I24 is a 24-bit signed sample carried in a 32-bit container, valid range
// [-2^23, 2^23-1]. Values outside that range are a programmer error in the
// producing node, not something this package defends against on every
// arithmetic operation (the decoder boundary is responsible for emitting
// only in-range samples).
type I24 int32

// F32, F64 are normalized floating-point samples, nominally in [-1.0, 1.0].
type F32 float32
type F64 float64

// Bits returns the nominal bit depth of a sample type. The conversion
// helpers in convert.go use fixed shift amounts and scale constants and do
// not call it.
func Bits[T Sample]() int {
	var zero T
	switch any(zero).(type) {
	case I16:
		return 16
	case I24:
		return 24
	case I32:
		return 32
	case F32, F64:
		return 0 // floating point has no integer bit depth
	default:
		return 0
	}
}

const (
	i16Min = -(1 << 15)
	i16Max = (1 << 15) - 1
	i24Min = -(1 << 23)
	i24Max = (1 << 23) - 1
	i32Min = -(1 << 31)
	i32Max = (1 << 31) - 1
)

// ClampI16 saturates v into I16's representable range. Used by float->I16
// conversion so a scaled full-scale-positive sample (2^15) saturates to
// 2^15-1 instead of wrapping to the type's most negative value.
func ClampI16(v int32) I16 {
	if v < i16Min {
		return I16(i16Min)
	}
	if v > i16Max {
		return I16(i16Max)
	}
	return I16(v)
}

// ClampI24 saturates v into I24's representable range. Used at the decoder
// boundary and by float->I24 conversion; internal widen/narrow paths never
// need it because they are constructed to stay in range by design.
func ClampI24(v int32) I24 {
	if v < i24Min {
		return I24(i24Min)
	}
	if v > i24Max {
		return I24(i24Max)
	}
	return I24(v)
}

// ClampI32 saturates v into I32's representable range. Used by float->I32
// conversion, where the scaled value is computed in int64 to leave room to
// detect the overflow before it wraps.
func ClampI32(v int64) I32 {
	if v < i32Min {
		return I32(i32Min)
	}
	if v > i32Max {
		return I32(i32Max)
	}
	return I32(v)
}
