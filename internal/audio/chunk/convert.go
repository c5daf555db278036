package chunk

// WidenI16ToI32 widens a 16-bit chunk to 32-bit by left-shifting each sample
// 16 bits, preserving the sign. This is lossless: narrowing the result back
// with NarrowI32ToI16 reproduces the original samples exactly (spec §8
// widen/narrow round-trip law).
func WidenI16ToI32(d *Data[I16]) *Data[I32] {
	out := make([]Frame[I32], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I32]{I32(int32(f[0]) << 16), I32(int32(f[1]) << 16)}
	}
	return &Data[I32]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// NarrowI32ToI16 narrows a 32-bit chunk to 16-bit by an arithmetic right
// shift of 16 bits, discarding the low-order 16 bits. Round-trips losslessly
// with a value produced by WidenI16ToI32, but is lossy for arbitrary I32
// input (as is true of any bit-depth reduction).
func NarrowI32ToI16(d *Data[I32]) *Data[I16] {
	out := make([]Frame[I16], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I16]{I16(int32(f[0]) >> 16), I16(int32(f[1]) >> 16)}
	}
	return &Data[I16]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// WidenI16ToI24 widens a 16-bit chunk to 24-bit by left-shifting 8 bits.
func WidenI16ToI24(d *Data[I16]) *Data[I24] {
	out := make([]Frame[I24], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I24]{I24(int32(f[0]) << 8), I24(int32(f[1]) << 8)}
	}
	return &Data[I24]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// NarrowI24ToI16 narrows a 24-bit chunk to 16-bit by an arithmetic right
// shift of 8 bits.
func NarrowI24ToI16(d *Data[I24]) *Data[I16] {
	out := make([]Frame[I16], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I16]{I16(int32(f[0]) >> 8), I16(int32(f[1]) >> 8)}
	}
	return &Data[I16]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// WidenI24ToI32 widens a 24-bit chunk to 32-bit by left-shifting 8 bits.
func WidenI24ToI32(d *Data[I24]) *Data[I32] {
	out := make([]Frame[I32], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I32]{I32(int32(f[0]) << 8), I32(int32(f[1]) << 8)}
	}
	return &Data[I32]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// NarrowI32ToI24 narrows a 32-bit chunk to 24-bit by an arithmetic right
// shift of 8 bits, clamping into I24's representable range as a final
// defensive step (in-range input never triggers the clamp).
func NarrowI32ToI24(d *Data[I32]) *Data[I24] {
	out := make([]Frame[I24], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I24]{ClampI24(int32(f[0]) >> 8), ClampI24(int32(f[1]) >> 8)}
	}
	return &Data[I24]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// Integer <-> float scale factors. Each integer type's full-scale magnitude
// maps to ±1.0, matching the convention the decoder/encoder boundary (§6)
// uses for ffmpeg's f32/f64 pipe formats.
const (
	scaleI16 = 1 << 15
	scaleI24 = 1 << 23
	scaleI32 = 1 << 31
)

// F32FromI16 converts a 16-bit integer chunk to normalized float32 samples.
func F32FromI16(d *Data[I16]) *Data[F32] {
	out := make([]Frame[F32], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[F32]{F32(float32(f[0]) / scaleI16), F32(float32(f[1]) / scaleI16)}
	}
	return &Data[F32]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// I16FromF32 converts normalized float32 samples to 16-bit integers, with
// clamp-then-scale semantics: values outside [-1.0, 1.0] are clamped before
// scaling so the result never wraps (spec §8 float-to-int conversion law).
func I16FromF32(d *Data[F32]) *Data[I16] {
	out := make([]Frame[I16], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I16]{clampScaleI16(float32(f[0])), clampScaleI16(float32(f[1]))}
	}
	return &Data[I16]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

func clampScaleI16(v float32) I16 {
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	return ClampI16(int32(v * scaleI16))
}

// F64FromI32 converts a 32-bit integer chunk to normalized float64 samples.
func F64FromI32(d *Data[I32]) *Data[F64] {
	out := make([]Frame[F64], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[F64]{F64(float64(f[0]) / scaleI32), F64(float64(f[1]) / scaleI32)}
	}
	return &Data[F64]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// I32FromF64 converts normalized float64 samples to 32-bit integers with
// clamp-then-scale semantics.
func I32FromF64(d *Data[F64]) *Data[I32] {
	out := make([]Frame[I32], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I32]{clampScaleI32(float64(f[0])), clampScaleI32(float64(f[1]))}
	}
	return &Data[I32]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

func clampScaleI32(v float64) I32 {
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	return ClampI32(int64(v * scaleI32))
}

// F32FromI24 converts a 24-bit integer chunk to normalized float32 samples.
func F32FromI24(d *Data[I24]) *Data[F32] {
	out := make([]Frame[F32], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[F32]{F32(float32(f[0]) / scaleI24), F32(float32(f[1]) / scaleI24)}
	}
	return &Data[F32]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

// I24FromF32 converts normalized float32 samples to 24-bit integers with
// clamp-then-scale semantics.
func I24FromF32(d *Data[F32]) *Data[I24] {
	out := make([]Frame[I24], len(d.Frames))
	for i, f := range d.Frames {
		out[i] = Frame[I24]{clampScaleI24(float32(f[0])), clampScaleI24(float32(f[1]))}
	}
	return &Data[I24]{Frames: out, SampleRateHz: d.SampleRateHz, TimestampSec: d.TimestampSec}
}

func clampScaleI24(v float32) I24 {
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	return ClampI24(int32(v * scaleI24))
}
