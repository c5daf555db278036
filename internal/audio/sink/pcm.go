// Package sink implements the Transform/Sink Nodes (spec §4.5): consumers
// terminating a pipeline edge — a streaming re-encoder, a cache ingestor, a
// playback device bridge, and a timed-broadcast fan-out — all sharing the
// same AudioSegment-in, nothing-out shape as the teacher's broadcastWriter.
package sink

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coissac/pmomusic/internal/audio/chunk"
)

// writePCM serializes c's frames to raw little-endian interleaved PCM and
// writes them to w, matching whatever byte width its Kind implies. Only
// integer variants are accepted; a float chunk reaching a PCM writer is a
// caller bug (sinks that need float first convert via the chunk package).
func writePCM(w io.Writer, c chunk.AudioChunk) error {
	switch c.Kind() {
	case chunk.KindI16:
		d, _ := chunk.AsI16(c)
		return writeI16(w, d)
	case chunk.KindI24:
		d, _ := chunk.AsI24(c)
		return writeI24(w, d)
	case chunk.KindI32:
		d, _ := chunk.AsI32(c)
		return writeI32(w, d)
	default:
		return fmt.Errorf("sink: cannot write PCM for non-integer chunk kind %s", c.Kind())
	}
}

func writeI16(w io.Writer, d *chunk.Data[chunk.I16]) error {
	buf := make([]byte, len(d.Frames)*4)
	for i, f := range d.Frames {
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(f[0]))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(f[1]))
	}
	_, err := w.Write(buf)
	return err
}

func writeI24(w io.Writer, d *chunk.Data[chunk.I24]) error {
	buf := make([]byte, len(d.Frames)*6)
	putI24 := func(b []byte, v chunk.I24) {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	}
	for i, f := range d.Frames {
		putI24(buf[i*6:], f[0])
		putI24(buf[i*6+3:], f[1])
	}
	_, err := w.Write(buf)
	return err
}

func writeI32(w io.Writer, d *chunk.Data[chunk.I32]) error {
	buf := make([]byte, len(d.Frames)*8)
	for i, f := range d.Frames {
		binary.LittleEndian.PutUint32(buf[i*8:], uint32(f[0]))
		binary.LittleEndian.PutUint32(buf[i*8+4:], uint32(f[1]))
	}
	_, err := w.Write(buf)
	return err
}

// bitsPerSample returns the PCM bit depth writePCM will use for c's kind.
func bitsPerSample(k chunk.ChunkKind) int {
	switch k {
	case chunk.KindI16:
		return 16
	case chunk.KindI24:
		return 24
	case chunk.KindI32:
		return 32
	default:
		return 0
	}
}
