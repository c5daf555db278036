// Package source implements the Source Nodes (spec §4.4): file, HTTP, and
// dynamic-block producers that all emit the same marker sequence —
// TopZeroSync, an initial TrackBoundary, audio chunks, optionally further
// TrackBoundary markers, and a final EndOfStream.
package source

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/audio/pipeline"
	"github.com/coissac/pmomusic/internal/ffmpeg"
	"github.com/coissac/pmomusic/internal/metadata"
)

// targetFrameCount rounds up to the next power of two (minimum 256) the
// frame count that covers roughly 50ms of audio at sampleRateHz, matching
// the file source's chunking rule (spec §4.4).
func targetFrameCount(sampleRateHz int) int {
	target := sampleRateHz / 20 // 50ms
	n := 256
	for n < target {
		n *= 2
	}
	return n
}

// FileSource reads metadata and decodes a local audio file through ffmpeg,
// emitting fixed-size chunks of 16-bit PCM resampled to SampleRateHz.
// Grounded on the teacher's track.go (checksum + dhowden/tag
// extraction) and scanner.go (format filtering), adapted to feed a
// pipeline node instead of populating a playlist Track.
type FileSource struct {
	Path         string
	SampleRateHz int
	decoder      *ffmpeg.Decoder
}

// NewFileSource returns a source node for the audio file at path, decoded
// at sampleRateHz.
func NewFileSource(path string, sampleRateHz int) *FileSource {
	return &FileSource{Path: path, SampleRateHz: sampleRateHz, decoder: ffmpeg.NewDecoder()}
}

func (*FileSource) InputType() *pipeline.TypeRequirement { return nil }
func (*FileSource) OutputType() *pipeline.TypeRequirement {
	r := pipeline.AnyInteger()
	return &r
}

// extractMetadata reads ID3/Vorbis/FLAC tags the same way track.go does,
// returning a metadata.Provider populated from whatever fields are present.
func extractMetadata(path string) metadata.Provider {
	p := metadata.NewMapProvider()
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("file source could not open file for metadata", "path", path, "error", err)
		return p
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		slog.Debug("file source could not read tags", "path", path, "error", err)
		return p
	}
	if m.Title() != "" {
		p.Set(metadata.FieldTitle, m.Title())
	}
	if m.Artist() != "" {
		p.Set(metadata.FieldArtist, m.Artist())
	}
	if m.Album() != "" {
		p.Set(metadata.FieldAlbum, m.Album())
	}
	if m.Year() != 0 {
		p.Set(metadata.FieldYear, m.Year())
	}
	return p
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (s *FileSource) Run(token pipeline.CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	var order uint64

	checksum, err := checksumFile(s.Path)
	if err != nil {
		return fmt.Errorf("file source: checksum %s: %w", s.Path, err)
	}
	slog.Info("file source starting", "path", s.Path, "checksum", checksum)

	meta := extractMetadata(s.Path)

	if err := pipeline.Send(token, out, chunk.NewMarkerSegment(order, 0, chunk.TopZeroSync{})); err != nil {
		return err
	}
	order++

	if title, _ := meta.Get(metadata.FieldTitle); title == nil {
		meta.Set(metadata.FieldTitle, strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path)))
	}
	if err := pipeline.Send(token, out, chunk.NewMarkerSegment(order, 0, chunk.TrackBoundary{
		Order: order, Timestamp: 0, Metadata: meta,
	})); err != nil {
		return err
	}
	order++

	ctx := pipeline.ContextOf(token)
	info, body, wait, err := s.decoder.Decode(ctx, s.Path, s.SampleRateHz, 16)
	if err != nil {
		return fmt.Errorf("file source: decode %s: %w", s.Path, err)
	}
	defer body.Close()

	frameCount := targetFrameCount(info.SampleRateHz)
	var timestamp float64
	for {
		d, err := ffmpeg.ReadI16Chunk(body, info.SampleRateHz, frameCount, timestamp)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("file source: decode read: %w", err)
		}
		seg := chunk.NewChunkSegment(order, chunk.WrapI16(d))
		if err := pipeline.Send(token, out, seg); err != nil {
			return err
		}
		order++
		timestamp += d.Duration()
	}
	if err := wait(); err != nil {
		return err
	}

	eos := chunk.NewMarkerSegment(order, timestamp, chunk.EndOfStream{Order: order, FinalTimestamp: timestamp})
	return pipeline.Send(token, out, eos)
}
