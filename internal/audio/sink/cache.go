package sink

import (
	"io"

	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/audio/pipeline"
	"github.com/coissac/pmomusic/internal/metadata"
)

// CacheEntryWriter is the write handle the cache sink gets back for one
// track: Write appends encoded bytes to the admitted entry, SetMetadata
// copies the track's boundary metadata into the cache's per-entry metadata
// store, and Close finalizes the entry (spec §4.5, §4.6).
type CacheEntryWriter interface {
	io.Writer
	SetMetadata(fields map[string]string) error
	Close() error
}

// CacheEntryBuilder is the narrow capability the cache sink needs from the
// audio cache (C6): admit a new entry for one track's encoded bytes. A
// concrete cache.Store implements this directly; kept as a local interface
// here so this package has no import-time dependency on the cache's
// internals, only its write-path contract.
type CacheEntryBuilder interface {
	Begin() (CacheEntryWriter, error)
}

// cacheTrackWriter adapts a CacheEntryWriter to the plain io.WriteCloser
// TrackWriterFactory expects, stamping the track's metadata in on Close so
// the re-encoder doesn't need to know about SetMetadata at all.
type cacheTrackWriter struct {
	entry CacheEntryWriter
	meta  metadata.Provider
}

func (w *cacheTrackWriter) Write(p []byte) (int, error) { return w.entry.Write(p) }

func (w *cacheTrackWriter) Close() error {
	if err := w.entry.SetMetadata(metadata.ToMap(w.meta)); err != nil {
		w.entry.Close()
		return err
	}
	return w.entry.Close()
}

// NewCacheSink returns a sink node identical in shape to ReEncoder (spec
// §4.5: "identical to the file sink but writes the encoded bytes into the
// cache"), admitting one cache entry per track via builder.
func NewCacheSink(builder CacheEntryBuilder, compressionLevel int) *ReEncoder {
	newTrackWriter := func(boundary chunk.TrackBoundary) (TrackWriter, error) {
		entry, err := builder.Begin()
		if err != nil {
			return nil, err
		}
		return &cacheTrackWriter{entry: entry, meta: boundary.Metadata}, nil
	}
	return NewReEncoder(newTrackWriter, compressionLevel)
}

// Ensure NewCacheSink's result still satisfies pipeline.Node, documenting
// the intent even though the compiler already enforces it via ReEncoder.
var _ pipeline.Node = (*ReEncoder)(nil)
