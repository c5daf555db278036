package cache

import (
	"io"
	"os"

	"github.com/coissac/pmomusic/internal/core"
)

// Reader implements progressive reads over an entry that may still be
// producing: Read blocks at the current write watermark until more bytes
// arrive, the producer finishes, or the producer failed (spec §4.6).
type Reader struct {
	entry *Entry
	f     *os.File
	pos   int64
}

// Open returns a progressive Reader over the entry identified by pk and
// bumps its access counter (the LRU-by-access-counter eviction policy,
// spec §4.6).
func (s *Store) Open(pk string) (*Reader, error) {
	s.mu.Lock()
	e, ok := s.entries[pk]
	s.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound
	}

	e.mu.Lock()
	path := e.path
	e.mu.Unlock()
	if path == "" {
		return nil, core.ErrNotFound
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	e.AccessCount.Add(1)
	return &Reader{entry: e, f: f}, nil
}

// Read blocks until bytes beyond the reader's current position have been
// written, returns io.EOF once the producer has finished and everything
// written has been drained, or returns the producer's error once it fails
// — surfaced identically to every reader blocked on the same entry.
func (r *Reader) Read(p []byte) (int, error) {
	r.entry.mu.Lock()
	for r.pos >= r.entry.CurrentSize && !r.entry.Finished {
		r.entry.cond.Wait()
	}
	err := r.entry.Err
	finished := r.entry.Finished
	r.entry.mu.Unlock()

	if err != nil {
		return 0, err
	}

	n, readErr := r.f.Read(p)
	r.pos += int64(n)
	if readErr == io.EOF && !finished {
		// Drained everything written so far but the producer is still
		// going: a zero-read, not EOF (spec §4.6).
		return n, nil
	}
	return n, readErr
}

// Close releases the reader's file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
