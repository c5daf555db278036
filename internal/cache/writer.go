package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"github.com/coissac/pmomusic/internal/core"
)

// fileExt is the extension every finalized entry is stored under. It
// matches the FLAC bytes the audio cache sink writes; entries admitted
// through Store.Admit carry whatever the store's Transform emits under the
// same extension.
const fileExt = ".flac"

// newContentHash returns the hash used to derive an entry's pk from its
// finished bytes.
func newContentHash() hash.Hash { return sha256.New() }

// Writer is the streaming admission handle returned by Store.Begin: bytes
// written are hashed incrementally, and the entry is registered under its
// final content-derived pk only once Close finalizes the stream. Satisfies
// sink.CacheEntryWriter.
type Writer struct {
	store         *Store
	tmpFile       *os.File
	tmpPath       string
	hash          hash.Hash
	entry         *Entry
	provisionalPK string
	closed        bool
}

// ID returns the key under which this entry can currently be looked up via
// Store.Open/Stat: the provisional key while building, the content-derived
// pk once Close has finalized it.
func (w *Writer) ID() string {
	w.entry.mu.Lock()
	defer w.entry.mu.Unlock()
	if w.entry.PK != "" {
		return w.entry.PK
	}
	return w.provisionalPK
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, core.ErrClosed
	}

	n, err := w.tmpFile.Write(p)
	if n > 0 {
		w.hash.Write(p[:n])
		w.entry.mu.Lock()
		w.entry.CurrentSize += int64(n)
		w.entry.cond.Broadcast()
		w.entry.mu.Unlock()
	}
	if err != nil {
		w.fail(fmt.Errorf("cache: write entry: %w", err))
		return n, err
	}
	return n, nil
}

// SetMetadata copies fields into the entry's metadata store (the track
// boundary metadata the cache sink stamps on, spec §4.5/§4.6).
func (w *Writer) SetMetadata(fields map[string]string) error {
	w.entry.mu.Lock()
	defer w.entry.mu.Unlock()
	for k, v := range fields {
		w.entry.Metadata[k] = v
	}
	return nil
}

// fail marks the entry failed, surfaces err to every blocked reader, and
// removes the partial file: spec §4.6's "on producer failure, the partial
// entry is removed atomically and the error is surfaced to all waiting
// readers."
func (w *Writer) fail(err error) {
	w.entry.mu.Lock()
	w.entry.Err = err
	w.entry.Finished = true
	w.entry.cond.Broadcast()
	w.entry.mu.Unlock()

	w.tmpFile.Close()
	os.Remove(w.tmpPath)

	w.store.mu.Lock()
	delete(w.store.entries, w.provisionalPK)
	w.store.mu.Unlock()
}

// Close finalizes the entry: the accumulated hash becomes its pk, the temp
// file is renamed into place under that pk, and an earlier entry with the
// same content is reused instead of duplicating storage on disk.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.tmpFile.Close(); err != nil {
		w.fail(fmt.Errorf("cache: close entry: %w", err))
		return fmt.Errorf("cache: close entry: %w", err)
	}

	pk := hex.EncodeToString(w.hash.Sum(nil))
	finalPath := filepath.Join(w.store.dir, pk+fileExt)

	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	if existing, ok := w.store.entries[pk]; ok {
		info := existing.snapshot()
		if info.Finished && info.Err == nil {
			// Duplicate content already admitted under this pk: discard
			// this producer's redundant temp file, unblock anyone who'd
			// opened a progressive reader against the provisional key, and
			// let the caller observe the existing entry.
			os.Remove(w.tmpPath)
			delete(w.store.entries, w.provisionalPK)

			w.entry.mu.Lock()
			w.entry.PK = pk
			w.entry.Finished = true
			w.entry.cond.Broadcast()
			w.entry.mu.Unlock()

			existing.AccessCount.Add(1)
			w.entry = existing
			return nil
		}
	}

	if err := os.Rename(w.tmpPath, finalPath); err != nil {
		delete(w.store.entries, w.provisionalPK)
		return fmt.Errorf("cache: finalize entry %s: %w", pk, err)
	}

	w.entry.mu.Lock()
	w.entry.PK = pk
	w.entry.path = finalPath
	w.entry.ExpectedSize = w.entry.CurrentSize
	w.entry.Finished = true
	w.entry.cond.Broadcast()
	w.entry.mu.Unlock()

	delete(w.store.entries, w.provisionalPK)
	w.store.entries[pk] = w.entry
	return nil
}
