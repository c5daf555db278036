// Package cache implements the content-addressed Audio Cache (spec §4.6):
// admission through a configurable transform pipeline, at-most-one build
// per key, progressive reads over a partially-written entry, LRU-by-
// access-counter eviction, and pin/TTL mutual exclusion.
package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/coissac/pmomusic/internal/audio/sink"
	"github.com/coissac/pmomusic/internal/core"
	"github.com/google/uuid"
)

// Transform converts raw source bytes into the canonical cache container
// format, writing its output to w (spec §4.6's "configurable transform
// pipeline" — typically decode-then-re-encode via the ffmpeg package).
type Transform func(ctx context.Context, src io.Reader, w io.Writer) error

// Source identifies the origin of content to admit. Exactly one of URL or
// Path must be set (mirrors the original cache API's AddItemRequest).
type Source struct {
	URL        string
	Path       string
	Collection string
}

func (s Source) key() string {
	if s.URL != "" {
		return "url:" + s.URL
	}
	return "path:" + s.Path
}

// Store is the flat-directory content-addressed cache.
type Store struct {
	dir       string
	transform Transform
	maxBytes  int64 // 0 = unlimited; pinned/TTL-live entries are exempt (§4.6)
	client    *http.Client

	mu      sync.Mutex
	entries map[string]*Entry // keyed by pk, or a provisional key while building

	group singleflight.Group // dedups concurrent admissions of the same Source
}

// NewStore returns a Store rooted at dir, running transform over every
// admitted source. maxBytes bounds the combined size of evictable (non-
// pinned, non-TTL-live) entries; 0 means unlimited.
func NewStore(dir string, transform Transform, maxBytes int64) *Store {
	return &Store{
		dir:       dir,
		transform: transform,
		maxBytes:  maxBytes,
		client:    &http.Client{Timeout: 30 * time.Second},
		entries:   make(map[string]*Entry),
	}
}

// Begin opens a new content-addressed admission: bytes written via the
// returned writer are hashed incrementally, and the final pk is known —
// and the entry registered under it — only once Close finalizes the
// stream. Satisfies sink.CacheEntryBuilder for the audio pipeline's cache
// sink (C5).
func (s *Store) Begin() (sink.CacheEntryWriter, error) {
	return s.begin("")
}

var _ sink.CacheEntryBuilder = (*Store)(nil)

func (s *Store) begin(origin string) (*Writer, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir %q: %w", s.dir, err)
	}

	provisional := "building-" + uuid.NewString()
	tmpPath := filepath.Join(s.dir, provisional+".tmp")

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("cache: create temp entry: %w", err)
	}

	entry := newEntry()
	entry.Origin = origin
	entry.path = tmpPath

	s.mu.Lock()
	s.entries[provisional] = entry
	s.mu.Unlock()

	return &Writer{
		store:         s,
		tmpFile:       f,
		tmpPath:       tmpPath,
		hash:          newContentHash(),
		entry:         entry,
		provisionalPK: provisional,
	}, nil
}

// Admit fetches src (unless a build for the same source is already under
// way), runs it through the transform pipeline, and returns the finished
// Entry. Concurrent Admit calls for the same Source share one producer
// (spec §4.6's "at-most-one build per pk", extended to the pre-hash source
// identity since the content-derived pk isn't known until the transform
// finishes).
func (s *Store) Admit(ctx context.Context, src Source) (*Entry, error) {
	if (src.URL == "") == (src.Path == "") {
		return nil, fmt.Errorf("cache: exactly one of URL or Path must be set")
	}

	v, err, _ := s.group.Do(src.key(), func() (any, error) {
		return s.admitOnce(ctx, src)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (s *Store) admitOnce(ctx context.Context, src Source) (*Entry, error) {
	raw, size, err := s.openSource(ctx, src)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	w, err := s.begin(src.key())
	if err != nil {
		return nil, err
	}
	w.entry.mu.Lock()
	w.entry.Collection = src.Collection
	w.entry.ExpectedSize = size
	w.entry.mu.Unlock()

	if err := s.transform(ctx, raw, w); err != nil {
		w.fail(fmt.Errorf("cache: transform: %w", err))
		return nil, fmt.Errorf("cache: transform: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.entry, nil
}

// openSource opens src for reading, returning its expected size when known
// (Content-Length for a URL, file size for a local path).
func (s *Store) openSource(ctx context.Context, src Source) (io.ReadCloser, int64, error) {
	if src.Path != "" {
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, 0, fmt.Errorf("cache: open source %q: %w", src.Path, err)
		}
		if fi, err := f.Stat(); err == nil {
			return f, fi.Size(), nil
		}
		return f, 0, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: GET %s: %w", src.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("cache: GET %s: unexpected status %d", src.URL, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// Stat returns a snapshot of the entry identified by pk.
func (s *Store) Stat(pk string) (Info, error) {
	s.mu.Lock()
	e, ok := s.entries[pk]
	s.mu.Unlock()
	if !ok {
		return Info{}, core.ErrNotFound
	}
	return e.snapshot(), nil
}

// List returns all finalized entries sorted by descending access count,
// matching the original cache API's listing order.
func (s *Store) List() []Info {
	s.mu.Lock()
	infos := make([]Info, 0, len(s.entries))
	for pk, e := range s.entries {
		if isProvisional(pk) {
			continue
		}
		infos = append(infos, e.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].AccessCount > infos[j].AccessCount })
	return infos
}

func isProvisional(pk string) bool { return strings.HasPrefix(pk, "building-") }

func (s *Store) lookup(pk string) (*Entry, error) {
	s.mu.Lock()
	e, ok := s.entries[pk]
	s.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound
	}
	return e, nil
}

// Pin marks an entry exempt from size-based eviction. Fails with
// core.ErrConflict if the entry currently carries a TTL (§4.6's pin⇔TTL
// mutual exclusion); clear the TTL first.
func (s *Store) Pin(pk string) error {
	e, err := s.lookup(pk)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.TTLExpiresAt != nil {
		return core.ErrConflict
	}
	e.Pinned = true
	return nil
}

// Unpin clears the pin flag.
func (s *Store) Unpin(pk string) error {
	e, err := s.lookup(pk)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Pinned = false
	return nil
}

// SetTTL sets the entry's expiry. Fails with core.ErrConflict if the entry
// is pinned; unpin first.
func (s *Store) SetTTL(pk string, at time.Time) error {
	e, err := s.lookup(pk)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Pinned {
		return core.ErrConflict
	}
	t := at
	e.TTLExpiresAt = &t
	return nil
}

// ClearTTL removes the entry's expiry.
func (s *Store) ClearTTL(pk string) error {
	e, err := s.lookup(pk)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TTLExpiresAt = nil
	return nil
}

// Purge drops all entries and all files (spec §4.6).
func (s *Store) Purge() error {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		e.mu.Lock()
		path := e.path
		e.mu.Unlock()
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Consolidate removes index rows for files missing on disk and discards
// files lacking an index row (spec §4.6).
func (s *Store) Consolidate() error {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("cache: read dir %q: %w", s.dir, err)
	}
	onDisk := make(map[string]bool, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			onDisk[de.Name()] = true
		}
	}

	s.mu.Lock()
	for pk, e := range s.entries {
		if isProvisional(pk) {
			continue
		}
		e.mu.Lock()
		name := filepath.Base(e.path)
		missing := e.path == "" || !onDisk[name]
		e.mu.Unlock()
		if missing {
			delete(s.entries, pk)
		} else {
			delete(onDisk, name)
		}
	}
	s.mu.Unlock()

	var firstErr error
	for name := range onDisk {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Evict removes evictable entries (neither pinned nor within a live TTL),
// least-recently-used by access counter first, until the combined size of
// remaining evictable entries is at or below the store's size limit. A
// maxBytes of 0 disables eviction entirely.
func (s *Store) Evict() error {
	if s.maxBytes <= 0 {
		return nil
	}

	now := time.Now()
	type candidate struct {
		pk   string
		e    *Entry
		size int64
	}

	s.mu.Lock()
	var evictableTotal int64
	var candidates []candidate
	for pk, e := range s.entries {
		if isProvisional(pk) || !e.evictable(now) {
			continue
		}
		info := e.snapshot()
		evictableTotal += info.CurrentSize
		candidates = append(candidates, candidate{pk, e, info.CurrentSize})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].e.AccessCount.Load() < candidates[j].e.AccessCount.Load()
	})

	var removed []string
	for _, c := range candidates {
		if evictableTotal <= s.maxBytes {
			break
		}
		evictableTotal -= c.size
		delete(s.entries, c.pk)
		removed = append(removed, c.pk)
	}
	s.mu.Unlock()

	var firstErr error
	for _, pk := range removed {
		path := filepath.Join(s.dir, pk+fileExt)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
