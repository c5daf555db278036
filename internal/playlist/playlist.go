package playlist

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coissac/pmomusic/internal/cache"
)

// CachePresence is the narrow capability Push uses to validate that a
// record's cache_pk refers to an admitted (or in-progress) cache entry
// before accepting it (spec §4.7: "push ... validates cache presence"). A
// *cache.Store satisfies this directly.
type CachePresence interface {
	Stat(pk string) (cache.Info, error)
}

// notifier is a "wake everyone currently waiting" signal, the same
// close-and-replace idiom the broadcast bus (C2) uses for its data/space
// notifications.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	old := n.ch
	n.ch = make(chan struct{})
	n.mu.Unlock()
	close(old)
}

// Playlist is an ordered sequence of Records under a single-writer/
// multi-reader discipline (spec §4.7). Readers call Snapshot, which never
// blocks on a writer: the live sequence is published via an atomic pointer
// swap (RCU), not guarded by the writer's lock.
type Playlist struct {
	ID         string
	Title      string
	RoleTag    string
	Persistent bool

	writerMu sync.Mutex // the exclusive "writer handle" token

	capacity   atomic.Int64 // 0 = unlimited
	defaultTTL atomic.Pointer[time.Duration]
	lastChange atomic.Pointer[time.Time]

	records atomic.Pointer[[]Record] // RCU snapshot published on every mutation
	index   atomic.Pointer[map[string][]int]

	changed *notifier

	presence CachePresence
}

// New returns an empty playlist. presence is consulted by Push to reject
// records whose cache_pk is neither admitted nor lazy; it may be nil, in
// which case Push never validates (only PushLazy's bypass semantics apply
// to every record).
func New(id, title, roleTag string, persistent bool, presence CachePresence) *Playlist {
	p := &Playlist{
		ID:         id,
		Title:      title,
		RoleTag:    roleTag,
		Persistent: persistent,
		changed:    newNotifier(),
		presence:   presence,
	}
	empty := make([]Record, 0)
	p.records.Store(&empty)
	emptyIdx := make(map[string][]int)
	p.index.Store(&emptyIdx)
	now := time.Now()
	p.lastChange.Store(&now)
	return p
}

// Snapshot returns the current record sequence. The returned slice is
// never mutated in place; callers may read it freely without locking.
func (p *Playlist) Snapshot() []Record {
	return *p.records.Load()
}

// PositionsOf returns the positions within the current snapshot holding
// cache_pk, via the auxiliary index rebuilt on every mutation.
func (p *Playlist) PositionsOf(cachePK string) []int {
	idx := *p.index.Load()
	pos := idx[cachePK]
	out := make([]int, len(pos))
	copy(out, pos)
	return out
}

// Capacity returns the playlist's maximum size, or 0 for unlimited.
func (p *Playlist) Capacity() int { return int(p.capacity.Load()) }

// SetCapacity sets the playlist's maximum size (0 = unlimited). Does not
// evict existing records beyond the new capacity; only future pushes are
// bounded by it.
func (p *Playlist) SetCapacity(n int) {
	p.capacity.Store(int64(n))
	p.touch()
}

// DefaultTTL returns the playlist's default per-record TTL duration, or
// nil if none is set.
func (p *Playlist) DefaultTTL() *time.Duration { return p.defaultTTL.Load() }

// SetDefaultTTL sets the playlist's default per-record TTL. A nil d clears
// it. Existing records are not retroactively updated.
func (p *Playlist) SetDefaultTTL(d *time.Duration) {
	p.defaultTTL.Store(d)
	p.touch()
}

// LastChange returns the timestamp of the most recent mutation.
func (p *Playlist) LastChange() time.Time { return *p.lastChange.Load() }

// Changed returns a channel that closes the next time any mutating
// operation completes; callers re-select on a fresh call to keep watching.
func (p *Playlist) Changed() <-chan struct{} { return p.changed.wait() }

// AcquireWriter blocks until no other writer holds the exclusive token,
// then returns a WriterHandle bound to this playlist. Release must be
// called exactly once.
func (p *Playlist) AcquireWriter() *WriterHandle {
	p.writerMu.Lock()
	return &WriterHandle{p: p}
}

// WriterHandle is the exclusive mutation token for a Playlist (spec §4.7:
// "a writer handle is an exclusive token; acquiring it blocks concurrent
// writers; readers take RCU-style snapshots and never block writers").
type WriterHandle struct {
	p        *Playlist
	released bool
}

// Release gives up the exclusive token; calling it again is a no-op. The
// mutation methods do not check whether the handle has been released, so
// callers should discard the handle immediately after Release.
func (h *WriterHandle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.p.writerMu.Unlock()
}

// touch updates LastChange and fires the change notification. Caller must
// hold the writer lock (or be constructing a fresh Playlist).
func (p *Playlist) touch() {
	now := time.Now()
	p.lastChange.Store(&now)
	p.changed.broadcast()
}

// publish recomputes the cache_pk → positions[] auxiliary index
// from recs and publishes both atomically enough for RCU readers: records
// first, then index — a reader observing the new records before the new
// index sees, at worst, a stale (but internally consistent) index from the
// previous generation, never a torn one.
func (p *Playlist) publish(recs []Record) {
	idx := make(map[string][]int, len(recs))
	for i, r := range recs {
		idx[r.CachePK] = append(idx[r.CachePK], i)
	}
	p.records.Store(&recs)
	p.index.Store(&idx)
	p.touch()
}

// validate checks a record's cache_pk against the presence capability,
// accepting lazy PKs unconditionally (spec §4.7: push_lazy "bypasses
// validation for not-yet-admitted entries" — and an already-lazy record
// pushed through plain Push is equally exempt, since there is nothing yet
// to validate).
func (p *Playlist) validate(rec Record) error {
	if IsLazyPK(rec.CachePK) {
		return nil
	}
	if p.presence == nil {
		return nil
	}
	if _, err := p.presence.Stat(rec.CachePK); err != nil {
		return fmt.Errorf("playlist: push %s: %w", rec.CachePK, err)
	}
	return nil
}

func (p *Playlist) withDefaultTTL(rec Record) Record {
	if rec.TTL == nil {
		if d := p.defaultTTL.Load(); d != nil {
			t := time.Now().Add(*d)
			rec.TTL = &t
		}
	}
	return rec
}

// Push appends rec to the end of the playlist, validating its cache_pk
// against the presence capability (unless it is a lazy PK). Fails if the
// playlist is at capacity.
func (h *WriterHandle) Push(rec Record) error {
	return h.PushBatch([]Record{rec})
}

// PushBatch appends recs in order, validating each entry the same way
// Push does, atomically with respect to readers (they observe either all
// of recs appended or none).
func (h *WriterHandle) PushBatch(recs []Record) error {
	p := h.p
	cur := p.Snapshot()

	if cap := p.Capacity(); cap > 0 && len(cur)+len(recs) > cap {
		return fmt.Errorf("playlist: push would exceed capacity %d", cap)
	}

	prepared := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if err := p.validate(rec); err != nil {
			return err
		}
		prepared = append(prepared, p.withDefaultTTL(rec))
	}

	next := make([]Record, 0, len(cur)+len(prepared))
	next = append(next, cur...)
	next = append(next, prepared...)
	p.publish(next)
	return nil
}

// PushLazy appends rec without validating its cache_pk against the
// presence capability, regardless of whether it is a lazy PK (spec §4.7:
// "push_lazy ... bypasses validation for not-yet-admitted entries").
func (h *WriterHandle) PushLazy(rec Record) error {
	p := h.p
	cur := p.Snapshot()
	if cap := p.Capacity(); cap > 0 && len(cur)+1 > cap {
		return fmt.Errorf("playlist: push would exceed capacity %d", cap)
	}
	next := make([]Record, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, p.withDefaultTTL(rec))
	p.publish(next)
	return nil
}

// RemoveByCachePK removes every record whose cache_pk equals pk, returning
// the number removed.
func (h *WriterHandle) RemoveByCachePK(pk string) int {
	p := h.p
	cur := p.Snapshot()
	next := make([]Record, 0, len(cur))
	removed := 0
	for _, r := range cur {
		if r.CachePK == pk {
			removed++
			continue
		}
		next = append(next, r)
	}
	if removed > 0 {
		p.publish(next)
	}
	return removed
}

// Flush removes every record from the playlist.
func (h *WriterHandle) Flush() {
	h.p.publish(make([]Record, 0))
}

// UpdateCachePK rewrites every record whose cache_pk equals old to point
// at new instead (spec §4.7: used when a lazy PK resolves to its real
// content-addressed key). Returns the number of records rewritten.
func (h *WriterHandle) UpdateCachePK(old, newPK string) int {
	p := h.p
	cur := p.Snapshot()
	next := make([]Record, len(cur))
	copy(next, cur)
	rewritten := 0
	for i, r := range next {
		if r.CachePK == old {
			next[i].CachePK = newPK
			rewritten++
		}
	}
	if rewritten > 0 {
		p.publish(next)
	}
	return rewritten
}

// CloneAsPersistent returns a new, independent Playlist with the same
// records and configuration as p, but a fresh id/title and Persistent set
// (spec §4.7's "clone-as-persistent").
func (h *WriterHandle) CloneAsPersistent(newID, newTitle string) *Playlist {
	p := h.p
	clone := New(newID, newTitle, p.RoleTag, true, p.presence)
	clone.capacity.Store(p.capacity.Load())
	clone.defaultTTL.Store(p.defaultTTL.Load())

	cur := p.Snapshot()
	recs := make([]Record, len(cur))
	copy(recs, cur)
	clone.publish(recs)
	return clone
}
