package playlist

import (
	"fmt"
	"sync"
)

// Manager is a flat registry of playlists keyed by id (spec §4.7 covers a
// single playlist's semantics; real deployments run several side by side —
// a now-playing queue, one or more persistent libraries — hence the flat
// map rather than the teacher's time-of-day grouping, which has no analogue
// in this domain).
type Manager struct {
	mu        sync.RWMutex
	playlists map[string]*Playlist
	presence  CachePresence
	persist   PersistenceStore
}

// NewManager returns an empty registry. presence is threaded into every
// playlist created through it (for Push's cache-presence validation);
// persist may be nil, in which case persistent playlists are kept only
// in memory.
func NewManager(presence CachePresence, persist PersistenceStore) *Manager {
	return &Manager{
		playlists: make(map[string]*Playlist),
		presence:  presence,
		persist:   persist,
	}
}

// Create registers a new playlist under id, failing if id is already in
// use. If persistent, the empty playlist is written through immediately
// (spec §4.7: "persistent playlists are written through to durable
// storage after every mutation").
func (m *Manager) Create(id, title, roleTag string, persistent bool) (*Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.playlists[id]; exists {
		return nil, fmt.Errorf("playlist: id %q already registered", id)
	}

	p := New(id, title, roleTag, persistent, m.presence)
	m.playlists[id] = p

	if persistent && m.persist != nil {
		if err := m.persist.Save(p); err != nil {
			delete(m.playlists, id)
			return nil, fmt.Errorf("playlist: persist %q: %w", id, err)
		}
	}
	return p, nil
}

// Get returns the playlist registered under id.
func (m *Manager) Get(id string) (*Playlist, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.playlists[id]
	return p, ok
}

// Remove unregisters id, dropping it from the in-memory registry. It does
// not remove any previously-written persistent file; callers that want
// that must do so explicitly via the PersistenceStore.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.playlists, id)
}

// List returns every registered playlist, in no particular order.
func (m *Manager) List() []*Playlist {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Playlist, 0, len(m.playlists))
	for _, p := range m.playlists {
		out = append(out, p)
	}
	return out
}

// Register adds an already-constructed playlist (e.g. one loaded from
// persistence at startup) under its own id.
func (m *Manager) Register(p *Playlist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.playlists[p.ID]; exists {
		return fmt.Errorf("playlist: id %q already registered", p.ID)
	}
	m.playlists[p.ID] = p
	return nil
}

// WithWriter acquires id's writer handle, runs fn, releases the handle,
// and — if id is persistent and a PersistenceStore is configured — writes
// the playlist through transactionally (spec §4.7: "persistent playlists
// ... must commit transactionally"). fn's error, if any, still releases
// the handle but skips the persist step.
func (m *Manager) WithWriter(id string, fn func(*WriterHandle) error) error {
	p, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("playlist: unknown id %q", id)
	}

	h := p.AcquireWriter()
	err := fn(h)
	h.Release()
	if err != nil {
		return err
	}

	if p.Persistent && m.persist != nil {
		if err := m.persist.Save(p); err != nil {
			return fmt.Errorf("playlist: persist %q: %w", id, err)
		}
	}
	return nil
}
