package playlist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFileStoreRoundTripsCapacityTTLAndRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONFileStore(dir, nil)
	require.NoError(t, err)

	p := New("library", "Library", "music", true, nil)
	p.SetCapacity(42)
	d := 5 * time.Minute
	p.SetDefaultTTL(&d)

	h := p.AcquireWriter()
	require.NoError(t, h.PushBatch([]Record{{CachePK: "a"}, {CachePK: "b"}}))
	h.Release()

	require.NoError(t, store.Save(p))

	loaded, err := store.Load("library")
	require.NoError(t, err)

	assert.Equal(t, p.ID, loaded.ID)
	assert.Equal(t, p.Title, loaded.Title)
	assert.Equal(t, p.RoleTag, loaded.RoleTag)
	assert.Equal(t, p.Persistent, loaded.Persistent)
	assert.Equal(t, p.Capacity(), loaded.Capacity())
	require.NotNil(t, loaded.DefaultTTL())
	assert.Equal(t, d, *loaded.DefaultTTL())

	want := p.Snapshot()
	got := loaded.Snapshot()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].CachePK, got[i].CachePK)
		require.NotNil(t, got[i].TTL)
		assert.True(t, want[i].TTL.Equal(*got[i].TTL), "TTL round-trips to the same instant")
	}
}

func TestJSONFileStoreSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONFileStore(dir, nil)
	require.NoError(t, err)

	p := New("library", "", "", true, nil)
	require.NoError(t, store.Save(p))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "library.json", entries[0].Name())
}

func TestJSONFileStoreDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONFileStore(dir, nil)
	require.NoError(t, err)

	p := New("library", "", "", true, nil)
	require.NoError(t, store.Save(p))
	require.NoError(t, store.Delete("library"))

	_, err = os.Stat(filepath.Join(dir, "library.json"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Delete("library"), "deleting an already-absent playlist is not an error")
}

func TestJSONFileStoreLoadMissingPlaylistFails(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONFileStore(dir, nil)
	require.NoError(t, err)

	_, err = store.Load("missing")
	assert.Error(t, err)
}
