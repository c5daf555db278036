package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coissac/pmomusic/internal/core"
)

func passthroughTransform(_ context.Context, src io.Reader, w io.Writer) error {
	_, err := io.Copy(w, src)
	return err
}

func admitBytes(t *testing.T, store *Store, data []byte) string {
	t.Helper()
	w, err := store.Begin()
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w.(*Writer).entry.PK
}

func TestCloseComputesContentAddressedPK(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 0)

	data := []byte("some decoded audio bytes")
	pk := admitBytes(t, store, data)

	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), pk)

	info, err := store.Stat(pk)
	require.NoError(t, err)
	assert.True(t, info.Finished)
	assert.Equal(t, int64(len(data)), info.CurrentSize)
	assert.Equal(t, int64(len(data)), info.ExpectedSize)

	raw, err := os.ReadFile(filepath.Join(dir, pk+fileExt))
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestCloseDedupesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 0)

	pk1 := admitBytes(t, store, []byte("identical"))
	pk2 := admitBytes(t, store, []byte("identical"))
	assert.Equal(t, pk1, pk2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProgressiveReadBlocksUntilMoreBytesArrive(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 0)

	iface, err := store.Begin()
	require.NoError(t, err)
	writer := iface.(*Writer)

	_, err = writer.Write([]byte("hello "))
	require.NoError(t, err)

	reader, err := store.Open(writer.ID())
	require.NoError(t, err)
	defer reader.Close()

	buf := make([]byte, 64)
	n, err := reader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(buf[:n]))

	done := make(chan struct{})
	var gotN int
	var gotErr error
	go func() {
		gotN, gotErr = reader.Read(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("read returned before more bytes were written")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = writer.Write([]byte("world"))
	require.NoError(t, err)

	select {
	case <-done:
		require.NoError(t, gotErr)
		assert.Equal(t, "world", string(buf[:gotN]))
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after more bytes were written")
	}

	require.NoError(t, writer.Close())
}

func TestProgressiveReadSurfacesProducerFailureToWaitingReaders(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 0)

	iface, err := store.Begin()
	require.NoError(t, err)
	writer := iface.(*Writer)

	reader, err := store.Open(writer.ID())
	require.NoError(t, err)
	defer reader.Close()

	done := make(chan error, 1)
	go func() {
		_, err := reader.Read(make([]byte, 16))
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("read returned before producer failed")
	case <-time.After(50 * time.Millisecond):
	}

	writer.fail(assert.AnError)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after producer failure")
	}

	_, err = store.Stat(writer.ID())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPinAndTTLAreMutuallyExclusive(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 0)
	pk := admitBytes(t, store, []byte("abc"))

	require.NoError(t, store.Pin(pk))
	err := store.SetTTL(pk, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, core.ErrConflict)

	require.NoError(t, store.Unpin(pk))
	require.NoError(t, store.SetTTL(pk, time.Now().Add(time.Hour)))

	err = store.Pin(pk)
	assert.ErrorIs(t, err, core.ErrConflict)

	require.NoError(t, store.ClearTTL(pk))
	require.NoError(t, store.Pin(pk))
}

func TestEvictRemovesLeastAccessedEntryUntilUnderLimit(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 10)

	pk1 := admitBytes(t, store, []byte("aaaaaaaaaa"))
	pk2 := admitBytes(t, store, []byte("bbbbbbbbbb"))

	r, err := store.Open(pk2)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	require.NoError(t, store.Evict())

	_, err = store.Stat(pk1)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Stat(pk2)
	assert.NoError(t, err)
}

func TestEvictSkipsPinnedAndTTLLiveEntries(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 1)

	pk1 := admitBytes(t, store, []byte("aaaaaaaaaa"))
	require.NoError(t, store.Pin(pk1))

	require.NoError(t, store.Evict())

	_, err := store.Stat(pk1)
	assert.NoError(t, err)
}

func TestPurgeRemovesAllEntriesAndFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 0)
	pk := admitBytes(t, store, []byte("data"))

	require.NoError(t, store.Purge())

	_, err := store.Stat(pk)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, pk+fileExt))
	assert.True(t, os.IsNotExist(err))
}

func TestConsolidateDropsOrphanedIndexRowsAndFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 0)
	pk := admitBytes(t, store, []byte("data"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan"+fileExt), []byte("x"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, pk+fileExt)))

	require.NoError(t, store.Consolidate())

	_, err := store.Stat(pk)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, "orphan"+fileExt))
	assert.True(t, os.IsNotExist(err))
}

func TestAdmitDedupesConcurrentRequestsForSameSource(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("same content"), 0o644))

	var calls int32
	release := make(chan struct{})
	transform := func(_ context.Context, src io.Reader, w io.Writer) error {
		atomic.AddInt32(&calls, 1)
		<-release
		_, err := io.Copy(w, src)
		return err
	}

	store := NewStore(filepath.Join(dir, "cache"), transform, 0)

	var wg sync.WaitGroup
	results := make([]*Entry, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Admit(context.Background(), Source{Path: srcPath})
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, results[0], results[1])
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestAdmitRejectsAmbiguousSource(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, passthroughTransform, 0)

	_, err := store.Admit(context.Background(), Source{})
	assert.Error(t, err)

	_, err = store.Admit(context.Background(), Source{URL: "http://x", Path: "/y"})
	assert.Error(t, err)
}
