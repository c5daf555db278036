package metadata

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coissac/pmomusic/internal/core"
)

func TestMapProviderGetSetRoundTrip(t *testing.T) {
	p := NewMapProvider()

	v, err := p.Get(FieldTitle)
	require.NoError(t, err)
	assert.Nil(t, v, "unset field must return nil, not an error")

	require.NoError(t, p.Set(FieldTitle, "Voyager"))
	v, err = p.Get(FieldTitle)
	require.NoError(t, err)
	assert.Equal(t, "Voyager", v)

	require.NoError(t, p.Set(FieldTitle, nil))
	v, err = p.Get(FieldTitle)
	require.NoError(t, err)
	assert.Nil(t, v, "setting nil clears the field")
}

func TestMapProviderFreeForm(t *testing.T) {
	p := NewMapProvider()
	require.NoError(t, p.SetFreeForm(map[string]string{"genre": "ambient"}))

	ff, err := p.FreeForm()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"genre": "ambient"}, ff)

	ff["genre"] = "mutated"
	ff2, _ := p.FreeForm()
	assert.Equal(t, "ambient", ff2["genre"], "FreeForm returns a copy, not the live map")
}

func TestNewMapProviderFromStringsSplitsKnownAndFreeForm(t *testing.T) {
	p := NewMapProviderFromStrings(map[string]string{
		"title": "Voyager",
		"genre": "ambient",
	})

	title, err := p.Get(FieldTitle)
	require.NoError(t, err)
	assert.Equal(t, "Voyager", title)

	ff, err := p.FreeForm()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"genre": "ambient"}, ff)
}

func TestGetStringHandlesMissingAndNilProvider(t *testing.T) {
	p := NewMapProvider()
	assert.Equal(t, "", GetString(p, FieldTitle))

	require.NoError(t, p.Set(FieldTitle, "Voyager"))
	assert.Equal(t, "Voyager", GetString(p, FieldTitle))

	assert.Equal(t, "", GetString(nil, FieldTitle))
}

func TestToMapFlattensNamedAndFreeFormFields(t *testing.T) {
	p := NewMapProvider()
	require.NoError(t, p.Set(FieldTitle, "Voyager"))
	require.NoError(t, p.Set(FieldYear, 1977))
	require.NoError(t, p.SetFreeForm(map[string]string{"genre": "ambient"}))

	m := ToMap(p)
	assert.Equal(t, "Voyager", m[string(FieldTitle)])
	assert.Equal(t, "1977", m[string(FieldYear)])
	assert.Equal(t, "ambient", m["genre"])

	assert.Empty(t, ToMap(nil), "a nil provider flattens to an empty map, not a panic")
}

// TestMapProviderConcurrentAccess exercises the "shared, mutable-under-lock
// handle" property a TrackBoundary's Metadata relies on: concurrent readers
// and a single writer must never race.
func TestMapProviderConcurrentAccess(t *testing.T) {
	p := NewMapProvider()
	require.NoError(t, p.Set(FieldTitle, "Voyager"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Get(FieldTitle)
			_, _ = p.FreeForm()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 32; i++ {
			_ = p.Set(FieldTitle, "Voyager (live)")
		}
	}()
	wg.Wait()

	v, err := p.Get(FieldTitle)
	require.NoError(t, err)
	assert.Equal(t, "Voyager (live)", v)
}

func TestCopySkipsTransientErrorsAndPropagatesOthers(t *testing.T) {
	src := NewMapProvider()
	require.NoError(t, src.Set(FieldTitle, "Voyager"))
	require.NoError(t, src.Set(FieldArtist, "Test Artist"))
	require.NoError(t, src.SetFreeForm(map[string]string{"genre": "ambient"}))

	dst := &readOnlyFieldProvider{Provider: NewMapProvider(), readOnly: FieldArtist}
	require.NoError(t, Copy(dst, src))

	title, err := dst.Get(FieldTitle)
	require.NoError(t, err)
	assert.Equal(t, "Voyager", title)

	artist, err := dst.Get(FieldArtist)
	require.NoError(t, err)
	assert.Nil(t, artist, "read-only field is skipped, not copied")
}

// readOnlyFieldProvider wraps a Provider, rejecting writes to one field
// with core.ErrReadOnly to exercise Copy's transient-error handling.
type readOnlyFieldProvider struct {
	Provider
	readOnly Field
}

func (p *readOnlyFieldProvider) Set(f Field, v any) error {
	if f == p.readOnly {
		return core.ErrReadOnly
	}
	return p.Provider.Set(f, v)
}
