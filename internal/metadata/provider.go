// Package metadata implements the MetadataProvider capability (spec §6): a
// shared-handle set of typed accessors over a track's descriptive fields,
// with NotImplemented/ReadOnly treated as transient and swallowed by the
// copy helper rather than aborting propagation.
package metadata

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coissac/pmomusic/internal/core"
)

// Field names the closed set of metadata fields a Provider may expose.
type Field string

const (
	FieldTitle         Field = "title"
	FieldArtist        Field = "artist"
	FieldAlbum         Field = "album"
	FieldYear          Field = "year"
	FieldDuration      Field = "duration"
	FieldSampleRate    Field = "sample_rate"
	FieldTotalSamples  Field = "total_samples"
	FieldBitsPerSample Field = "bits_per_sample"
	FieldCoverURL      Field = "cover_url"
	FieldCoverPK       Field = "cover_pk"
	FieldRating        Field = "rating"
)

// Provider is the narrow interface nodes and the cache use to read and
// write a track's metadata. Get returns (nil, nil) for a field the
// provider simply has no value for, and a typed error (wrapping
// core.ErrNotImplemented or core.ErrReadOnly) for fields it structurally
// cannot serve.
type Provider interface {
	Get(f Field) (any, error)
	Set(f Field, v any) error

	// FreeForm exposes the provider's free-form string map (spec §6's
	// catch-all field), read-write like the named fields.
	FreeForm() (map[string]string, error)
	SetFreeForm(m map[string]string) error
}

// MapProvider is an in-memory Provider backed by a plain map, the simplest
// concrete implementation: every named field is read-write, nothing is
// ever NotImplemented or ReadOnly. Sources that extract a fixed field set
// up front (the file and HTTP sources, §4.4) populate one of these.
//
// It is the opaque, shared, mutable-under-lock handle the data model names
// (spec §3): a *MapProvider is passed by pointer and carried inside a
// TrackBoundary, so every node downstream of the source that emitted it
// observes live updates under mu rather than a point-in-time snapshot.
type MapProvider struct {
	mu       sync.RWMutex
	values   map[Field]any
	freeForm map[string]string
}

// NewMapProvider returns an empty, fully read-write provider.
func NewMapProvider() *MapProvider {
	return &MapProvider{values: make(map[Field]any), freeForm: make(map[string]string)}
}

// NewMapProviderFromStrings builds a provider seeded from a flat
// string-keyed map (e.g. a container's free-form song metadata), assigning
// any key matching a named Field and carrying the rest as free-form.
func NewMapProviderFromStrings(m map[string]string) *MapProvider {
	p := NewMapProvider()
	ff := make(map[string]string, len(m))
	for k, v := range m {
		f := Field(k)
		known := false
		for _, af := range AllFields {
			if af == f {
				known = true
				break
			}
		}
		if known {
			p.values[f] = v
		} else {
			ff[k] = v
		}
	}
	p.freeForm = ff
	return p
}

func (p *MapProvider) Get(f Field) (any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[f]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (p *MapProvider) Set(f Field, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v == nil {
		delete(p.values, f)
		return nil
	}
	p.values[f] = v
	return nil
}

func (p *MapProvider) FreeForm() (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.freeForm))
	for k, v := range p.freeForm {
		out[k] = v
	}
	return out, nil
}

func (p *MapProvider) SetFreeForm(m map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeForm = make(map[string]string, len(m))
	for k, v := range m {
		p.freeForm[k] = v
	}
	return nil
}

// GetString is a convenience accessor for callers that just want a named
// field's string form (e.g. tag-writer sinks), returning "" for both a
// missing field, a provider-less nil, and a non-string value.
func GetString(p Provider, f Field) string {
	if p == nil {
		return ""
	}
	v, _ := p.Get(f)
	s, _ := v.(string)
	return s
}

// ToMap flattens p's named fields (plus its free-form map) into a plain
// string-keyed snapshot, for boundaries that persist metadata rather than
// carry the live handle onward (e.g. the cache's on-disk entry metadata).
// It is a one-way snapshot: the returned map does not observe later
// updates to p the way the Provider handle itself does.
func ToMap(p Provider) map[string]string {
	out := make(map[string]string)
	if p == nil {
		return out
	}
	for _, f := range AllFields {
		v, _ := p.Get(f)
		if v == nil {
			continue
		}
		out[string(f)] = fmt.Sprintf("%v", v)
	}
	if ff, err := p.FreeForm(); err == nil {
		for k, v := range ff {
			out[k] = v
		}
	}
	return out
}

// AllFields lists every named field Copy walks, in a stable order.
var AllFields = []Field{
	FieldTitle, FieldArtist, FieldAlbum, FieldYear, FieldDuration,
	FieldSampleRate, FieldTotalSamples, FieldBitsPerSample,
	FieldCoverURL, FieldCoverPK, FieldRating,
}

// Copy transfers every field (and the free-form map) from src to dst.
// NotImplemented and ReadOnly errors from dst.Set are swallowed per spec
// §6/§7 ("transient errors... copy-metadata skips them"); any other error
// aborts the whole copy and is returned to the caller.
func Copy(dst, src Provider) error {
	for _, f := range AllFields {
		v, err := src.Get(f)
		if err != nil {
			if isTransient(err) {
				continue
			}
			return err
		}
		if v == nil {
			continue
		}
		if err := dst.Set(f, v); err != nil {
			if isTransient(err) {
				continue
			}
			return err
		}
	}

	ff, err := src.FreeForm()
	if err != nil {
		if isTransient(err) {
			return nil
		}
		return err
	}
	if err := dst.SetFreeForm(ff); err != nil && !isTransient(err) {
		return err
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, core.ErrNotImplemented) || errors.Is(err, core.ErrReadOnly)
}
