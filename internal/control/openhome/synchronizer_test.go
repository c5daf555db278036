package openhome

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeRenderer is an in-memory RendererOps double modeling exactly the
// primitives a real OpenHome playlist service exposes: an ordered track
// list addressed by opaque renderer-assigned ids, insert-after semantics,
// and a single currently-playing id.
type fakeRenderer struct {
	tracks  []TrackEntry
	nextID  uint32
	current uint32 // 0 = none playing
	ops     []string
}

func newFakeRenderer(items ...PlaybackItem) *fakeRenderer {
	f := &fakeRenderer{}
	after := headID
	for _, item := range items {
		after = f.insertNoLog(after, item.URI)
	}
	return f
}

func (f *fakeRenderer) insertNoLog(after uint32, uri string) uint32 {
	f.nextID++
	id := f.nextID
	entry := TrackEntry{ID: id, URI: uri, DIDLXML: ""}
	if after == headID {
		f.tracks = append([]TrackEntry{entry}, f.tracks...)
		return id
	}
	idx := f.indexOf(after)
	f.tracks = append(f.tracks[:idx+1], append([]TrackEntry{entry}, f.tracks[idx+1:]...)...)
	return id
}

func (f *fakeRenderer) indexOf(id uint32) int {
	for i, t := range f.tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (f *fakeRenderer) Insert(_ context.Context, after uint32, uri, didlXML string) (uint32, error) {
	id := f.insertNoLog(after, uri)
	f.ops = append(f.ops, fmt.Sprintf("insert(after=%d)->uri=%s", after, uri))
	return id, nil
}

func (f *fakeRenderer) DeleteID(_ context.Context, id uint32) error {
	idx := f.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("no such id %d", id)
	}
	f.tracks = append(f.tracks[:idx], f.tracks[idx+1:]...)
	f.ops = append(f.ops, fmt.Sprintf("delete(%d)", id))
	return nil
}

func (f *fakeRenderer) DeleteIDIfExists(ctx context.Context, id uint32) error {
	if f.indexOf(id) < 0 {
		return nil
	}
	return f.DeleteID(ctx, id)
}

func (f *fakeRenderer) DeleteAll(context.Context) error {
	f.tracks = nil
	f.ops = append(f.ops, "deleteAll()")
	return nil
}

func (f *fakeRenderer) SeekID(_ context.Context, id uint32) error {
	f.current = id
	return nil
}

func (f *fakeRenderer) IDArray(context.Context) ([]uint32, error) {
	ids := make([]uint32, len(f.tracks))
	for i, t := range f.tracks {
		ids[i] = t.ID
	}
	return ids, nil
}

func (f *fakeRenderer) CurrentID(context.Context) (uint32, bool, error) {
	return f.current, f.current != 0, nil
}

func (f *fakeRenderer) ReadAllTracks(context.Context) ([]TrackEntry, error) {
	out := make([]TrackEntry, len(f.tracks))
	copy(out, f.tracks)
	return out, nil
}

func (f *fakeRenderer) uris() []string {
	out := make([]string, len(f.tracks))
	for i, t := range f.tracks {
		out[i] = t.URI
	}
	return out
}

func item(uri string) PlaybackItem { return PlaybackItem{URI: uri, DIDLID: uri} }

// TestSyncPreservesPivotExactOperations is spec §8 end-to-end scenario 4:
// C = [A,B,C(playing),D,E], D = [X,B,C,Y,E]. Expected ops: delete A,
// delete D, insert X before B, insert Y after C; C keeps its remote id.
func TestSyncPreservesPivotExactOperations(t *testing.T) {
	renderer := newFakeRenderer(item("A"), item("B"), item("C"), item("D"), item("E"))
	pivotID := renderer.tracks[2].ID // "C"
	require.NoError(t, renderer.SeekID(context.Background(), pivotID))

	s := New("renderer-1", renderer)
	desired := []PlaybackItem{item("X"), item("B"), item("C"), item("Y"), item("E")}

	require.NoError(t, s.Sync(context.Background(), desired))

	assert.Equal(t, []string{"X", "B", "C", "Y", "E"}, renderer.uris())
	assert.Equal(t, pivotID, renderer.tracks[2].ID, "the playing track must retain its original remote id")
}

func TestSyncIsIdempotent(t *testing.T) {
	renderer := newFakeRenderer(item("A"), item("B"), item("C"), item("D"), item("E"))
	pivotID := renderer.tracks[2].ID
	require.NoError(t, renderer.SeekID(context.Background(), pivotID))

	s := New("renderer-1", renderer)
	desired := []PlaybackItem{item("X"), item("B"), item("C"), item("Y"), item("E")}

	require.NoError(t, s.Sync(context.Background(), desired))
	renderer.ops = nil

	require.NoError(t, s.Sync(context.Background(), desired))
	assert.Empty(t, renderer.ops, "a second sync with no intervening changes performs zero renderer operations")
}

func TestSyncPlayingTrackAbsentFromDesiredIsKeptFirst(t *testing.T) {
	renderer := newFakeRenderer(item("A"), item("B"), item("C"))
	playingID := renderer.tracks[1].ID // "B"
	require.NoError(t, renderer.SeekID(context.Background(), playingID))

	s := New("renderer-1", renderer)
	require.NoError(t, s.Sync(context.Background(), []PlaybackItem{item("X"), item("Y")}))

	assert.Equal(t, []string{"B", "X", "Y"}, renderer.uris())
	assert.Equal(t, playingID, renderer.tracks[0].ID)
}

func TestSyncWithNoCurrentTrackUsesDeleteAllWhenNothingSurvives(t *testing.T) {
	renderer := newFakeRenderer(item("A"), item("B"))

	s := New("renderer-1", renderer)
	require.NoError(t, s.Sync(context.Background(), []PlaybackItem{item("X"), item("Y")}))

	assert.Contains(t, renderer.ops, "deleteAll()")
	assert.Equal(t, []string{"X", "Y"}, renderer.uris())
}

func TestSyncWithNoCurrentTrackKeepsMatchingEntries(t *testing.T) {
	renderer := newFakeRenderer(item("A"), item("B"), item("C"))
	keptID := renderer.tracks[1].ID // "B"

	s := New("renderer-1", renderer)
	require.NoError(t, s.Sync(context.Background(), []PlaybackItem{item("B"), item("Y")}))

	assert.Equal(t, []string{"B", "Y"}, renderer.uris())
	assert.Equal(t, keptID, renderer.tracks[0].ID, "a kept item retains its renderer id")
}

func TestSyncWithEmptyDesiredDeletesEverything(t *testing.T) {
	renderer := newFakeRenderer(item("A"), item("B"))
	s := New("renderer-1", renderer)

	require.NoError(t, s.Sync(context.Background(), nil))
	assert.Empty(t, renderer.uris())
}

func TestDeletesUseIfExistsVariantSoAConcurrentEditIsNonFatal(t *testing.T) {
	renderer := newFakeRenderer(item("A"), item("B"))
	staleID := renderer.tracks[0].ID

	// Simulate a third-party controller removing "A" between the fresh
	// read and the delete step by deleting it again before Sync gets
	// there — DeleteIDIfExists must not error on the second attempt.
	require.NoError(t, renderer.DeleteIDIfExists(context.Background(), staleID))

	s := New("renderer-1", renderer)
	require.NoError(t, s.Sync(context.Background(), []PlaybackItem{item("B")}))
}

func TestLCSFlagsPreferConsumingFromCurrentOnTies(t *testing.T) {
	current := []PlaybackItem{item("A"), item("B")}
	desired := []PlaybackItem{item("B"), item("A")}

	keepCurrent, keepDesired := lcsFlags(current, desired)

	total := 0
	for _, k := range keepCurrent {
		if k {
			total++
		}
	}
	assert.Equal(t, 1, total, "only one element of a disjoint-order pair can be kept")
	assert.Equal(t, []bool{true, false}, keepCurrent, "on a tie the backtrack consumes from current, so current's A survives")
	assert.Equal(t, []bool{false, true}, keepDesired)
}

func TestBuildMetadataXMLEscapesReservedCharacters(t *testing.T) {
	i := PlaybackItem{
		URI:    "http://example.com/a&b",
		DIDLID: "id-1",
		Metadata: &Metadata{
			Title: `Rock & Roll "Anthem"`,
		},
	}
	xml := buildMetadataXML(i)
	assert.NotContains(t, xml, `"Anthem"`)
	assert.Contains(t, xml, "&amp;")
}

// TestSyncIsIdempotentProperty is a property-based restatement of the
// idempotence law in spec §8: for any renderer state and any desired
// list, syncing twice in a row performs zero renderer operations on the
// second call — restricted to the pivot-found and no-current-track cases,
// where reconciliation goes through LCS. The "playing track absent from
// desired" case intentionally tears down and reinserts unconditionally
// every call (mirroring the original's behavior exactly), so it is not a
// fixpoint and is excluded here by construction.
func TestSyncIsIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(rt, "n")
		items := make([]PlaybackItem, n)
		for i := range items {
			items[i] = item(fmt.Sprintf("t%d", i))
		}
		renderer := newFakeRenderer(items...)

		hasCurrent := n > 0 && rapid.Bool().Draw(rt, "hasCurrent")
		var playingURI string
		if hasCurrent {
			playIdx := rapid.IntRange(0, n-1).Draw(rt, "playIdx")
			playingURI = items[playIdx].URI
			require.NoError(rt, renderer.SeekID(context.Background(), renderer.tracks[playIdx].ID))
		}

		m := rapid.IntRange(0, 5).Draw(rt, "m")
		desired := make([]PlaybackItem, m)
		for i := range desired {
			desired[i] = item(fmt.Sprintf("t%d", rapid.IntRange(0, 5).Draw(rt, "uri")))
		}
		if hasCurrent {
			// Force case 2 (pivot found): the playing track must appear
			// in desired, or this draw would hit the non-idempotent
			// "preserve current" case by construction.
			pos := rapid.IntRange(0, len(desired)).Draw(rt, "pivotPos")
			desired = append(desired[:pos], append([]PlaybackItem{item(playingURI)}, desired[pos:]...)...)
		}

		s := New("renderer-1", renderer)
		require.NoError(rt, s.Sync(context.Background(), desired))
		renderer.ops = nil

		require.NoError(rt, s.Sync(context.Background(), desired))
		assert.Empty(rt, renderer.ops)
	})
}
