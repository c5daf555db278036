package openhome

import (
	"context"
	"fmt"
)

// Synchronizer reconciles a desired playlist against one renderer's live
// OpenHome playlist (spec §4.8). State machine for one Sync call:
// fetch remote → classify playing track → compute diff → apply deletes →
// apply inserts. Fatal errors abort at their step; partial renderer state
// is acceptable and is reconciled on the next call.
type Synchronizer struct {
	rendererID string
	ops        RendererOps
}

// New returns a Synchronizer driving ops on behalf of rendererID (used
// only for log/error context).
func New(rendererID string, ops RendererOps) *Synchronizer {
	return &Synchronizer{rendererID: rendererID, ops: ops}
}

func (s *Synchronizer) trackIDs(ctx context.Context) ([]uint32, error) {
	return s.ops.IDArray(ctx)
}

func (s *Synchronizer) itemFromEntry(e TrackEntry) PlaybackItem {
	return PlaybackItem{URI: e.URI, DIDLID: fmt.Sprintf("openhome:%d", e.ID)}
}

// Snapshot re-reads the renderer's live playlist and currently-playing
// index (spec's "fresh-state discipline": always consult the renderer
// immediately before computing a diff).
func (s *Synchronizer) Snapshot(ctx context.Context) (QueueSnapshot, error) {
	entries, err := s.ops.ReadAllTracks(ctx)
	if err != nil {
		return QueueSnapshot{}, fmt.Errorf("openhome: read tracks: %w", err)
	}

	items := make([]PlaybackItem, len(entries))
	ids := make([]uint32, len(entries))
	for i, e := range entries {
		items[i] = s.itemFromEntry(e)
		ids[i] = e.ID
	}

	var currentIndex *int
	if currentID, ok, err := s.ops.CurrentID(ctx); err == nil && ok {
		for i, id := range ids {
			if id == currentID {
				idx := i
				currentIndex = &idx
				break
			}
		}
	}

	return QueueSnapshot{Items: items, RemoteIDs: ids, CurrentIndex: currentIndex}, nil
}

// ReplaceQueue clears the renderer's playlist and inserts items in order,
// unconditionally (no LCS, no preservation of the current track). Used
// for an initial load or an explicit hard reset.
func (s *Synchronizer) ReplaceQueue(ctx context.Context, items []PlaybackItem) error {
	if err := s.ops.DeleteAll(ctx); err != nil {
		return fmt.Errorf("openhome: delete all: %w", err)
	}
	previous := headID
	for _, item := range items {
		newID, err := s.ops.Insert(ctx, previous, item.URI, buildMetadataXML(item))
		if err != nil {
			return fmt.Errorf("openhome: insert: %w", err)
		}
		previous = newID
	}
	return nil
}

// Sync reconciles the renderer's live playlist toward desired using the
// minimum-operations LCS strategy (spec §4.8). It re-reads the renderer's
// state first, then picks one of three cases depending on whether — and
// where — the currently playing track appears in desired.
func (s *Synchronizer) Sync(ctx context.Context, desired []PlaybackItem) error {
	if len(desired) == 0 {
		ids, err := s.trackIDs(ctx)
		if err != nil {
			return fmt.Errorf("openhome: track ids: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		return s.ops.DeleteAll(ctx)
	}

	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}

	if snapshot.CurrentIndex == nil {
		return s.replaceStandardLCS(ctx, snapshot, desired)
	}

	playingIdx := *snapshot.CurrentIndex
	playingID := snapshot.RemoteIDs[playingIdx]
	playing := snapshot.Items[playingIdx]

	pivot := -1
	for i, item := range desired {
		if item.URI == playing.URI {
			pivot = i
			break
		}
	}
	if pivot < 0 {
		for i, item := range desired {
			if item.DIDLID == playing.DIDLID {
				pivot = i
				break
			}
		}
	}

	if pivot >= 0 {
		return s.replaceWithPivot(ctx, snapshot, desired, pivot, playingID)
	}
	return s.replacePreserveCurrent(ctx, desired, playingID)
}

// replacePreserveCurrent implements case 1: the playing track is not in
// desired, so it is kept as item 0 and desired is appended after it.
func (s *Synchronizer) replacePreserveCurrent(ctx context.Context, desired []PlaybackItem, playingID uint32) error {
	currentIDs, err := s.trackIDs(ctx)
	if err != nil {
		return fmt.Errorf("openhome: track ids: %w", err)
	}

	for i := len(currentIDs) - 1; i >= 0; i-- {
		if currentIDs[i] != playingID {
			if err := s.ops.DeleteIDIfExists(ctx, currentIDs[i]); err != nil {
				return fmt.Errorf("openhome: delete %d: %w", currentIDs[i], err)
			}
		}
	}

	previous := playingID
	for _, item := range desired {
		newID, err := s.ops.Insert(ctx, previous, item.URI, buildMetadataXML(item))
		if err != nil {
			return fmt.Errorf("openhome: insert: %w", err)
		}
		previous = newID
	}
	return nil
}

func (s *Synchronizer) deleteMarked(ctx context.Context, oldIDs []uint32, keep []bool) error {
	for i := len(oldIDs) - 1; i >= 0; i-- {
		if !keep[i] {
			if err := s.ops.DeleteIDIfExists(ctx, oldIDs[i]); err != nil {
				return fmt.Errorf("openhome: delete %d: %w", oldIDs[i], err)
			}
		}
	}
	return nil
}

// rebuildSection walks one side (before or after the pivot), keeping
// existing renderer ids for items the LCS preserved and inserting fresh
// items for the rest, returning the renderer id to anchor the next
// section after.
func (s *Synchronizer) rebuildSection(ctx context.Context, newItems []PlaybackItem, keepNew []bool, oldIDs []uint32, keepOld []bool, previous uint32) (uint32, error) {
	remaining := make([]uint32, 0, len(oldIDs))
	for i, id := range oldIDs {
		if keepOld[i] {
			remaining = append(remaining, id)
		}
	}

	idx := 0
	for i, item := range newItems {
		if keepNew[i] {
			previous = remaining[idx]
			idx++
			continue
		}
		newID, err := s.ops.Insert(ctx, previous, item.URI, buildMetadataXML(item))
		if err != nil {
			return 0, fmt.Errorf("openhome: insert: %w", err)
		}
		previous = newID
	}
	return previous, nil
}

// replaceWithPivot implements case 2: the playing track is in desired at
// pivotIdxNew. LCS runs independently on the before-pivot and
// after-pivot halves, and the pivot itself keeps its renderer id and
// position as the anchor between them.
func (s *Synchronizer) replaceWithPivot(ctx context.Context, snapshot QueueSnapshot, desired []PlaybackItem, pivotIdxNew int, pivotID uint32) error {
	pivotIdxOld := -1
	for i, id := range snapshot.RemoteIDs {
		if id == pivotID {
			pivotIdxOld = i
			break
		}
	}
	if pivotIdxOld < 0 {
		return fmt.Errorf("openhome: pivot track id %d not found in renderer playlist", pivotID)
	}

	oldBefore := snapshot.Items[:pivotIdxOld]
	oldAfter := snapshot.Items[pivotIdxOld+1:]
	oldIDsBefore := snapshot.RemoteIDs[:pivotIdxOld]
	oldIDsAfter := snapshot.RemoteIDs[pivotIdxOld+1:]

	newBefore := desired[:pivotIdxNew]
	newAfter := desired[pivotIdxNew+1:]

	keepOldAfter, keepNewAfter := lcsFlags(oldAfter, newAfter)
	keepOldBefore, keepNewBefore := lcsFlags(oldBefore, newBefore)

	if err := s.deleteMarked(ctx, oldIDsAfter, keepOldAfter); err != nil {
		return err
	}
	if err := s.deleteMarked(ctx, oldIDsBefore, keepOldBefore); err != nil {
		return err
	}

	if _, err := s.rebuildSection(ctx, newBefore, keepNewBefore, oldIDsBefore, keepOldBefore, headID); err != nil {
		return err
	}

	if _, err := s.rebuildSection(ctx, newAfter, keepNewAfter, oldIDsAfter, keepOldAfter, pivotID); err != nil {
		return err
	}

	return nil
}

// replaceStandardLCS implements case 3: no currently playing track, so a
// plain LCS runs over the whole queue. If it keeps nothing, delete_all is
// used instead of deleting every entry individually (more robust against
// a concurrently editing controller, per §4.8).
func (s *Synchronizer) replaceStandardLCS(ctx context.Context, snapshot QueueSnapshot, desired []PlaybackItem) error {
	keepOld, keepNew := lcsFlags(snapshot.Items, desired)

	kept := 0
	for _, k := range keepOld {
		if k {
			kept++
		}
	}
	toDelete := len(keepOld) - kept

	if kept == 0 && toDelete > 0 {
		if err := s.ops.DeleteAll(ctx); err != nil {
			return fmt.Errorf("openhome: delete all: %w", err)
		}
	} else if err := s.deleteMarked(ctx, snapshot.RemoteIDs, keepOld); err != nil {
		return err
	}

	remaining := make([]uint32, 0, kept)
	if kept > 0 {
		for i, id := range snapshot.RemoteIDs {
			if keepOld[i] {
				remaining = append(remaining, id)
			}
		}
	}

	idx := 0
	previous := headID
	for i, item := range desired {
		if keepNew[i] {
			if idx >= len(remaining) {
				return fmt.Errorf("openhome: reconciliation bookkeeping underflow")
			}
			previous = remaining[idx]
			idx++
			continue
		}
		newID, err := s.ops.Insert(ctx, previous, item.URI, buildMetadataXML(item))
		if err != nil {
			return fmt.Errorf("openhome: insert: %w", err)
		}
		previous = newID
	}

	if idx != len(remaining) {
		return fmt.Errorf("openhome: reconciliation bookkeeping overflow")
	}
	return nil
}
