// Package openhome implements the OpenHome Queue Synchronizer (spec §4.8):
// reconciles a desired playlist against a renderer's live OpenHome
// playlist using a pivot-preserving LCS strategy, issuing the minimum
// renderer operations needed.
package openhome

// PlaybackItem is one entry the synchronizer can push to a renderer.
// Two items "match" (spec §4.8) when their URI is equal or their DIDLID
// is equal, tolerating URI-session-token drift between refreshes.
type PlaybackItem struct {
	URI          string
	DIDLID       string
	ProtocolInfo string
	Metadata     *Metadata
}

// Metadata is the subset of track metadata the DIDL-Lite builder emits.
type Metadata struct {
	Title        string
	Artist       string
	Album        string
	Genre        string
	AlbumArtURI  string
	Date         string
	TrackNumber  string
}

func itemsMatch(a, b PlaybackItem) bool {
	return a.URI == b.URI || a.DIDLID == b.DIDLID
}

// QueueSnapshot is a fresh read of a renderer's live playlist (spec §3's
// QueueState), with RemoteIDs carrying the renderer-assigned id for the
// item at the same index.
type QueueSnapshot struct {
	Items         []PlaybackItem
	RemoteIDs     []uint32
	CurrentIndex  *int // nil when nothing is currently playing
}
