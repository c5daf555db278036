package openhome

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const headID = uint32(0) // OPENHOME_PLAYLIST_HEAD_ID: insert-at-head sentinel

func escapeXML(s string) string {
	var buf bytes.Buffer
	// xml.EscapeText escapes the same five characters DIDL-Lite needs
	// (& < > ' "); reusing it avoids hand-rolling a second escaper for a
	// strict subset of what the stdlib XML writer already guarantees.
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// buildMetadataXML renders a DIDL-Lite fragment for item, suitable for the
// metadata argument of a RendererOps.Insert call (spec §4.8,
// §D "build_metadata_xml DIDL-Lite builder").
func buildMetadataXML(item PlaybackItem) string {
	title := "Unknown"
	var artist, album, genre, albumArt, date, trackNo string
	if item.Metadata != nil {
		if item.Metadata.Title != "" {
			title = item.Metadata.Title
		}
		artist = item.Metadata.Artist
		album = item.Metadata.Album
		genre = item.Metadata.Genre
		albumArt = item.Metadata.AlbumArtURI
		date = item.Metadata.Date
		trackNo = item.Metadata.TrackNumber
	}

	protocolInfo := item.ProtocolInfo
	if protocolInfo == "" {
		protocolInfo = "http-get:*:audio/*:*"
	}

	var b bytes.Buffer
	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">`)
	fmt.Fprintf(&b, `<item id="%s" parentID="-1" restricted="1">`, escapeXML(item.DIDLID))
	fmt.Fprintf(&b, `<dc:title>%s</dc:title>`, escapeXML(title))
	if artist != "" {
		fmt.Fprintf(&b, `<upnp:artist>%s</upnp:artist>`, escapeXML(artist))
		fmt.Fprintf(&b, `<dc:creator>%s</dc:creator>`, escapeXML(artist))
	}
	if album != "" {
		fmt.Fprintf(&b, `<upnp:album>%s</upnp:album>`, escapeXML(album))
	}
	if genre != "" {
		fmt.Fprintf(&b, `<upnp:genre>%s</upnp:genre>`, escapeXML(genre))
	}
	if albumArt != "" {
		fmt.Fprintf(&b, `<upnp:albumArtURI>%s</upnp:albumArtURI>`, escapeXML(albumArt))
	}
	if date != "" {
		fmt.Fprintf(&b, `<dc:date>%s</dc:date>`, escapeXML(date))
	}
	if trackNo != "" {
		fmt.Fprintf(&b, `<upnp:originalTrackNumber>%s</upnp:originalTrackNumber>`, escapeXML(trackNo))
	}
	fmt.Fprintf(&b, `<res protocolInfo="%s">%s</res>`, escapeXML(protocolInfo), escapeXML(item.URI))
	b.WriteString(`<upnp:class>object.item.audioItem.musicTrack</upnp:class></item></DIDL-Lite>`)
	return b.String()
}
