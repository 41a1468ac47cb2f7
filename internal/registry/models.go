package registry

import (
	"strings"
	"time"
)

// StreamID uniquely identifies a registered stream.
type StreamID string

// Format describes how a stream's media is delivered.
type Format string

const (
	// FormatFile is a single finite media file served as one response.
	FormatFile Format = "file"

	// FormatSegmented is chunked delivery described by a refreshable playlist.
	FormatSegmented Format = "segmented"
)

// WebcamID is the reserved id for the operator's own live camera feed.
// It is not stored; the relay and dashboard treat it specially.
const WebcamID StreamID = "webcam"

// Stream is a registered video source. Identity is ID, assigned at
// registration. Fields other than PlaylistVersion are immutable once
// registered; PlaylistVersion is bumped to force playlist reloads.
type Stream struct {
	ID              StreamID  `json:"id"`
	URL             string    `json:"url"`
	Format          Format    `json:"format"`
	Live            bool      `json:"live"`
	Playlist        string    `json:"playlist,omitempty"`
	PlaylistVersion int       `json:"-"`
	CreatedAt       time.Time `json:"-"`
}

// FormatForURL classifies a source URL: playlist URLs (.m3u8) are segmented,
// everything else is treated as a single file.
func FormatForURL(url string) Format {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if strings.HasSuffix(strings.ToLower(trimmed), ".m3u8") {
		return FormatSegmented
	}
	return FormatFile
}
