package adaptive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// PlaylistSegment is one media segment entry in a playlist.
type PlaylistSegment struct {
	Duration float64
	URI      string
}

// Playlist is a parsed media playlist. Ended reports #EXT-X-ENDLIST: a
// playlist without it is live and must be refreshed.
type Playlist struct {
	TargetDuration int
	MediaSequence  int64
	Segments       []PlaylistSegment
	Ended          bool
}

// TotalDuration sums the segment durations in seconds.
func (p *Playlist) TotalDuration() float64 {
	total := 0.0
	for _, seg := range p.Segments {
		total += seg.Duration
	}
	return total
}

// LiveStartPosition is where segment loading should begin to sit near the
// live edge: three target durations back from the end of the playlist,
// never before its start.
func (p *Playlist) LiveStartPosition() float64 {
	hold := float64(3 * p.TargetDuration)
	pos := p.TotalDuration() - hold
	if pos < 0 {
		return 0
	}
	return pos
}

// ParsePlaylist reads an HLS media playlist. Lines it does not recognize
// are skipped; a missing #EXTM3U header is an error.
func ParsePlaylist(r io.Reader) (*Playlist, error) {
	scanner := bufio.NewScanner(r)
	pl := &Playlist{}

	first := true
	pendingDuration := -1.0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			if line != "#EXTM3U" {
				return nil, fmt.Errorf("not an m3u8 playlist: first line %q", line)
			}
			first = false
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")); err == nil {
				pl.TargetDuration = n
			}
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			if n, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64); err == nil {
				pl.MediaSequence = n
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.Index(value, ","); i >= 0 {
				value = value[:i]
			}
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				pendingDuration = d
			}
		case line == "#EXT-X-ENDLIST":
			pl.Ended = true
		case strings.HasPrefix(line, "#"):
			// Unrecognized tag.
		default:
			if pendingDuration >= 0 {
				pl.Segments = append(pl.Segments, PlaylistSegment{Duration: pendingDuration, URI: line})
				pendingDuration = -1
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if first {
		return nil, fmt.Errorf("empty playlist")
	}
	return pl, nil
}

// FetchPlaylist downloads and parses the playlist at url.
func FetchPlaylist(ctx context.Context, client *http.Client, url string) (*Playlist, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("playlist fetch returned status %d", resp.StatusCode)
	}
	return ParsePlaylist(resp.Body)
}

// versionedURL appends a cache-busting version token to a playlist URL.
func versionedURL(url string, version int) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sv=%d", url, sep, version)
}
