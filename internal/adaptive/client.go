// Package adaptive manages playback of a segmented live stream: playlist
// attach with cache busting, stall/error recovery with a coalesced fixed
// backoff, and explicit live-edge rejoin.
package adaptive

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"stream-sentinel/internal/timeline"
)

// DefaultRetryBackoff is the fixed wait before a playlist reload after a
// network or fatal error. Deliberately not exponential: one viewer, one
// stream, a storm is prevented by coalescing instead.
const DefaultRetryBackoff = 1500 * time.Millisecond

// DefaultLiveEdgeOffset is how far (seconds) before the seekable end a
// Go Live seek lands, leaving room to buffer.
const DefaultLiveEdgeOffset = 0.5

// State is the adaptive client's lifecycle state.
type State int

const (
	StateLoading State = iota
	StateReady
	StateBuffering
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateBuffering:
		return "buffering"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrorKind classifies a playback error for recovery purposes.
type ErrorKind int

const (
	// ErrorNetwork is a segment or playlist load failure; recovered by a
	// delayed playlist reload with a fresh cache token.
	ErrorNetwork ErrorKind = iota

	// ErrorDecode is a media pipeline failure; recovered in place without
	// reloading the playlist.
	ErrorDecode

	// ErrorFatal is anything else; the pipeline is torn down and rebuilt
	// through the same delayed reload path.
	ErrorFatal
)

// Pipeline is the decode/playback surface the client drives. Implementations
// wrap whatever actually renders media; the client only sequences them.
type Pipeline interface {
	// StartLoad begins segment loading from position (seconds).
	StartLoad(position float64)
	// RecoverDecode reinitializes the decode path in place.
	RecoverDecode()
	// Seek moves playback to position (seconds).
	Seek(position float64)
	// Play resumes playback.
	Play()
	// Destroy releases the pipeline. It must be safe to call twice.
	Destroy()
}

// Config tunes the client. Zero values select the defaults.
type Config struct {
	RetryBackoff   time.Duration
	LiveEdgeOffset float64
	HTTPClient     *http.Client
}

// Client manages one mounted segmented live stream. It must be Closed on
// unmount, stream-id change, or format change before another client is
// constructed for the same mount; Close cancels any pending retry so two
// live clients never coexist.
type Client struct {
	playlistURL string
	pipeline    Pipeline
	backoff     time.Duration
	edgeOffset  float64
	httpClient  *http.Client
	log         *slog.Logger

	mu           sync.Mutex
	state        State
	version      int
	playlist     *Playlist
	retryTimer   *time.Timer
	retryPending bool
}

// NewClient returns a client for the playlist at playlistURL driving
// pipeline. version seeds the cache-busting token (the stream's playlist
// version from the registry).
func NewClient(playlistURL string, version int, pipeline Pipeline, cfg Config, log *slog.Logger) *Client {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	edgeOffset := cfg.LiveEdgeOffset
	if edgeOffset <= 0 {
		edgeOffset = DefaultLiveEdgeOffset
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		playlistURL: playlistURL,
		pipeline:    pipeline,
		backoff:     backoff,
		edgeOffset:  edgeOffset,
		httpClient:  httpClient,
		log:         log,
		state:       StateLoading,
		version:     version,
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attach loads the playlist with a bumped cache token and starts segment
// loading near the live edge. A load failure goes through the network-error
// retry path rather than failing the mount.
func (c *Client) Attach(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateLoading
	c.version++
	url := versionedURL(c.playlistURL, c.version)
	c.mu.Unlock()

	pl, err := FetchPlaylist(ctx, c.httpClient, url)
	if err != nil {
		c.log.Warn("playlist load failed", slog.String("url", c.playlistURL), slog.String("error", err.Error()))
		c.OnError(ErrorNetwork)
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.playlist = pl
	start := 0.0
	if !pl.Ended {
		start = pl.LiveStartPosition()
	}
	c.mu.Unlock()

	c.pipeline.StartLoad(start)
}

// Playlist returns the most recently loaded playlist, if any.
func (c *Client) Playlist() (*Playlist, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playlist, c.playlist != nil
}

// OnStall marks playback as buffering (a transient state, not a failure).
func (c *Client) OnStall() {
	c.mu.Lock()
	if c.state == StateReady || c.state == StateLoading {
		c.state = StateBuffering
	}
	c.mu.Unlock()
}

// OnPlaying marks playback as running again.
func (c *Client) OnPlaying() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateReady
	}
	c.mu.Unlock()
}

// OnError applies the recovery policy for kind. Network and fatal errors
// schedule a single coalesced delayed reload; decode errors recover the
// pipeline in place.
func (c *Client) OnError(kind ErrorKind) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.mu.Unlock()

	switch kind {
	case ErrorDecode:
		c.pipeline.RecoverDecode()
		c.mu.Lock()
		if c.state != StateClosed {
			c.state = StateLoading
		}
		c.mu.Unlock()
	case ErrorFatal:
		c.pipeline.Destroy()
		c.scheduleRetry()
	default:
		c.scheduleRetry()
	}
}

// scheduleRetry arms the fixed-backoff reload unless one is already armed;
// back-to-back errors collapse into a single reload.
func (c *Client) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryPending || c.state == StateClosed {
		return
	}
	c.retryPending = true
	c.retryTimer = time.AfterFunc(c.backoff, func() {
		c.mu.Lock()
		c.retryPending = false
		closed := c.state == StateClosed
		c.mu.Unlock()
		if closed {
			return
		}
		c.Attach(context.Background())
	})
}

// RetryPending reports whether a delayed reload is armed.
func (c *Client) RetryPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryPending
}

// GoLive rejoins the live edge: restart segment loading at the live
// position, seek to just before the end of the seekable window (or to the
// reported duration when no window exists), and resume playback.
func (c *Client) GoLive(ps timeline.PlayerState) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	pl := c.playlist
	c.mu.Unlock()

	start := 0.0
	if pl != nil && !pl.Ended {
		start = pl.LiveStartPosition()
	}
	c.pipeline.StartLoad(start)
	c.pipeline.Seek(SeekTarget(ps, c.edgeOffset))
	c.pipeline.Play()
}

// SeekTarget computes the live-edge seek position for a player state:
// max(seekableEnd - offset, seekableStart), or the reported duration when
// there is no seekable range.
func SeekTarget(ps timeline.PlayerState, offset float64) float64 {
	if ps.HasSeekable {
		target := ps.SeekableEnd - offset
		if target < ps.SeekableStart {
			target = ps.SeekableStart
		}
		return target
	}
	return ps.Duration
}

// Close tears the client down: the pending retry (if any) is cancelled and
// the pipeline is released. The client is unusable afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryPending = false
	c.mu.Unlock()

	c.pipeline.Destroy()
}
