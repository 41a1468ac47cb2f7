// Package correlate matches incoming safety alerts to visible streams and
// converts an alert's wall-clock time into a playback seek on that stream's
// timeline, retrying across pagination and player-readiness boundaries.
package correlate

import (
	"log/slog"
	"sync"
	"time"

	"stream-sentinel/internal/alert"
	"stream-sentinel/internal/platform/metrics"
	"stream-sentinel/internal/registry"
	"stream-sentinel/internal/timeline"
)

// DefaultLookbackPad is subtracted (seconds) from every seek so the operator
// sees the lead-up to the alert, not just the trigger frame.
const DefaultLookbackPad = 5.0

// Selection is a request to jump to an alert's moment. At most one is
// active; an identical RequestedAt never reseeks once resolved.
type Selection struct {
	AlertID     string
	RequestedAt int64
}

// Resolution is the outcome of one resolve attempt. Success false with a
// non-empty StreamID means the target is known but not ready (wrong page,
// player not mounted); the caller should re-invoke when new information
// arrives.
type Resolution struct {
	Success  bool
	StreamID registry.StreamID
}

// Player is the playback handle of a mounted stream.
type Player interface {
	Seek(position float64)
	Play()
}

// Deck is the dashboard surface the correlator reads and drives: the
// candidate stream list, the current page, and the per-stream player and
// timeline of whatever is mounted.
type Deck interface {
	Streams() []registry.Stream
	CurrentPage() int
	PageOf(id registry.StreamID) (int, bool)
	SetPage(page int)
	Player(id registry.StreamID) (Player, bool)
	Timeline(id registry.StreamID) (timeline.State, bool)
	PlayerState(id registry.StreamID) (timeline.PlayerState, bool)
}

// Config tunes the correlator. Zero values select the defaults.
type Config struct {
	LookbackPad float64
}

// Correlator resolves Selections against a Deck. Resolution misses are the
// contract, not errors: the Selection simply stays pending for the next
// Resolve call.
type Correlator struct {
	deck    Deck
	alerts  *alert.Buffer
	pad     float64
	log     *slog.Logger
	metrics *metrics.Metrics

	mu           sync.Mutex
	pending      *Selection
	lastResolved *Selection
	lastStreamID registry.StreamID
}

// New returns a correlator over deck, reading alerts from alerts.
// Metrics may be nil (e.g. in tests).
func New(deck Deck, alerts *alert.Buffer, cfg Config, log *slog.Logger, m *metrics.Metrics) *Correlator {
	pad := cfg.LookbackPad
	if pad <= 0 {
		pad = DefaultLookbackPad
	}
	return &Correlator{deck: deck, alerts: alerts, pad: pad, log: log, metrics: m}
}

// Select makes sel the active selection and attempts to resolve it.
// Re-selecting an already-resolved selection is idempotent: it reports
// success without issuing another seek.
func (c *Correlator) Select(sel Selection, now time.Time) Resolution {
	c.mu.Lock()
	if c.lastResolved != nil && *c.lastResolved == sel {
		res := Resolution{Success: true, StreamID: c.lastStreamID}
		c.mu.Unlock()
		return res
	}
	c.pending = &sel
	c.mu.Unlock()

	return c.Resolve(now)
}

// Pending returns the active unresolved selection, if any.
func (c *Correlator) Pending() (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Selection{}, false
	}
	return *c.pending, true
}

// ClearAlert drops the active selection if it references alertID. Called
// when an alert is evicted from the bounded buffer.
func (c *Correlator) ClearAlert(alertID string) {
	c.mu.Lock()
	if c.pending != nil && c.pending.AlertID == alertID {
		c.pending = nil
	}
	c.mu.Unlock()
}

// Clear drops the active selection (the operator closed it).
func (c *Correlator) Clear() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// Resolve attempts to resolve the active selection at wall-clock now. Call
// it again whenever new information arrives for a still-pending selection:
// a page change, a newly mounted player, a metadata load.
func (c *Correlator) Resolve(now time.Time) Resolution {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return Resolution{}
	}
	sel := *c.pending
	c.mu.Unlock()

	a, ok := c.alerts.Get(sel.AlertID)
	if !ok {
		// The alert was evicted while pending; the selection dies with it.
		c.ClearAlert(sel.AlertID)
		return Resolution{}
	}

	streamID, ok := MatchStream(a, c.deck.Streams())
	if !ok {
		c.log.Debug("no stream matched alert", slog.String("alert_id", a.ID), slog.String("source", a.Source))
		return Resolution{}
	}

	// Visibility: the target must be on the displayed page before its
	// player can exist. Switch and wait for the mount to re-invoke us.
	if page, ok := c.deck.PageOf(streamID); ok && page != c.deck.CurrentPage() {
		c.deck.SetPage(page)
		return Resolution{StreamID: streamID}
	}

	player, ok := c.deck.Player(streamID)
	if !ok {
		return Resolution{StreamID: streamID}
	}
	ts, ok := c.deck.Timeline(streamID)
	if !ok {
		return Resolution{StreamID: streamID}
	}

	target, ok := c.seekTarget(a, streamID, ts, now)
	if !ok {
		return Resolution{StreamID: streamID}
	}

	player.Seek(target)
	player.Play()

	c.mu.Lock()
	c.pending = nil
	c.lastResolved = &sel
	c.lastStreamID = streamID
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncSeeksResolved()
	}
	c.log.Info("alert selection resolved",
		slog.String("alert_id", a.ID),
		slog.String("stream_id", string(streamID)),
		slog.Float64("seek", target))
	return Resolution{Success: true, StreamID: streamID}
}

// seekTarget converts the alert's wall-clock time into a playback position
// on the stream's timeline.
func (c *Correlator) seekTarget(a alert.Alert, streamID registry.StreamID, ts timeline.State, now time.Time) (float64, bool) {
	duration, ok := c.usableDuration(streamID, ts)
	if !ok {
		return 0, false
	}

	var start float64
	if ts.StaticOrigin {
		if !ts.HasOrigin {
			return 0, false
		}
		start = ts.OriginTimestamp
	} else {
		start = float64(now.UnixMilli()) - duration*1000
	}

	rel := (float64(a.Time) - start) / 1000
	rel = clamp(rel, 0, duration)

	padded := rel - c.pad
	if padded < 0 {
		padded = 0
	}
	return ts.SeekableStart + padded, true
}

// usableDuration picks the first available duration: the timeline's, the
// seekable-range width, or the raw player-reported duration.
func (c *Correlator) usableDuration(streamID registry.StreamID, ts timeline.State) (float64, bool) {
	if ts.HasDuration && ts.Duration > 0 {
		return ts.Duration, true
	}
	if ts.HasSeekable && ts.SeekableEnd > ts.SeekableStart {
		return ts.SeekableEnd - ts.SeekableStart, true
	}
	if ps, ok := c.deck.PlayerState(streamID); ok && ps.Duration > 0 {
		return ps.Duration, true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
