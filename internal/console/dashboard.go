// Package console models the operator dashboard: streams laid out in fixed
// pages, a mount lifecycle per visible stream (timeline tracker plus, for
// segmented live streams, an adaptive client), and the glue that feeds
// alert selections into the correlator.
package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"stream-sentinel/internal/adaptive"
	"stream-sentinel/internal/alert"
	"stream-sentinel/internal/correlate"
	"stream-sentinel/internal/registry"
	"stream-sentinel/internal/timeline"
)

// DefaultPageSize is how many streams one dashboard page shows.
const DefaultPageSize = 4

// PipelineFactory builds the media pipeline for a mounted segmented stream.
// Nil disables adaptive clients (headless operation).
type PipelineFactory func(st registry.Stream) adaptive.Pipeline

// Config tunes the dashboard. Zero values select the defaults.
type Config struct {
	PageSize        int
	Timeline        timeline.Config
	Adaptive        adaptive.Config
	LiveEdgeOffset  float64
	AutoSelectLevel alert.Level // alerts at or above this level auto-select; empty disables
}

// mount is the per-visible-stream state. It exists only while its stream is
// on the displayed page; pagination or an id change destroys and recreates
// it, which is what resets the tracker's pinned origin.
type mount struct {
	stream       registry.Stream
	tracker      *timeline.Tracker
	client       *adaptive.Client
	player       correlate.Player
	lastPS       timeline.PlayerState
	hasPS        bool
	autoEdgeDone bool
}

// Dashboard is the operator's view of all registered streams. It implements
// correlate.Deck.
type Dashboard struct {
	repo    *registry.Repository
	cfg     Config
	factory PipelineFactory
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	page   int
	mounts map[registry.StreamID]*mount

	correlator *correlate.Correlator
}

// NewDashboard returns a dashboard over repo. factory may be nil.
func NewDashboard(repo *registry.Repository, factory PipelineFactory, cfg Config, log *slog.Logger) *Dashboard {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.LiveEdgeOffset <= 0 {
		cfg.LiveEdgeOffset = adaptive.DefaultLiveEdgeOffset
	}
	return &Dashboard{
		repo:    repo,
		cfg:     cfg,
		factory: factory,
		log:     log,
		now:     time.Now,
		mounts:  make(map[registry.StreamID]*mount),
	}
}

// SetCorrelator wires the correlator that pending selections are retried
// against on mount and metadata events. Call once before use.
func (d *Dashboard) SetCorrelator(c *correlate.Correlator) {
	d.correlator = c
}

// Streams implements correlate.Deck.
func (d *Dashboard) Streams() []registry.Stream {
	streams, err := d.repo.List()
	if err != nil {
		d.log.Error("stream list failed", slog.String("error", err.Error()))
		return nil
	}
	return streams
}

// CurrentPage implements correlate.Deck.
func (d *Dashboard) CurrentPage() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page
}

// PageOf implements correlate.Deck: which page the stream lives on.
func (d *Dashboard) PageOf(id registry.StreamID) (int, bool) {
	for i, st := range d.Streams() {
		if st.ID == id {
			return i / d.cfg.PageSize, true
		}
	}
	return 0, false
}

// PageCount returns how many pages the current stream list spans.
func (d *Dashboard) PageCount() int {
	n := len(d.Streams())
	if n == 0 {
		return 1
	}
	return (n + d.cfg.PageSize - 1) / d.cfg.PageSize
}

// SetPage implements correlate.Deck: tears down every current mount and
// mounts the streams of the requested page, then retries any pending
// selection now that new players can exist.
func (d *Dashboard) SetPage(page int) {
	streams := d.Streams()

	d.mu.Lock()
	for id, m := range d.mounts {
		d.unmountLocked(id, m)
	}
	d.page = page

	start := page * d.cfg.PageSize
	for i := start; i < start+d.cfg.PageSize && i < len(streams); i++ {
		d.mountLocked(streams[i])
	}
	d.mu.Unlock()

	if d.correlator != nil {
		d.correlator.Resolve(d.now())
	}
}

// mountLocked creates the mount for st. Caller holds d.mu.
func (d *Dashboard) mountLocked(st registry.Stream) {
	staticOrigin := st.ID != registry.WebcamID && st.Playlist == ""
	m := &mount{
		stream:  st,
		tracker: timeline.NewTracker(staticOrigin, d.cfg.Timeline),
	}

	if st.Format == registry.FormatSegmented && d.factory != nil {
		pipeline := d.factory(st)
		m.client = adaptive.NewClient(st.Playlist, st.PlaylistVersion, pipeline, d.cfg.Adaptive, d.log)
		m.player = pipelinePlayer{pipeline}
		go m.client.Attach(context.Background())
	}

	d.mounts[st.ID] = m
	d.log.Debug("stream mounted", slog.String("stream_id", string(st.ID)))
}

// unmountLocked releases a mount: the adaptive client (and its pending
// retry timer) must be gone before another client can exist for this id.
// Caller holds d.mu.
func (d *Dashboard) unmountLocked(id registry.StreamID, m *mount) {
	if m.client != nil {
		m.client.Close()
	}
	delete(d.mounts, id)
	d.log.Debug("stream unmounted", slog.String("stream_id", string(id)))
}

// Player implements correlate.Deck.
func (d *Dashboard) Player(id registry.StreamID) (correlate.Player, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mounts[id]
	if !ok || m.player == nil {
		return nil, false
	}
	return m.player, true
}

// Timeline implements correlate.Deck.
func (d *Dashboard) Timeline(id registry.StreamID) (timeline.State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mounts[id]
	if !ok {
		return timeline.State{}, false
	}
	return m.tracker.State()
}

// PlayerState implements correlate.Deck: the last raw player report.
func (d *Dashboard) PlayerState(id registry.StreamID) (timeline.PlayerState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mounts[id]
	if !ok || !m.hasPS {
		return timeline.PlayerState{}, false
	}
	return m.lastPS, true
}

// AttachPlayer registers the playback handle for a mounted stream (a file
// stream's player; segmented mounts get theirs from the pipeline factory)
// and retries any pending selection.
func (d *Dashboard) AttachPlayer(id registry.StreamID, p correlate.Player) {
	d.mu.Lock()
	m, ok := d.mounts[id]
	if ok {
		m.player = p
	}
	d.mu.Unlock()

	if ok && d.correlator != nil {
		d.correlator.Resolve(d.now())
	}
}

// ReportPlayerState folds one raw player report into the stream's timeline.
// On the first metadata load of a static-origin mount the player is sent to
// the end of its bounded loop; any timeline change retries the pending
// selection.
func (d *Dashboard) ReportPlayerState(id registry.StreamID, ps timeline.PlayerState, now time.Time) {
	d.mu.Lock()
	m, ok := d.mounts[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	m.lastPS = ps
	m.hasPS = true
	state, changed := m.tracker.Update(ps, now)

	var seekToEnd correlate.Player
	if state.StaticOrigin && state.HasDuration && !m.autoEdgeDone && m.player != nil {
		m.autoEdgeDone = true
		seekToEnd = m.player
	}
	d.mu.Unlock()

	if seekToEnd != nil {
		seekToEnd.Seek(adaptive.SeekTarget(ps, d.cfg.LiveEdgeOffset))
		seekToEnd.Play()
	}
	if changed && d.correlator != nil {
		d.correlator.Resolve(now)
	}
}

// GoLive rejoins the live edge of a mounted segmented stream.
func (d *Dashboard) GoLive(id registry.StreamID) {
	d.mu.Lock()
	m, ok := d.mounts[id]
	var (
		client *adaptive.Client
		ps     timeline.PlayerState
	)
	if ok && m.client != nil {
		client = m.client
		ps = m.lastPS
	}
	d.mu.Unlock()

	if client != nil {
		client.GoLive(ps)
	}
}

// AdaptiveClient returns the adaptive client of a mounted stream, if any.
func (d *Dashboard) AdaptiveClient(id registry.StreamID) (*adaptive.Client, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mounts[id]
	if !ok || m.client == nil {
		return nil, false
	}
	return m.client, true
}

// SelectAlert requests a jump to the given alert's moment.
func (d *Dashboard) SelectAlert(alertID string, now time.Time) correlate.Resolution {
	if d.correlator == nil {
		return correlate.Resolution{}
	}
	return d.correlator.Select(correlate.Selection{
		AlertID:     alertID,
		RequestedAt: now.UnixMilli(),
	}, now)
}

// HandleAlert is wired as the alert channel's live-event callback: alerts
// at or above the configured level auto-select themselves.
func (d *Dashboard) HandleAlert(a alert.Alert) {
	if d.cfg.AutoSelectLevel == "" {
		return
	}
	if a.Level.Rank() < d.cfg.AutoSelectLevel.Rank() {
		return
	}
	d.SelectAlert(a.ID, d.now())
}

// Close unmounts everything.
func (d *Dashboard) Close() {
	d.mu.Lock()
	for id, m := range d.mounts {
		d.unmountLocked(id, m)
	}
	d.mu.Unlock()
}

// pipelinePlayer adapts an adaptive pipeline to the correlate.Player shape.
type pipelinePlayer struct {
	pipeline adaptive.Pipeline
}

func (p pipelinePlayer) Seek(position float64) { p.pipeline.Seek(position) }
func (p pipelinePlayer) Play()                 { p.pipeline.Play() }
