package correlate

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"stream-sentinel/internal/alert"
	"stream-sentinel/internal/registry"
	"stream-sentinel/internal/timeline"
)

type fakePlayer struct {
	seeks []float64
	plays int
}

func (p *fakePlayer) Seek(pos float64) { p.seeks = append(p.seeks, pos) }
func (p *fakePlayer) Play()            { p.plays++ }

// fakeDeck is a scriptable dashboard surface: four streams per page, with
// players and timelines only for streams the test marks as mounted.
type fakeDeck struct {
	streams   []registry.Stream
	page      int
	pageSize  int
	players   map[registry.StreamID]*fakePlayer
	timelines map[registry.StreamID]timeline.State
	states    map[registry.StreamID]timeline.PlayerState
	setPages  []int
}

func newFakeDeck(streams ...registry.Stream) *fakeDeck {
	return &fakeDeck{
		streams:   streams,
		pageSize:  4,
		players:   make(map[registry.StreamID]*fakePlayer),
		timelines: make(map[registry.StreamID]timeline.State),
		states:    make(map[registry.StreamID]timeline.PlayerState),
	}
}

func (d *fakeDeck) Streams() []registry.Stream { return d.streams }
func (d *fakeDeck) CurrentPage() int           { return d.page }

func (d *fakeDeck) PageOf(id registry.StreamID) (int, bool) {
	for i, st := range d.streams {
		if st.ID == id {
			return i / d.pageSize, true
		}
	}
	return 0, false
}

func (d *fakeDeck) SetPage(page int) {
	d.page = page
	d.setPages = append(d.setPages, page)
}

func (d *fakeDeck) Player(id registry.StreamID) (Player, bool) {
	p, ok := d.players[id]
	return p, ok
}

func (d *fakeDeck) Timeline(id registry.StreamID) (timeline.State, bool) {
	ts, ok := d.timelines[id]
	return ts, ok
}

func (d *fakeDeck) PlayerState(id registry.StreamID) (timeline.PlayerState, bool) {
	ps, ok := d.states[id]
	return ps, ok
}

// mount gives a stream a player and a static 120s timeline whose origin is
// originMs.
func (d *fakeDeck) mount(id registry.StreamID, originMs float64, duration float64) *fakePlayer {
	p := &fakePlayer{}
	d.players[id] = p
	d.timelines[id] = timeline.State{
		Duration:        duration,
		HasDuration:     true,
		OriginTimestamp: originMs,
		HasOrigin:       true,
		StaticOrigin:    true,
	}
	return p
}

func correlatorLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newCorrelator(deck Deck, buf *alert.Buffer) *Correlator {
	return New(deck, buf, Config{}, correlatorLogger(), nil)
}

func TestSelect_seeksWithLookbackPad(t *testing.T) {
	origin := float64(time.UnixMilli(1700000000000).UnixMilli())
	deck := newFakeDeck(registry.Stream{ID: "cam-1", URL: "http://origin/cam-1.mp4"})
	player := deck.mount("cam-1", origin, 120)

	buf := alert.NewBuffer(50)
	// Alert fired 30s into the recording.
	buf.Put(alert.Alert{ID: "a1", Source: "cam-1", Time: int64(origin) + 30000})

	c := newCorrelator(deck, buf)
	res := c.Select(Selection{AlertID: "a1", RequestedAt: 1}, time.Now())

	if !res.Success || res.StreamID != "cam-1" {
		t.Fatalf("expected success on cam-1, got %+v", res)
	}
	// 30s minus the 5s lookback pad.
	if len(player.seeks) != 1 || player.seeks[0] != 25 {
		t.Errorf("expected seek to 25, got %v", player.seeks)
	}
	if player.plays != 1 {
		t.Errorf("expected playback started, got %d plays", player.plays)
	}
}

func TestSelect_earlyAlertClampsToZero(t *testing.T) {
	origin := float64(1700000000000)
	deck := newFakeDeck(registry.Stream{ID: "cam-1"})
	player := deck.mount("cam-1", origin, 120)

	buf := alert.NewBuffer(50)
	// Alert timestamped before the recording started.
	buf.Put(alert.Alert{ID: "a1", Source: "cam-1", Time: int64(origin) - 10000})

	c := newCorrelator(deck, buf)
	if res := c.Select(Selection{AlertID: "a1"}, time.Now()); !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(player.seeks) != 1 || player.seeks[0] != 0 {
		t.Errorf("expected clamp to 0, got %v", player.seeks)
	}
}

func TestSelect_liveTimelineAnchorsToNow(t *testing.T) {
	now := time.UnixMilli(1700000060000)
	deck := newFakeDeck(registry.Stream{ID: "cam-1"})
	player := &fakePlayer{}
	deck.players["cam-1"] = player
	deck.timelines["cam-1"] = timeline.State{
		Duration:    60,
		HasDuration: true,
		HasSeekable: true, SeekableStart: 100, SeekableEnd: 160,
	}

	buf := alert.NewBuffer(50)
	// 20s before now on a 60s sliding window.
	buf.Put(alert.Alert{ID: "a1", Source: "cam-1", Time: now.UnixMilli() - 20000})

	c := newCorrelator(deck, buf)
	if res := c.Select(Selection{AlertID: "a1"}, now); !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	// Window-relative 40s, minus the 5s pad, offset by seekable start 100.
	if len(player.seeks) != 1 || player.seeks[0] != 135 {
		t.Errorf("expected seek to 135, got %v", player.seeks)
	}
}

func TestSelect_switchesPageThenResolvesOnRetry(t *testing.T) {
	streams := make([]registry.Stream, 0, 6)
	for _, id := range []string{"s1", "s2", "s3", "s4", "cam-5", "s6"} {
		streams = append(streams, registry.Stream{ID: registry.StreamID(id)})
	}
	deck := newFakeDeck(streams...)

	buf := alert.NewBuffer(50)
	buf.Put(alert.Alert{ID: "a1", Source: "cam-5", Time: 1700000000000})

	c := newCorrelator(deck, buf)
	res := c.Select(Selection{AlertID: "a1"}, time.Now())

	if res.Success {
		t.Fatal("selection cannot succeed before the target page is mounted")
	}
	if res.StreamID != "cam-5" {
		t.Errorf("expected target stream reported, got %q", res.StreamID)
	}
	if deck.page != 1 {
		t.Fatalf("expected switch to page 1, got %d", deck.page)
	}
	if _, pending := c.Pending(); !pending {
		t.Fatal("selection must stay pending across the page switch")
	}

	// The mount completes; a later resolve lands the seek.
	player := deck.mount("cam-5", 1700000000000-30000, 120)
	if res := c.Resolve(time.Now()); !res.Success {
		t.Fatalf("expected success after mount, got %+v", res)
	}
	if len(player.seeks) != 1 {
		t.Errorf("expected one seek, got %v", player.seeks)
	}
}

func TestSelect_waitsForTimelineReadiness(t *testing.T) {
	deck := newFakeDeck(registry.Stream{ID: "cam-1"})
	player := &fakePlayer{}
	deck.players["cam-1"] = player // mounted, but no timeline yet

	buf := alert.NewBuffer(50)
	buf.Put(alert.Alert{ID: "a1", Source: "cam-1", Time: 1700000000000})

	c := newCorrelator(deck, buf)
	if res := c.Select(Selection{AlertID: "a1"}, time.Now()); res.Success {
		t.Fatal("cannot succeed before metadata is known")
	}
	if len(player.seeks) != 0 {
		t.Errorf("no seek may be issued early, got %v", player.seeks)
	}

	deck.timelines["cam-1"] = timeline.State{
		Duration: 120, HasDuration: true,
		OriginTimestamp: 1700000000000 - 60000, HasOrigin: true, StaticOrigin: true,
	}
	if res := c.Resolve(time.Now()); !res.Success {
		t.Fatalf("expected success once the timeline exists, got %+v", res)
	}
}

func TestSelect_reselectingResolvedIsIdempotent(t *testing.T) {
	origin := float64(1700000000000)
	deck := newFakeDeck(registry.Stream{ID: "cam-1"})
	player := deck.mount("cam-1", origin, 120)

	buf := alert.NewBuffer(50)
	buf.Put(alert.Alert{ID: "a1", Source: "cam-1", Time: int64(origin) + 30000})

	c := newCorrelator(deck, buf)
	sel := Selection{AlertID: "a1", RequestedAt: 7}
	if res := c.Select(sel, time.Now()); !res.Success {
		t.Fatalf("first select failed: %+v", res)
	}
	if res := c.Select(sel, time.Now()); !res.Success {
		t.Fatalf("re-select must report success: %+v", res)
	}
	if len(player.seeks) != 1 {
		t.Errorf("re-select must not reseek, got %v", player.seeks)
	}

	// A new RequestedAt is a fresh request and seeks again.
	if res := c.Select(Selection{AlertID: "a1", RequestedAt: 8}, time.Now()); !res.Success {
		t.Fatalf("fresh select failed: %+v", res)
	}
	if len(player.seeks) != 2 {
		t.Errorf("expected a second seek, got %v", player.seeks)
	}
}

func TestResolve_evictedAlertDropsSelection(t *testing.T) {
	deck := newFakeDeck(registry.Stream{ID: "cam-1"})
	buf := alert.NewBuffer(50)
	buf.Put(alert.Alert{ID: "a1", Source: "cam-1"})

	c := newCorrelator(deck, buf)
	c.Select(Selection{AlertID: "a1"}, time.Now()) // stays pending, nothing mounted

	buf.Clear()
	if res := c.Resolve(time.Now()); res.Success || res.StreamID != "" {
		t.Errorf("expected empty resolution for an evicted alert, got %+v", res)
	}
	if _, pending := c.Pending(); pending {
		t.Error("selection must die with its alert")
	}
}

func TestResolve_unmatchedAlertStaysPending(t *testing.T) {
	deck := newFakeDeck(registry.Stream{ID: "cam-1"})
	buf := alert.NewBuffer(50)
	buf.Put(alert.Alert{ID: "a1", Source: "thermal-west"})

	c := newCorrelator(deck, buf)
	if res := c.Select(Selection{AlertID: "a1"}, time.Now()); res.Success {
		t.Fatal("an unmatched alert cannot resolve")
	}
	if _, pending := c.Pending(); !pending {
		t.Error("unmatched selection must stay pending for a later stream list")
	}
}

func TestClearAlert_onlyDropsMatchingSelection(t *testing.T) {
	deck := newFakeDeck(registry.Stream{ID: "cam-1"})
	buf := alert.NewBuffer(50)
	buf.Put(alert.Alert{ID: "a1", Source: "nothing-matches"})

	c := newCorrelator(deck, buf)
	c.Select(Selection{AlertID: "a1"}, time.Now())

	c.ClearAlert("other")
	if _, pending := c.Pending(); !pending {
		t.Error("clearing an unrelated alert must not drop the selection")
	}
	c.ClearAlert("a1")
	if _, pending := c.Pending(); pending {
		t.Error("clearing the selected alert must drop the selection")
	}
}

func TestSeekTarget_fallsBackToPlayerDuration(t *testing.T) {
	now := time.UnixMilli(1700000120000)
	deck := newFakeDeck(registry.Stream{ID: "cam-1"})
	player := &fakePlayer{}
	deck.players["cam-1"] = player
	deck.timelines["cam-1"] = timeline.State{} // no derived duration yet
	deck.states["cam-1"] = timeline.PlayerState{Duration: 120}

	buf := alert.NewBuffer(50)
	buf.Put(alert.Alert{ID: "a1", Source: "cam-1", Time: now.UnixMilli() - 40000})

	c := newCorrelator(deck, buf)
	if res := c.Select(Selection{AlertID: "a1"}, now); !res.Success {
		t.Fatalf("expected success via raw duration fallback, got %+v", res)
	}
	// 80s into a 120s window, minus the 5s pad.
	if len(player.seeks) != 1 || player.seeks[0] != 75 {
		t.Errorf("expected seek to 75, got %v", player.seeks)
	}
}
