// Package timeline derives a stable, wall-clock-anchored timeline for one
// stream from a player's raw, drifting playback reports.
package timeline

import (
	"math"
	"time"
)

// DefaultLiveEdgeThreshold is how close (seconds) to the end of the window
// a position must be to count as "at the live edge".
const DefaultLiveEdgeThreshold = 1.5

// PlayerState is the raw state a player reports on metadata-load and
// position-update events. Duration may be NaN or +Inf for live sources;
// HasSeekable reports whether the seekable range fields are meaningful.
type PlayerState struct {
	Duration      float64
	Position      float64
	SeekableStart float64
	SeekableEnd   float64
	HasSeekable   bool
}

// State is the normalized timeline for one stream. OriginTimestamp maps
// video position 0 to wall-clock milliseconds since the Unix epoch.
//
// For static timelines the origin is pinned at the first metadata load and
// never recomputed while the stream stays mounted; for live timelines it is
// re-derived on every update as now minus the window duration, so the
// window slides with wall-clock time.
type State struct {
	Duration        float64
	HasDuration     bool
	CurrentTime     float64
	AtLiveEdge      bool
	OriginTimestamp float64
	HasOrigin       bool
	StaticOrigin    bool
	SeekableStart   float64
	SeekableEnd     float64
	HasSeekable     bool
}

// Config tunes the tracker. Zero values select the defaults.
type Config struct {
	LiveEdgeThreshold float64
}

// Tracker converts raw player reports into normalized timeline states for a
// single mounted stream. It is destroyed and recreated when the stream
// unmounts or its id changes, which is what resets a pinned static origin.
type Tracker struct {
	threshold    float64
	staticOrigin bool

	originPinned bool
	origin       float64

	last    State
	hasLast bool
}

// NewTracker returns a tracker for one mounted stream. staticOrigin is true
// for streams that are not the operator's own live feed and have no
// segmented-live playlist: their start instant is pinned once and position 0
// maps to a constant wall-clock time.
func NewTracker(staticOrigin bool, cfg Config) *Tracker {
	threshold := cfg.LiveEdgeThreshold
	if threshold <= 0 {
		threshold = DefaultLiveEdgeThreshold
	}
	return &Tracker{threshold: threshold, staticOrigin: staticOrigin}
}

// Update folds one raw player report observed at now into the timeline.
// changed is false when every derived field matches the previous state, so
// callers can skip redundant downstream work.
func (t *Tracker) Update(ps PlayerState, now time.Time) (s State, changed bool) {
	s = State{StaticOrigin: t.staticOrigin}

	if ps.HasSeekable {
		// The latest seekable range is the authoritative window.
		s.HasSeekable = true
		s.SeekableStart = ps.SeekableStart
		s.SeekableEnd = ps.SeekableEnd
		s.Duration = ps.SeekableEnd - ps.SeekableStart
		s.HasDuration = true
		s.CurrentTime = clamp(ps.Position-ps.SeekableStart, 0, s.Duration)
		s.AtLiveEdge = ps.SeekableEnd-ps.Position <= t.threshold
	} else {
		s.CurrentTime = ps.Position
		if isFiniteDuration(ps.Duration) {
			s.Duration = ps.Duration
			s.HasDuration = true
			s.AtLiveEdge = ps.Duration-ps.Position <= t.threshold
		}
	}

	nowMs := float64(now.UnixMilli())
	if t.staticOrigin {
		if !t.originPinned && s.HasDuration {
			// First metadata load pins position 0 to this instant so
			// later reports cannot drift the mapping.
			t.origin = nowMs
			t.originPinned = true
		}
		if t.originPinned {
			s.OriginTimestamp = t.origin
			s.HasOrigin = true
		}
	} else if s.HasDuration {
		s.OriginTimestamp = nowMs - s.Duration*1000
		s.HasOrigin = true
	}

	changed = !t.hasLast || s != t.last
	t.last = s
	t.hasLast = true
	return s, changed
}

// State returns the last derived state; ok is false before the first Update.
func (t *Tracker) State() (State, bool) {
	return t.last, t.hasLast
}

// StaticOrigin reports whether this tracker pins its origin.
func (t *Tracker) StaticOrigin() bool {
	return t.staticOrigin
}

func isFiniteDuration(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d > 0
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
