package alert

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the normalized severity of an alert.
type Level string

const (
	LevelNone   Level = "NONE"
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// ParseLevel maps a producer level string to a Level. Producer-native danger
// levels (NORMAL, DANGEROUS, CRITICAL) are translated; anything absent or
// unrecognized maps to MEDIUM as the safe default.
func ParseLevel(raw string) Level {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NONE", "NORMAL":
		return LevelNone
	case "LOW":
		return LevelLow
	case "MEDIUM", "DANGEROUS":
		return LevelMedium
	case "HIGH", "CRITICAL":
		return LevelHigh
	default:
		return LevelMedium
	}
}

// Rank orders levels for threshold comparisons (NONE lowest).
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	default:
		return 0
	}
}

// Alert is a normalized safety alert. Time is wall-clock milliseconds since
// the Unix epoch, matching the timeline math downstream.
type Alert struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Level    Level  `json:"level"`
	RawLevel string `json:"rawLevel,omitempty"`
	Location string `json:"location,omitempty"`
	Source   string `json:"source,omitempty"`
	URL      string `json:"url,omitempty"`
	Time     int64  `json:"time"`
}

// Record is the wire shape of an incoming alert before normalization. It
// accepts both producer versions: the plain alert record and the
// priority_alert envelope fields (alertName/reason aliases for name).
type Record struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	AlertName string `json:"alertName,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Level     string `json:"level,omitempty"`
	RawLevel  string `json:"rawLevel,omitempty"`
	Location  string `json:"location,omitempty"`
	Source    string `json:"source,omitempty"`
	URL       string `json:"url,omitempty"`
	Time      int64  `json:"time,omitempty"`
}

// Normalize converts a raw record into an Alert: missing ids get a fresh
// uuid so the alert is never silently dropped, a missing time defaults to
// the receipt time, and the level string is mapped through ParseLevel.
func Normalize(rec Record, receivedAt time.Time) Alert {
	a := Alert{
		ID:       rec.ID,
		Name:     rec.Name,
		Level:    ParseLevel(rec.Level),
		RawLevel: rec.RawLevel,
		Location: rec.Location,
		Source:   rec.Source,
		URL:      rec.URL,
		Time:     rec.Time,
	}
	if a.Name == "" {
		a.Name = rec.AlertName
	}
	if a.Name == "" {
		a.Name = rec.Reason
	}
	if a.RawLevel == "" {
		a.RawLevel = rec.Level
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Time == 0 {
		a.Time = receivedAt.UnixMilli()
	}
	return a
}

// Envelope is a message on the alert push channel. Exactly one of the
// payload forms is populated depending on Type: "history" carries Alerts,
// "alert" carries Alert, and "priority_alert" carries the record fields
// inline (older producer versions).
type Envelope struct {
	Type   string   `json:"type"`
	Alerts []Record `json:"alerts,omitempty"`
	Alert  *Record  `json:"alert,omitempty"`

	// Inline priority_alert fields.
	ID        string `json:"id,omitempty"`
	AlertName string `json:"alertName,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Level     string `json:"level,omitempty"`
	RawLevel  string `json:"rawLevel,omitempty"`
	Location  string `json:"location,omitempty"`
	Source    string `json:"source,omitempty"`
	URL       string `json:"url,omitempty"`
	Time      int64  `json:"time,omitempty"`
}

const (
	TypeHistory       = "history"
	TypeAlert         = "alert"
	TypePriorityAlert = "priority_alert"
)

// record extracts the single alert record from an "alert" or
// "priority_alert" envelope.
func (e *Envelope) record() (Record, bool) {
	switch e.Type {
	case TypeAlert:
		if e.Alert == nil {
			return Record{}, false
		}
		return *e.Alert, true
	case TypePriorityAlert:
		return Record{
			ID:        e.ID,
			AlertName: e.AlertName,
			Reason:    e.Reason,
			Level:     e.Level,
			RawLevel:  e.RawLevel,
			Location:  e.Location,
			Source:    e.Source,
			URL:       e.URL,
			Time:      e.Time,
		}, true
	default:
		return Record{}, false
	}
}
