package alert

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// ReplayRecord is one entry of a batch/offline alert script: the record to
// dispatch plus an offset, in seconds, from replay start.
type ReplayRecord struct {
	TimestampSeconds float64 `json:"timestampSeconds"`
	Record
}

// Replayer dispatches a static list of alert records on a schedule, used
// for demos and local testing without a live producer.
type Replayer struct {
	records []ReplayRecord
	sink    func(Alert)
	now     func() time.Time

	mu      sync.Mutex
	timers  []*time.Timer
	started bool
}

// NewReplayer returns a replayer that feeds each record to sink at its
// scheduled offset once Start is called.
func NewReplayer(records []ReplayRecord, sink func(Alert)) *Replayer {
	return &Replayer{records: records, sink: sink, now: time.Now}
}

// LoadReplayFile reads a JSON array of replay records from path.
func LoadReplayFile(path string) ([]ReplayRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []ReplayRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Start schedules one delayed dispatch per record. Records with a
// non-positive offset fire immediately. Start is idempotent.
func (r *Replayer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	for _, rec := range r.records {
		rec := rec
		delay := time.Duration(rec.TimestampSeconds * float64(time.Second))
		if delay < 0 {
			delay = 0
		}
		r.timers = append(r.timers, time.AfterFunc(delay, func() {
			r.sink(Normalize(rec.Record, r.now()))
		}))
	}
}

// Stop cancels every pending dispatch.
func (r *Replayer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
}
