package alert

import "sync"

// DefaultCapacity bounds the alert buffer: the alert list holds at most the
// 50 most recent alerts.
const DefaultCapacity = 50

// Buffer is a bounded, insertion-ordered collection of alerts. Re-inserting
// an existing id updates the alert in place without disturbing its position;
// inserting past capacity evicts the oldest entries first. The channel is
// the only writer; readers take snapshots.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	byID     map[string]Alert
	onEvict  func(Alert)
}

// NewBuffer returns an empty buffer bounded at capacity.
// If capacity <= 0, DefaultCapacity is used.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		byID:     make(map[string]Alert),
	}
}

// SetEvictFunc registers a callback invoked, outside the buffer lock, for
// every alert evicted by capacity or Clear. Used to drop selections that
// reference vanished alerts.
func (b *Buffer) SetEvictFunc(fn func(Alert)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEvict = fn
}

// Put inserts or updates a by id, then enforces the capacity bound.
// It returns the alerts evicted by this insert, oldest first.
func (b *Buffer) Put(a Alert) []Alert {
	b.mu.Lock()

	if _, exists := b.byID[a.ID]; exists {
		// Overwrite in place; insertion order is unchanged.
		b.byID[a.ID] = a
		b.mu.Unlock()
		return nil
	}

	b.order = append(b.order, a.ID)
	b.byID[a.ID] = a

	var evicted []Alert
	for len(b.order) > b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		evicted = append(evicted, b.byID[oldest])
		delete(b.byID, oldest)
	}
	fn := b.onEvict
	b.mu.Unlock()

	if fn != nil {
		for _, ev := range evicted {
			fn(ev)
		}
	}
	return evicted
}

// Get returns the alert stored under id.
func (b *Buffer) Get(id string) (Alert, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.byID[id]
	return a, ok
}

// Snapshot returns the buffered alerts in insertion order.
func (b *Buffer) Snapshot() []Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Alert, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	return out
}

// Len returns the number of buffered alerts.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Clear drops all buffered alerts, notifying the evict callback for each.
func (b *Buffer) Clear() {
	b.mu.Lock()
	dropped := make([]Alert, 0, len(b.order))
	for _, id := range b.order {
		dropped = append(dropped, b.byID[id])
	}
	b.order = nil
	b.byID = make(map[string]Alert)
	fn := b.onEvict
	b.mu.Unlock()

	if fn != nil {
		for _, a := range dropped {
			fn(a)
		}
	}
}
