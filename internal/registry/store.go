package registry

import "sort"

// Store is the persistence abstraction for registered streams.
// Implementations can be in-memory or backed by a database; the Repository
// uses Store for all reads and writes and adds locking on top, so Store
// implementations do not need to be concurrency-safe themselves.
type Store interface {
	GetStream(id StreamID) (Stream, bool, error)
	SetStream(s Stream) error
	FindByURL(url string) (Stream, bool, error)
	ListStreams() ([]Stream, error)
	Reset() error
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	streams map[StreamID]Stream
}

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[StreamID]Stream),
	}
}

// GetStream implements Store.GetStream.
func (s *MemoryStore) GetStream(id StreamID) (Stream, bool, error) {
	st, ok := s.streams[id]
	return st, ok, nil
}

// SetStream implements Store.SetStream.
func (s *MemoryStore) SetStream(st Stream) error {
	s.streams[st.ID] = st
	return nil
}

// FindByURL implements Store.FindByURL.
func (s *MemoryStore) FindByURL(url string) (Stream, bool, error) {
	for _, st := range s.streams {
		if st.URL == url {
			return st, true, nil
		}
	}
	return Stream{}, false, nil
}

// ListStreams implements Store.ListStreams, ordered by registration time.
func (s *MemoryStore) ListStreams() ([]Stream, error) {
	out := make([]Stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Reset implements Store.Reset.
func (s *MemoryStore) Reset() error {
	s.streams = make(map[StreamID]Stream)
	return nil
}
