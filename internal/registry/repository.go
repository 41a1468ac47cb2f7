package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stream id is not registered.
var ErrNotFound = errors.New("stream not found")

// Repository is the concurrency-safe registry of streams. It guards a Store
// with an RWMutex; registration is the only mutator, so readers (relay,
// dashboard) always see a consistent snapshot.
type Repository struct {
	mu    sync.RWMutex
	store Store
	now   func() time.Time
}

// NewRepository constructs a registry backed by the given Store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

// Register creates a stream for url with a fresh unique id. Format, live,
// and playlist are derived from the URL: .m3u8 sources are segmented live
// streams, everything else a finite file.
func (r *Repository) Register(url string) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(url)
}

// RegisterIfAbsent registers url unless a stream with the same URL already
// exists; created reports whether a new stream was made.
func (r *Repository) RegisterIfAbsent(url string) (st Stream, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok, err := r.store.FindByURL(url)
	if err != nil {
		return Stream{}, false, err
	}
	if ok {
		return existing, false, nil
	}
	st, err = r.registerLocked(url)
	return st, err == nil, err
}

func (r *Repository) registerLocked(url string) (Stream, error) {
	format := FormatForURL(url)
	st := Stream{
		ID:        StreamID(uuid.NewString()),
		URL:       url,
		Format:    format,
		Live:      format == FormatSegmented,
		CreatedAt: r.now().UTC(),
	}
	if format == FormatSegmented {
		st.Playlist = url
	}
	if err := r.store.SetStream(st); err != nil {
		return Stream{}, err
	}
	return st, nil
}

// Get returns the stream registered under id, or ErrNotFound.
func (r *Repository) Get(id StreamID) (Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok, err := r.store.GetStream(id)
	if err != nil {
		return Stream{}, err
	}
	if !ok {
		return Stream{}, ErrNotFound
	}
	return st, nil
}

// List returns all registered streams in registration order.
func (r *Repository) List() ([]Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.ListStreams()
}

// Count returns the number of registered streams. Used for metrics.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	streams, err := r.store.ListStreams()
	if err != nil {
		return 0
	}
	return len(streams)
}

// BumpPlaylistVersion increments the stream's playlist version, forcing
// clients to reload the playlist with a fresh cache-busting token.
// Returns the new version, or ErrNotFound.
func (r *Repository) BumpPlaylistVersion(id StreamID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok, err := r.store.GetStream(id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	st.PlaylistVersion++
	if err := r.store.SetStream(st); err != nil {
		return 0, err
	}
	return st.PlaylistVersion, nil
}

// Reset removes all registered streams.
func (r *Repository) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Reset()
}
