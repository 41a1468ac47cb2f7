package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createStreamsTable = `
CREATE TABLE IF NOT EXISTS streams (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	format TEXT NOT NULL,
	live INTEGER NOT NULL,
	playlist TEXT NOT NULL DEFAULT '',
	playlist_version INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_streams_url ON streams(url);`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the SQLite database at path and
// ensures the streams table exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(createStreamsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create streams table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetStream implements Store.GetStream.
func (s *SQLiteStore) GetStream(id StreamID) (Stream, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, url, format, live, playlist, playlist_version, created_at FROM streams WHERE id = ?`,
		string(id))
	st, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Stream{}, false, nil
	}
	if err != nil {
		return Stream{}, false, fmt.Errorf("get stream: %w", err)
	}
	return st, true, nil
}

// SetStream implements Store.SetStream.
func (s *SQLiteStore) SetStream(st Stream) error {
	_, err := s.db.Exec(
		`INSERT INTO streams (id, url, format, live, playlist, playlist_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 url = excluded.url, format = excluded.format, live = excluded.live,
		 playlist = excluded.playlist, playlist_version = excluded.playlist_version`,
		string(st.ID), st.URL, string(st.Format), boolToInt(st.Live),
		st.Playlist, st.PlaylistVersion, st.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("set stream: %w", err)
	}
	return nil
}

// FindByURL implements Store.FindByURL.
func (s *SQLiteStore) FindByURL(url string) (Stream, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, url, format, live, playlist, playlist_version, created_at FROM streams WHERE url = ? LIMIT 1`,
		url)
	st, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Stream{}, false, nil
	}
	if err != nil {
		return Stream{}, false, fmt.Errorf("find stream by url: %w", err)
	}
	return st, true, nil
}

// ListStreams implements Store.ListStreams, ordered by registration time.
func (s *SQLiteStore) ListStreams() ([]Stream, error) {
	rows, err := s.db.Query(
		`SELECT id, url, format, live, playlist, playlist_version, created_at FROM streams ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("list streams: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Reset implements Store.Reset.
func (s *SQLiteStore) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM streams`); err != nil {
		return fmt.Errorf("reset streams: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(r rowScanner) (Stream, error) {
	var (
		st        Stream
		id        string
		format    string
		live      int
		createdAt int64
	)
	if err := r.Scan(&id, &st.URL, &format, &live, &st.Playlist, &st.PlaylistVersion, &createdAt); err != nil {
		return Stream{}, err
	}
	st.ID = StreamID(id)
	st.Format = Format(format)
	st.Live = live != 0
	st.CreatedAt = time.UnixMilli(createdAt)
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
