package registry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestHandler(t *testing.T, videosDir string) (*Handler, *Repository) {
	t.Helper()
	repo := NewRepository(NewMemoryStore())
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandler(repo, videosDir, log, nil), repo
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/streams", func(r chi.Router) {
		r.Get("/", h.ListStreams)
		r.Post("/", h.CreateStream)
		r.Post("/scan", h.ScanVideos)
		r.Get("/{stream_id}", h.GetStream)
	})
	return r
}

func TestHandler_CreateStream(t *testing.T) {
	h, _ := newTestHandler(t, t.TempDir())
	r := newTestRouter(h)

	b, _ := json.Marshal(map[string]string{"url": "http://origin/a.mp4"})
	req := httptest.NewRequest(http.MethodPost, "/api/streams/", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var st Stream
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if st.ID == "" || st.URL != "http://origin/a.mp4" {
		t.Errorf("unexpected stream in response: %+v", st)
	}
}

func TestHandler_CreateStream_missingURL(t *testing.T) {
	h, _ := newTestHandler(t, t.TempDir())
	r := newTestRouter(h)

	b, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/streams/", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_CreateStream_badBody(t *testing.T) {
	h, _ := newTestHandler(t, t.TempDir())
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/streams/", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_GetStream(t *testing.T) {
	h, repo := newTestHandler(t, t.TempDir())
	r := newTestRouter(h)
	st, _ := repo.Register("http://origin/a.mp4")

	req := httptest.NewRequest(http.MethodGet, "/api/streams/"+string(st.ID), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetStream_notFound(t *testing.T) {
	h, _ := newTestHandler(t, t.TempDir())
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/streams/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ListStreams(t *testing.T) {
	h, repo := newTestHandler(t, t.TempDir())
	r := newTestRouter(h)
	repo.Register("http://origin/a.mp4")
	repo.Register("http://origin/b.mp4")

	req := httptest.NewRequest(http.MethodGet, "/api/streams/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Streams []Stream `json:"streams"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Streams) != 2 {
		t.Errorf("expected 2 streams, got %d", len(body.Streams))
	}
}

func TestHandler_ScanVideos(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.webm", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	h, repo := newTestHandler(t, dir)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/streams/scan", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.Count() != 2 {
		t.Errorf("expected 2 video streams registered, got %d", repo.Count())
	}

	// A second scan must not duplicate anything.
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/api/streams/scan", nil))
	if repo.Count() != 2 {
		t.Errorf("expected scan to be idempotent, got %d streams", repo.Count())
	}
}
