package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"stream-sentinel/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the stream CRUD endpoints using go-chi.
type Handler struct {
	repo      *Repository
	videosDir string
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler returns a Handler for the given repository. videosDir is the
// directory scanned for local video files. Metrics may be nil (e.g. in tests).
func NewHandler(repo *Repository, videosDir string, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{repo: repo, videosDir: videosDir, log: log, metrics: m}
}

type createStreamRequest struct {
	URL string `json:"url"`
}

// CreateStream handles POST /api/streams. Body: { "url": "http://..." }.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid stream body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "URL is required.")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required.")
		return
	}

	st, err := h.repo.Register(req.URL)
	if err != nil {
		h.log.Error("create stream failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Error creating stream")
		return
	}

	h.log.Info("stream registered",
		slog.String("stream_id", string(st.ID)),
		slog.String("url", st.URL),
		slog.String("format", string(st.Format)))
	writeJSON(w, http.StatusCreated, st)
}

// GetStream handles GET /api/streams/{stream_id}.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id := StreamID(chi.URLParam(r, "stream_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Stream ID is required")
		return
	}

	st, err := h.repo.Get(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Stream ID Not found")
		return
	}
	if err != nil {
		h.log.Error("get stream failed", slog.String("stream_id", string(id)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Error retrieving stream")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListStreams handles GET /api/streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := h.repo.List()
	if err != nil {
		h.log.Error("list streams failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Error retrieving streams")
		return
	}
	if streams == nil {
		streams = []Stream{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

// ScanVideos handles POST /api/streams/scan: registers streams for any new
// files in the videos directory and returns the resulting stream list.
func (h *Handler) ScanVideos(w http.ResponseWriter, r *http.Request) {
	created, err := ScanVideosDir(h.repo, h.videosDir, h.log)
	if err != nil {
		h.log.Error("scan videos failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Error scanning videos folder")
		return
	}
	if created > 0 {
		h.log.Info("videos folder scanned", slog.Int("created", created))
	}

	streams, err := h.repo.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error retrieving streams")
		return
	}
	if streams == nil {
		streams = []Stream{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Videos folder scanned",
		"streams": streams,
		"count":   len(streams),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
