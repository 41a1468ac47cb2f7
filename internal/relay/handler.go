package relay

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"stream-sentinel/internal/platform/metrics"
	"stream-sentinel/internal/registry"
)

// Handler exposes the relay endpoint GET /api/stream?streamId=<id>.
type Handler struct {
	svc       *Service
	repo      *registry.Repository
	webcam    *WebcamFeed
	videosDir string
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler returns a relay Handler. videosDir is where locally registered
// "/videos/..." streams live on disk. webcam backs the reserved webcam
// stream id and may be nil when no feed is mounted. Metrics may be nil
// (e.g. in tests).
func NewHandler(svc *Service, repo *registry.Repository, webcam *WebcamFeed, videosDir string, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, repo: repo, webcam: webcam, videosDir: videosDir, log: log, metrics: m}
}

// noCacheHeaders forces every viewer request through to the origin.
func noCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// OpenStream handles GET /api/stream?streamId=<id>.
func (h *Handler) OpenStream(w http.ResponseWriter, r *http.Request) {
	if h.metrics != nil {
		h.metrics.IncRelayRequests()
	}

	id := registry.StreamID(r.URL.Query().Get("streamId"))
	if id == "" {
		http.Error(w, "Stream ID is required", http.StatusBadRequest)
		return
	}

	// The webcam id is reserved: it is never in the registry and is served
	// from the browser-pushed frame feed instead.
	if id == registry.WebcamID {
		if h.webcam == nil {
			http.Error(w, "Stream ID Not found", http.StatusNotFound)
			return
		}
		h.webcam.ServeMJPEG(w, r)
		return
	}

	st, err := h.repo.Get(id)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "Stream ID Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("stream lookup failed", slog.String("stream_id", string(id)), slog.String("error", err.Error()))
		http.Error(w, "Error retrieving stream", http.StatusInternalServerError)
		return
	}

	// Local video files are served straight from disk, not re-fetched.
	if strings.HasPrefix(st.URL, "/videos/") {
		h.serveLocal(w, r, st.URL)
		return
	}

	opened, err := h.svc.Open(r.Context(), st.ID)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			if h.metrics != nil {
				h.metrics.IncUpstreamFailures()
			}
			h.log.Warn("origin returned error status",
				slog.String("stream_id", string(id)),
				slog.Int("origin_status", upstream.Status))
			http.Error(w, "Upstream stream failure", http.StatusBadGateway)
			return
		}
		if h.metrics != nil {
			h.metrics.IncUpstreamFailures()
		}
		h.log.Error("origin fetch failed", slog.String("stream_id", string(id)), slog.String("error", err.Error()))
		http.Error(w, "Error fetching stream", http.StatusBadGateway)
		return
	}
	defer opened.Body.Close()

	noCacheHeaders(w)
	w.Header().Set("Content-Type", opened.ContentType)
	w.WriteHeader(http.StatusOK)

	if err := copyFlush(w, opened.Body); err != nil {
		// Headers already sent; terminate the viewer stream best-effort.
		h.log.Debug("stream transfer ended",
			slog.String("stream_id", string(id)),
			slog.String("error", err.Error()))
	}
}

// serveLocal serves a registered "/videos/<name>" stream from the videos
// directory with range support.
func (h *Handler) serveLocal(w http.ResponseWriter, r *http.Request, url string) {
	name := filepath.Base(strings.TrimPrefix(url, "/videos/"))
	path := filepath.Join(h.videosDir, name)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "Video file not found", http.StatusNotFound)
		return
	}
	noCacheHeaders(w)
	w.Header().Set("Content-Type", DefaultContentType)
	http.ServeFile(w, r, path)
}

// copyFlush streams src to w, flushing after each chunk so viewers see bytes
// as they arrive rather than when internal buffers fill.
func copyFlush(w http.ResponseWriter, src io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
