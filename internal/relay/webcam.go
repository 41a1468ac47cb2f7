package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const webcamBoundary = "frame"

// WebcamFeed is the operator's own camera: the browser pushes binary JPEG
// frames over a WebSocket, and viewers pull them back out as an MJPEG
// stream. Only the latest frame is kept; a viewer that falls behind skips
// straight to it.
type WebcamFeed struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu     sync.Mutex
	frame  []byte
	seq    uint64
	active bool
	notify chan struct{}
}

// NewWebcamFeed returns an empty, inactive feed.
func NewWebcamFeed(log *slog.Logger) *WebcamFeed {
	return &WebcamFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:    log,
		notify: make(chan struct{}),
	}
}

// Active reports whether a producer is currently connected.
func (f *WebcamFeed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// ServeIngest handles GET /api/websocket/webcam: upgrades the connection and
// consumes binary JPEG frames until the producer goes away. Connecting
// activates the feed and drops any stale frame; disconnecting deactivates it.
func (f *WebcamFeed) ServeIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Debug("webcam websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.active = true
	f.frame = nil
	f.mu.Unlock()
	f.log.Info("webcam feed connected")

	defer func() {
		f.mu.Lock()
		f.active = false
		f.mu.Unlock()
		f.log.Info("webcam feed disconnected")
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		f.publish(data)
	}
}

// publish replaces the current frame and wakes every waiting viewer.
func (f *WebcamFeed) publish(frame []byte) {
	f.mu.Lock()
	f.frame = frame
	f.seq++
	close(f.notify)
	f.notify = make(chan struct{})
	f.mu.Unlock()
}

// next blocks until a frame newer than afterSeq exists or ctx ends.
func (f *WebcamFeed) next(ctx context.Context, afterSeq uint64) ([]byte, uint64, bool) {
	for {
		f.mu.Lock()
		if f.seq > afterSeq {
			frame, seq := f.frame, f.seq
			f.mu.Unlock()
			return frame, seq, true
		}
		wait := f.notify
		f.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, 0, false
		}
	}
}

// ServeMJPEG streams the feed as multipart/x-mixed-replace, one part per
// pushed frame, until the viewer disconnects. An inactive feed keeps the
// response open waiting for a producer, matching a viewer that tuned in
// before the camera started.
func (f *WebcamFeed) ServeMJPEG(w http.ResponseWriter, r *http.Request) {
	noCacheHeaders(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+webcamBoundary)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	var seq uint64
	for {
		frame, newSeq, ok := f.next(r.Context(), seq)
		if !ok {
			return
		}
		seq = newSeq

		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", webcamBoundary); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
