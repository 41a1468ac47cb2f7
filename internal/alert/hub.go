package alert

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"stream-sentinel/internal/platform/metrics"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// clientSendBuffer bounds per-subscriber queued envelopes; slow
	// subscribers past this are dropped rather than stalling the hub.
	clientSendBuffer = 16
)

// Hub owns the bounded alert buffer and fans alerts out to WebSocket
// subscribers. Each new connection receives one history envelope with the
// current snapshot before any live alert events.
type Hub struct {
	buffer   *Buffer
	upgrader websocket.Upgrader
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan Envelope
	once sync.Once
}

// NewHub returns a Hub over buffer. Metrics may be nil (e.g. in tests).
func NewHub(buffer *Buffer, log *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     log,
		metrics: m,
		now:     time.Now,
		clients: make(map[*hubClient]struct{}),
	}
}

// Buffer returns the hub's underlying alert buffer.
func (h *Hub) Buffer() *Buffer {
	return h.buffer
}

// ServeWS handles GET /api/websocket/alerts: upgrades the connection,
// queues the history snapshot as the first outbound message, then streams
// live alert events until the subscriber goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("alert websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &hubClient{conn: conn, send: make(chan Envelope, clientSendBuffer)}

	// Snapshot and registration happen under the same lock Publish holds for
	// fan-out: every alert lands in exactly one of the history envelope or
	// the live event stream, never neither.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	c.send <- Envelope{Type: TypeHistory, Alerts: recordsFromAlerts(h.buffer.Snapshot())}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Publish stores a into the buffer and fans it out to all subscribers.
// The buffer write and the fan-out share one critical section so a
// subscriber joining concurrently sees the alert in its history snapshot
// or as a live event, exactly once.
func (h *Hub) Publish(a Alert) {
	env := Envelope{Type: TypeAlert, Alert: recordFromAlert(a)}

	h.mu.Lock()
	evicted := h.buffer.Put(a)
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			// Subscriber is not keeping up; cut it loose.
			h.removeLocked(c)
		}
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.IncAlertsReceived()
		for range evicted {
			h.metrics.IncAlertsEvicted()
		}
	}
}

// Ingest normalizes a raw producer record and publishes it.
func (h *Hub) Ingest(rec Record) Alert {
	a := Normalize(rec, h.now())
	h.Publish(a)
	return a
}

// IngestHandler handles POST /api/alerts from the detection pipeline.
func (h *Hub) IngestHandler(w http.ResponseWriter, r *http.Request) {
	var rec Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.log.Debug("invalid alert body", slog.String("error", err.Error()))
		http.Error(w, "invalid alert record", http.StatusBadRequest)
		return
	}

	a := h.Ingest(rec)
	h.log.Info("alert ingested",
		slog.String("alert_id", a.ID),
		slog.String("level", string(a.Level)),
		slog.String("source", a.Source))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(a)
}

// Close disconnects every subscriber and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
}

// removeLocked detaches a client. Caller holds h.mu.
func (h *Hub) removeLocked(c *hubClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug("alert subscriber read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func recordFromAlert(a Alert) *Record {
	return &Record{
		ID:       a.ID,
		Name:     a.Name,
		Level:    string(a.Level),
		RawLevel: a.RawLevel,
		Location: a.Location,
		Source:   a.Source,
		URL:      a.URL,
		Time:     a.Time,
	}
}

func recordsFromAlerts(alerts []Alert) []Record {
	out := make([]Record, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, *recordFromAlert(a))
	}
	return out
}
