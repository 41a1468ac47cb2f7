package alert

import (
	"log/slog"
	"sync"
	"time"

	"stream-sentinel/internal/platform/metrics"

	"github.com/gorilla/websocket"
)

// DefaultReconnectDelay is how long the channel waits after a transport
// failure before dialing again.
const DefaultReconnectDelay = 3 * time.Second

// ChannelState is the lifecycle state of the push-channel consumer.
type ChannelState int

const (
	StateConnecting ChannelState = iota
	StateOpen
	StateReconnecting
	StateDisposed
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// Channel is a reconnecting consumer of the alert push channel. Each
// (re)connection delivers a fresh history snapshot which replaces the buffer
// contents, followed by live alert events; there is no gap filling across
// reconnects. Close transitions to Disposed and suppresses further dials.
type Channel struct {
	url     string
	buffer  *Buffer
	delay   time.Duration
	dialer  *websocket.Dialer
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// OnAlert, if set, is invoked for every live alert event (not for
	// history replays). Set before Run.
	OnAlert func(Alert)

	mu    sync.Mutex
	state ChannelState
	conn  *websocket.Conn
	done  chan struct{}
}

// NewChannel returns a consumer for the alert endpoint at url (a ws:// or
// wss:// URL), storing received alerts into buffer. delay <= 0 means
// DefaultReconnectDelay. Metrics may be nil.
func NewChannel(url string, buffer *Buffer, delay time.Duration, log *slog.Logger, m *metrics.Metrics) *Channel {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Channel{
		url:     url,
		buffer:  buffer,
		delay:   delay,
		dialer:  websocket.DefaultDialer,
		log:     log,
		metrics: m,
		now:     time.Now,
		state:   StateConnecting,
		done:    make(chan struct{}),
	}
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run drives the connect/read/reconnect loop until Close is called.
// Call it on its own goroutine.
func (c *Channel) Run() {
	for {
		if c.disposed() {
			return
		}
		c.setState(StateConnecting)

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn("alert channel dial failed", slog.String("error", err.Error()))
			if !c.waitRetry() {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.state == StateDisposed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.state = StateOpen
		c.mu.Unlock()

		c.log.Info("alert channel connected", slog.String("url", c.url))
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		disposed := c.state == StateDisposed
		c.mu.Unlock()
		if disposed {
			return
		}

		if !c.waitRetry() {
			return
		}
	}
}

// readLoop consumes envelopes until the connection fails.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			if !c.disposed() {
				c.log.Warn("alert channel read failed", slog.String("error", err.Error()))
			}
			return
		}
		c.dispatch(env)
	}
}

// dispatch applies one envelope: history replaces the buffer snapshot;
// alert and priority_alert events are normalized, stored, and forwarded.
// Unknown envelope types are ignored, never fatal.
func (c *Channel) dispatch(env Envelope) {
	switch env.Type {
	case TypeHistory:
		c.buffer.Clear()
		for _, rec := range env.Alerts {
			c.buffer.Put(Normalize(rec, c.now()))
		}
	case TypeAlert, TypePriorityAlert:
		rec, ok := env.record()
		if !ok {
			return
		}
		a := Normalize(rec, c.now())
		c.buffer.Put(a)
		if c.OnAlert != nil {
			c.OnAlert(a)
		}
	default:
		c.log.Debug("unknown alert envelope type", slog.String("type", env.Type))
	}
}

// waitRetry sleeps the fixed reconnect delay; false means the channel was
// disposed while waiting.
func (c *Channel) waitRetry() bool {
	c.setState(StateReconnecting)
	if c.metrics != nil {
		c.metrics.IncChannelReconnects()
	}
	select {
	case <-time.After(c.delay):
		return !c.disposed()
	case <-c.done:
		return false
	}
}

// Close tears the channel down: the buffer is cleared, the connection is
// closed, and no further reconnects are attempted.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisposed
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.buffer.Clear()
}

func (c *Channel) disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateDisposed
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	if c.state != StateDisposed {
		c.state = s
	}
	c.mu.Unlock()
}
