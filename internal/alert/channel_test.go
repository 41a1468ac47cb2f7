package alert

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server, string) {
	t.Helper()
	hub := NewHub(NewBuffer(50), testLogger(), nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket/alerts", hub.ServeWS)
	mux.HandleFunc("/api/alerts", hub.IngestHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/websocket/alerts"
	return hub, srv, wsURL
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHub_historyPrecedesAlerts(t *testing.T) {
	hub, _, wsURL := newHubServer(t)
	hub.Ingest(Record{ID: "seeded", Name: "Seeded", Level: "LOW"})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first Envelope
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if first.Type != TypeHistory {
		t.Fatalf("expected history first, got %q", first.Type)
	}
	if len(first.Alerts) != 1 || first.Alerts[0].ID != "seeded" {
		t.Errorf("unexpected history snapshot: %+v", first.Alerts)
	}

	hub.Ingest(Record{ID: "live-1", Level: "HIGH"})

	var second Envelope
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read alert: %v", err)
	}
	if second.Type != TypeAlert || second.Alert == nil || second.Alert.ID != "live-1" {
		t.Errorf("expected live-1 alert event, got %+v", second)
	}
}

func TestHub_ingestHandler(t *testing.T) {
	hub, srv, _ := newHubServer(t)

	resp, err := http.Post(srv.URL+"/api/alerts", "application/json",
		bytes.NewReader([]byte(`{"id":"h1","name":"Crowd","level":"DANGEROUS","source":"cam-2"}`)))
	if err != nil {
		t.Fatalf("post alert: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}

	a, ok := hub.Buffer().Get("h1")
	if !ok {
		t.Fatal("alert not stored")
	}
	if a.Level != LevelMedium {
		t.Errorf("expected DANGEROUS to map to MEDIUM, got %s", a.Level)
	}

	bad, err := http.Post(srv.URL+"/api/alerts", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("post bad alert: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed alert, got %d", bad.StatusCode)
	}
}

func TestHub_subscribeDuringPublishSeesEveryAlertOnce(t *testing.T) {
	hub, _, wsURL := newHubServer(t)

	const total = 30
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			hub.Ingest(Record{ID: fmt.Sprintf("burst-%d", i), Level: "LOW"})
			time.Sleep(time.Millisecond)
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Every published alert must show up exactly once across the history
	// snapshot and the live events, no matter when the subscriber joined.
	seen := make(map[string]int)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(seen) < total {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read envelope with %d/%d alerts seen: %v", len(seen), total, err)
		}
		switch env.Type {
		case TypeHistory:
			for _, rec := range env.Alerts {
				seen[rec.ID]++
			}
		case TypeAlert:
			seen[env.Alert.ID]++
		}
	}
	<-done

	for id, n := range seen {
		if n != 1 {
			t.Errorf("alert %s delivered %d times", id, n)
		}
	}
}

func TestChannel_receivesHistoryAndLive(t *testing.T) {
	hub, _, wsURL := newHubServer(t)
	hub.Ingest(Record{ID: "old", Level: "LOW"})

	consumer := NewBuffer(50)
	ch := NewChannel(wsURL, consumer, 50*time.Millisecond, testLogger(), nil)
	var liveCount atomic.Int32
	ch.OnAlert = func(Alert) { liveCount.Add(1) }
	go ch.Run()
	defer ch.Close()

	waitFor(t, "history replay", func() bool {
		_, ok := consumer.Get("old")
		return ok
	})
	if liveCount.Load() != 0 {
		t.Error("history replay must not fire the live callback")
	}

	hub.Ingest(Record{ID: "fresh", Level: "HIGH"})
	waitFor(t, "live alert", func() bool {
		_, ok := consumer.Get("fresh")
		return ok
	})
	if liveCount.Load() != 1 {
		t.Errorf("expected 1 live callback, got %d", liveCount.Load())
	}
	if ch.State() != StateOpen {
		t.Errorf("expected open channel, got %s", ch.State())
	}
}

func TestChannel_reconnectsAfterDrop(t *testing.T) {
	hub := NewHub(NewBuffer(50), testLogger(), nil)
	hub.Ingest(Record{ID: "survivor", Level: "LOW"})

	var dials atomic.Int32
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) == 1 {
			// Drop the first connection right after the handshake.
			conn, err := upgrader.Upgrade(w, r, nil)
			if err == nil {
				conn.Close()
			}
			return
		}
		hub.ServeWS(w, r)
	}))
	defer srv.Close()
	defer hub.Close()

	consumer := NewBuffer(50)
	ch := NewChannel("ws"+strings.TrimPrefix(srv.URL, "http"), consumer, 50*time.Millisecond, testLogger(), nil)
	go ch.Run()
	defer ch.Close()

	waitFor(t, "history after reconnect", func() bool {
		_, ok := consumer.Get("survivor")
		return ok
	})
	if dials.Load() < 2 {
		t.Errorf("expected a reconnect, got %d dials", dials.Load())
	}
}

func TestChannel_closeSuppressesReconnect(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	consumer := NewBuffer(50)
	ch := NewChannel("ws"+strings.TrimPrefix(srv.URL, "http"), consumer, 50*time.Millisecond, testLogger(), nil)
	go ch.Run()

	waitFor(t, "first dial", func() bool { return dials.Load() >= 1 })
	ch.Close()
	if ch.State() != StateDisposed {
		t.Fatalf("expected disposed, got %s", ch.State())
	}

	time.Sleep(200 * time.Millisecond)
	settled := dials.Load()
	time.Sleep(200 * time.Millisecond)
	if dials.Load() != settled {
		t.Errorf("disposed channel kept dialing: %d -> %d", settled, dials.Load())
	}
}

func TestChannel_dispatchHistoryReplacesBuffer(t *testing.T) {
	consumer := NewBuffer(50)
	consumer.Put(Alert{ID: "stale"})

	ch := NewChannel("ws://unused", consumer, time.Second, testLogger(), nil)
	ch.dispatch(Envelope{Type: TypeHistory, Alerts: []Record{{ID: "n1"}, {ID: "n2"}}})

	if _, ok := consumer.Get("stale"); ok {
		t.Error("history must replace the previous snapshot")
	}
	if consumer.Len() != 2 {
		t.Errorf("expected 2 alerts after history, got %d", consumer.Len())
	}
}

func TestChannel_dispatchIgnoresUnknownType(t *testing.T) {
	consumer := NewBuffer(50)
	ch := NewChannel("ws://unused", consumer, time.Second, testLogger(), nil)

	ch.dispatch(Envelope{Type: "mystery"})
	if consumer.Len() != 0 {
		t.Errorf("unknown envelope must be ignored, got %d alerts", consumer.Len())
	}
}
