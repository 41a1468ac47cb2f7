package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stream-sentinel/internal/adaptive"
	"stream-sentinel/internal/alert"
	"stream-sentinel/internal/console"
	"stream-sentinel/internal/correlate"
	"stream-sentinel/internal/platform/config"
	"stream-sentinel/internal/platform/logger"
	"stream-sentinel/internal/platform/metrics"
	"stream-sentinel/internal/registry"
	"stream-sentinel/internal/relay"
	"stream-sentinel/internal/timeline"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	dbPath := config.GetEnv("DB_PATH", "")
	videosDir := config.GetEnv("VIDEOS_DIR", "videos")
	relayTimeout := config.GetEnvDuration("RELAY_TIMEOUT", relay.DefaultTimeout)
	alertCapacity := config.GetEnvInt("ALERT_CAPACITY", alert.DefaultCapacity)
	reconnectDelay := config.GetEnvDuration("RECONNECT_DELAY", alert.DefaultReconnectDelay)
	replayFile := config.GetEnv("ALERT_REPLAY_FILE", "")
	consoleEnabled := config.GetEnvInt("CONSOLE_ENABLED", 0) != 0

	log := logger.New(logLevel, logFormat)

	var store registry.Store
	if dbPath != "" {
		sqliteStore, err := registry.OpenSQLiteStore(dbPath)
		if err != nil {
			log.Error("open sqlite store", "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	} else {
		store = registry.NewMemoryStore()
	}

	repo := registry.NewRepository(store)
	if err := repo.Reset(); err != nil {
		log.Error("reset stream store", "error", err)
		os.Exit(1)
	}
	if created, err := registry.ScanVideosDir(repo, videosDir, log); err != nil {
		log.Warn("videos folder scan failed", "error", err)
	} else if created > 0 {
		log.Info("videos folder scanned", "created", created)
	}

	met := metrics.New()
	buffer := alert.NewBuffer(alertCapacity)
	hub := alert.NewHub(buffer, log, met)

	relaySvc := relay.NewService(repo, relayTimeout)
	webcam := relay.NewWebcamFeed(log)
	relayHandler := relay.NewHandler(relaySvc, repo, webcam, videosDir, log, met)
	registryHandler := registry.NewHandler(repo, videosDir, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			met.SetRegisteredStreams(repo.Count())
			met.SetBufferedAlerts(buffer.Len())
		}).ServeHTTP(w, req)
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/stream", relayHandler.OpenStream)
		r.Route("/streams", func(r chi.Router) {
			r.Get("/", registryHandler.ListStreams)
			r.Post("/", registryHandler.CreateStream)
			r.Post("/scan", registryHandler.ScanVideos)
			r.Get("/{stream_id}", registryHandler.GetStream)
		})
		r.Post("/alerts", hub.IngestHandler)
		r.Get("/websocket/alerts", hub.ServeWS)
		r.Get("/websocket/webcam", webcam.ServeIngest)
	})
	r.Handle("/videos/*", http.StripPrefix("/videos/", http.FileServer(http.Dir(videosDir))))

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"videos_dir", videosDir,
		"alert_capacity", alertCapacity,
		"store", storeKind(dbPath),
	)

	var replayer *alert.Replayer
	if replayFile != "" {
		records, err := alert.LoadReplayFile(replayFile)
		if err != nil {
			log.Warn("alert replay file unusable", "path", replayFile, "error", err)
		} else {
			replayer = alert.NewReplayer(records, hub.Publish)
			replayer.Start()
			log.Info("alert replay scheduled", "records", len(records))
		}
	}

	// Optional embedded console: a headless dashboard consuming this
	// server's own alert endpoint, auto-selecting high alerts.
	var (
		channel   *alert.Channel
		dashboard *console.Dashboard
	)
	if consoleEnabled {
		dashboard = console.NewDashboard(repo, nil, console.Config{
			PageSize:        config.GetEnvInt("PAGE_SIZE", console.DefaultPageSize),
			Timeline:        timeline.Config{LiveEdgeThreshold: config.GetEnvFloat("LIVE_EDGE_THRESHOLD", timeline.DefaultLiveEdgeThreshold)},
			Adaptive:        adaptive.Config{RetryBackoff: config.GetEnvDuration("RETRY_BACKOFF", adaptive.DefaultRetryBackoff)},
			LiveEdgeOffset:  config.GetEnvFloat("LIVE_EDGE_OFFSET", adaptive.DefaultLiveEdgeOffset),
			AutoSelectLevel: alert.LevelHigh,
		}, log)
		correlator := correlate.New(dashboard, buffer, correlate.Config{
			LookbackPad: config.GetEnvFloat("LOOKBACK_PAD", correlate.DefaultLookbackPad),
		}, log, met)
		dashboard.SetCorrelator(correlator)
		buffer.SetEvictFunc(func(a alert.Alert) { correlator.ClearAlert(a.ID) })
		dashboard.SetPage(0)

		wsURL := "ws://" + hostAddr(addr) + "/api/websocket/alerts"
		channel = alert.NewChannel(wsURL, buffer, reconnectDelay, log, met)
		channel.OnAlert = dashboard.HandleAlert
		go channel.Run()
		log.Info("embedded console started", "alert_endpoint", wsURL)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	if channel != nil {
		channel.Close()
	}
	if dashboard != nil {
		dashboard.Close()
	}
	if replayer != nil {
		replayer.Stop()
	}
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	if err := repo.Reset(); err != nil {
		log.Warn("reset stream store on shutdown", "error", err)
	}

	log.Info("server stopped")
}

func storeKind(dbPath string) string {
	if dbPath != "" {
		return "sqlite"
	}
	return "memory"
}

// hostAddr turns a listen address like ":8080" into a dialable host:port.
func hostAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}
