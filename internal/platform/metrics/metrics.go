package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream-sentinel server.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	relayRequestsTotal    prometheus.Counter
	upstreamFailuresTotal prometheus.Counter
	alertsReceivedTotal   prometheus.Counter
	alertsEvictedTotal    prometheus.Counter
	channelReconnects     prometheus.Counter
	seeksResolvedTotal    prometheus.Counter
	registeredStreams     prometheus.Gauge
	bufferedAlerts        prometheus.Gauge
	errorsTotal           prometheus.Counter
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_requests_total",
		Help: "Total number of HTTP requests received",
	})
	relayRequestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_relay_requests_total",
		Help: "Total number of relay open requests",
	})
	upstreamFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_relay_upstream_failures_total",
		Help: "Total number of relay requests that failed at the origin",
	})
	alertsReceivedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_alerts_received_total",
		Help: "Total number of alerts ingested",
	})
	alertsEvictedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_alerts_evicted_total",
		Help: "Total number of alerts evicted from the bounded buffer",
	})
	channelReconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_alert_channel_reconnects_total",
		Help: "Total number of alert channel reconnect attempts",
	})
	seeksResolvedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_seeks_resolved_total",
		Help: "Total number of alert selections resolved to a playback seek",
	})
	registeredStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_registered_streams",
		Help: "Number of streams currently registered",
	})
	bufferedAlerts := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_buffered_alerts",
		Help: "Number of alerts currently held in the bounded buffer",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		relayRequestsTotal,
		upstreamFailuresTotal,
		alertsReceivedTotal,
		alertsEvictedTotal,
		channelReconnects,
		seeksResolvedTotal,
		registeredStreams,
		bufferedAlerts,
		errorsTotal,
	)

	return &Metrics{
		registry:              registry,
		requestsTotal:         requestsTotal,
		relayRequestsTotal:    relayRequestsTotal,
		upstreamFailuresTotal: upstreamFailuresTotal,
		alertsReceivedTotal:   alertsReceivedTotal,
		alertsEvictedTotal:    alertsEvictedTotal,
		channelReconnects:     channelReconnects,
		seeksResolvedTotal:    seeksResolvedTotal,
		registeredStreams:     registeredStreams,
		bufferedAlerts:        bufferedAlerts,
		errorsTotal:           errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncRelayRequests increments the relay request counter.
func (m *Metrics) IncRelayRequests() {
	m.relayRequestsTotal.Inc()
}

// IncUpstreamFailures increments the relay upstream failure counter.
func (m *Metrics) IncUpstreamFailures() {
	m.upstreamFailuresTotal.Inc()
}

// IncAlertsReceived increments the ingested alerts counter.
func (m *Metrics) IncAlertsReceived() {
	m.alertsReceivedTotal.Inc()
}

// IncAlertsEvicted increments the evicted alerts counter.
func (m *Metrics) IncAlertsEvicted() {
	m.alertsEvictedTotal.Inc()
}

// IncChannelReconnects increments the alert channel reconnect counter.
func (m *Metrics) IncChannelReconnects() {
	m.channelReconnects.Inc()
}

// IncSeeksResolved increments the resolved seek counter.
func (m *Metrics) IncSeeksResolved() {
	m.seeksResolvedTotal.Inc()
}

// SetRegisteredStreams sets the registered streams gauge.
func (m *Metrics) SetRegisteredStreams(n int) {
	m.registeredStreams.Set(float64(n))
}

// SetBufferedAlerts sets the buffered alerts gauge.
func (m *Metrics) SetBufferedAlerts(n int) {
	m.bufferedAlerts.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
