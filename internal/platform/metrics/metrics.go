package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the virtual camera daemon.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	framesCapturedTotal   prometheus.Counter
	framesCompositedTotal prometheus.Counter
	framesDroppedTotal    prometheus.Counter
	signalsSentTotal      prometheus.Counter
	signalsDroppedTotal   prometheus.Counter
	attachedConsumers     prometheus.Gauge
}

// New creates and registers Prometheus metrics for the daemon.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vcam_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vcam_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	framesCapturedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vcam_frames_captured_total",
		Help: "Total number of frames received from the capture session",
	})
	framesCompositedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vcam_frames_composited_total",
		Help: "Total number of frames composited and handed to the publisher",
	})
	framesDroppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vcam_frames_dropped_total",
		Help: "Total number of frames dropped because composition ran past the frame interval",
	})
	signalsSentTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vcam_signals_sent_total",
		Help: "Total number of notification signals published on the bus",
	})
	signalsDroppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vcam_signals_dropped_total",
		Help: "Total number of notification signals dropped for slow or absent subscribers",
	})
	attachedConsumers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vcam_attached_consumers",
		Help: "Number of consumers currently attached to the virtual camera stream",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		framesCapturedTotal,
		framesCompositedTotal,
		framesDroppedTotal,
		signalsSentTotal,
		signalsDroppedTotal,
		attachedConsumers,
	)

	return &Metrics{
		registry:              registry,
		requestsTotal:         requestsTotal,
		errorsTotal:           errorsTotal,
		framesCapturedTotal:   framesCapturedTotal,
		framesCompositedTotal: framesCompositedTotal,
		framesDroppedTotal:    framesDroppedTotal,
		signalsSentTotal:      signalsSentTotal,
		signalsDroppedTotal:   signalsDroppedTotal,
		attachedConsumers:     attachedConsumers,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncFramesCaptured increments the captured frames counter.
func (m *Metrics) IncFramesCaptured() {
	m.framesCapturedTotal.Inc()
}

// IncFramesComposited increments the composited frames counter.
func (m *Metrics) IncFramesComposited() {
	m.framesCompositedTotal.Inc()
}

// IncFramesDropped increments the dropped frames counter.
func (m *Metrics) IncFramesDropped() {
	m.framesDroppedTotal.Inc()
}

// IncSignalsSent increments the signals sent counter.
func (m *Metrics) IncSignalsSent() {
	m.signalsSentTotal.Inc()
}

// IncSignalsDropped increments the signals dropped counter.
func (m *Metrics) IncSignalsDropped() {
	m.signalsDroppedTotal.Inc()
}

// SetAttachedConsumers sets the attached consumers gauge.
func (m *Metrics) SetAttachedConsumers(n int) {
	m.attachedConsumers.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. attached consumers).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
