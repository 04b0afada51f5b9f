package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var phases = []string{"idle", "subscribing", "subscribed", "unsubscribing"}

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	phase         *prometheus.GaugeVec
	frames        *prometheus.CounterVec
	reconnects    prometheus.Counter
	ticksReceived *prometheus.CounterVec
}

var (
	shared     *Recorder
	sharedOnce sync.Once
)

// New returns the process-wide recorder. Collectors register with the default
// registry once, so repeated calls return the same instance.
func New() *Recorder {
	sharedOnce.Do(func() {
		shared = newRecorder()
	})
	return shared
}

func newRecorder() *Recorder {
	return &Recorder{
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickwatch_sink_messages_total",
				Help: "Ticks forwarded to the configured sink",
			},
			[]string{"sink", "symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickwatch_errors_total",
				Help: "Errors by kind",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickwatch_last_quote",
				Help: "Last received quote per symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickwatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		phase: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickwatch_subscription_phase",
				Help: "1 for the current subscription phase, 0 otherwise",
			},
			[]string{"phase"},
		),
		frames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickwatch_stream_frames_total",
				Help: "Stream frames dispatched by event type",
			},
			[]string{"type"},
		),
		reconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tickwatch_stream_reconnects_total",
				Help: "Scheduled stream reconnect attempts",
			},
		),
		ticksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickwatch_ticks_received_total",
				Help: "Ticks received in tick_update batches",
			},
			[]string{"symbol"},
		),
	}
}

// RecordMessageSent records a tick forwarded to a sink.
func (r *Recorder) RecordMessageSent(sink, symbol string) {
	r.messagesSent.WithLabelValues(sink, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last quote for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordPhase flips the phase gauge so exactly one phase reads 1.
func (r *Recorder) RecordPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		r.phase.WithLabelValues(p).Set(v)
	}
}

func (r *Recorder) RecordFrame(eventType string) {
	r.frames.WithLabelValues(eventType).Inc()
}

func (r *Recorder) RecordReconnect() {
	r.reconnects.Inc()
}

func (r *Recorder) RecordTicks(symbol string, n int) {
	r.ticksReceived.WithLabelValues(symbol).Add(float64(n))
}

// Noop satisfies the Metrics interface without recording anything.
type Noop struct{}

func (Noop) RecordMessageSent(string, string) {}
func (Noop) RecordError(string) {}
func (Noop) RecordLastPrice(string, float64) {}
func (Noop) RecordLatency(string, float64) {}
func (Noop) RecordPhase(string) {}
func (Noop) RecordFrame(string) {}
func (Noop) RecordReconnect() {}
func (Noop) RecordTicks(string, int) {}
