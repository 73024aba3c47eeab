package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the pipeline counters to Prometheus. The authoritative
// (resettable) PlaybackStats live in the queue manager; these counters are
// monotonic.
type Metrics struct {
	registry *prometheus.Registry

	itemsPlayed  prometheus.Counter
	pregenHits   prometheus.Counter
	pregenMisses prometheus.Counter
	pregenErrors prometheus.Counter
	rejected     *prometheus.CounterVec
	queueDepth   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		itemsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tts_items_played_total",
			Help: "Queue items that completed playback.",
		}),
		pregenHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tts_pregeneration_hits_total",
			Help: "Items whose audio was ready before playback reached them.",
		}),
		pregenMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tts_pregeneration_misses_total",
			Help: "Items that fell back to on-demand synthesis.",
		}),
		pregenErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tts_pregeneration_errors_total",
			Help: "Pre-generation attempts that failed.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tts_rejected_total",
			Help: "Requests rejected before enqueue, by reason.",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tts_queue_depth",
			Help: "Items currently waiting in the speech queue.",
		}),
	}

	m.registry.MustRegister(
		m.itemsPlayed,
		m.pregenHits,
		m.pregenMisses,
		m.pregenErrors,
		m.rejected,
		m.queueDepth,
	)
	return m
}

func (m *Metrics) IncPlayed()      { m.itemsPlayed.Inc() }
func (m *Metrics) IncPregenHit()   { m.pregenHits.Inc() }
func (m *Metrics) IncPregenMiss()  { m.pregenMisses.Inc() }
func (m *Metrics) IncPregenError() { m.pregenErrors.Inc() }

func (m *Metrics) IncRejected(reason string) { m.rejected.WithLabelValues(reason).Inc() }

func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
