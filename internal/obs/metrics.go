package obs

import (
	"net/http"
	"time"

	"tickerflow/internal/model/enum"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tickerflow"

// Metrics collects pipeline counters on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	recordsExtracted *prometheus.CounterVec
	framesSkipped    *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	connectFailures  *prometheus.CounterVec

	batchesPublished *prometheus.CounterVec
	publishFailures  *prometheus.CounterVec
	enqueued         *prometheus.CounterVec
	enqueueFailures  *prometheus.CounterVec

	objectsWritten    *prometheus.CounterVec
	objectFailures    *prometheus.CounterVec
	recordsArchived   *prometheus.CounterVec
	catalogFailures   prometheus.Counter
	uploadLatency     *prometheus.HistogramVec
	archiveQueueDepth prometheus.Gauge
}

// NewMetrics allocates and registers every collector.
func NewMetrics() *Metrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		registry:         prometheus.NewRegistry(),
		recordsExtracted: counter("records_extracted_total", "Records yielded by stream extractors.", "source"),
		framesSkipped:    counter("frames_skipped_total", "Frames dropped because they could not be parsed.", "source"),
		reconnects:       counter("reconnects_total", "Stream reconnects after a lost session.", "source"),
		connectFailures:  counter("connect_failures_total", "Failed connect attempts, bootstrap included.", "source"),
		batchesPublished: counter("batches_published_total", "Batches accepted by the message bus.", "source"),
		publishFailures:  counter("publish_failures_total", "Batches the message bus rejected.", "source"),
		enqueued:         counter("envelopes_enqueued_total", "Envelopes handed to the archive queue.", "source"),
		enqueueFailures:  counter("enqueue_failures_total", "Envelopes the archive queue rejected.", "source", "reason"),
		objectsWritten:   counter("objects_written_total", "Objects written to the object store.", "source"),
		objectFailures:   counter("object_write_failures_total", "Object writes that failed; the batch is dropped.", "source"),
		recordsArchived:  counter("records_archived_total", "Records contained in written objects.", "source"),
		catalogFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_failures_total",
			Help:      "Object catalog inserts that failed.",
		}),
		uploadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "object_write_seconds",
			Help:      "Latency of a single object write.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"source"}),
		archiveQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_queue_length",
			Help:      "Envelopes waiting in the archive queue.",
		}),
	}

	m.registry.MustRegister(
		m.recordsExtracted, m.framesSkipped, m.reconnects, m.connectFailures,
		m.batchesPublished, m.publishFailures, m.enqueued, m.enqueueFailures,
		m.objectsWritten, m.objectFailures, m.recordsArchived, m.catalogFailures,
		m.uploadLatency, m.archiveQueueDepth,
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) AddExtracted(source enum.Source, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsExtracted.WithLabelValues(source.String()).Add(float64(n))
}

func (m *Metrics) IncFrameSkipped(source enum.Source) {
	if m == nil {
		return
	}
	m.framesSkipped.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) IncReconnect(source enum.Source) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) IncConnectFailure(source enum.Source) {
	if m == nil {
		return
	}
	m.connectFailures.WithLabelValues(source.String()).Inc()
}

// ObservePublish records the outcome of one bus publish.
func (m *Metrics) ObservePublish(source enum.Source, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishFailures.WithLabelValues(source.String()).Inc()
		return
	}
	m.batchesPublished.WithLabelValues(source.String()).Inc()
}

// ObserveEnqueue records the outcome of one archive enqueue. reason is only
// used on failure.
func (m *Metrics) ObserveEnqueue(source enum.Source, reason string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.enqueueFailures.WithLabelValues(source.String(), reason).Inc()
		return
	}
	m.enqueued.WithLabelValues(source.String()).Inc()
}

// ObserveObjectWrite records one object store write.
func (m *Metrics) ObserveObjectWrite(source enum.Source, records int, d time.Duration, err error) {
	if m == nil {
		return
	}
	label := source.String()
	m.uploadLatency.WithLabelValues(label).Observe(d.Seconds())
	if err != nil {
		m.objectFailures.WithLabelValues(label).Inc()
		return
	}
	m.objectsWritten.WithLabelValues(label).Inc()
	m.recordsArchived.WithLabelValues(label).Add(float64(records))
}

func (m *Metrics) IncCatalogFailure() {
	if m == nil {
		return
	}
	m.catalogFailures.Inc()
}

func (m *Metrics) SetArchiveQueueLength(n int) {
	if m == nil {
		return
	}
	m.archiveQueueDepth.Set(float64(n))
}
