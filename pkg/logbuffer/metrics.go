// pkg/logbuffer/metrics.go

package logbuffer

import (
	"net/http"

	"AveLog/pkg/chunk"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics of a LogBuffer. A nil *Metrics records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	entries           *prometheus.CounterVec // entries logged
	entryBytes        *prometheus.CounterVec // encoded bytes logged
	chunksFinished    *prometheus.CounterVec // chunks rolled out of the write path
	uncompressedBytes *prometheus.CounterVec // bytes of finished chunks before compression
	compressedBytes   *prometheus.CounterVec // bytes of finished chunks after compression
	prunedEntries     *prometheus.CounterVec // entries dropped, by reason
	memoryUsage       *prometheus.GaugeVec   // PruneSize sum per log id
	chunks            *prometheus.GaugeVec   // live chunks per log id
	readers           prometheus.Gauge       // attached readers
}

// NewMetrics registers the buffer metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	return m.register()
}

func (m *Metrics) register() *Metrics {
	const namespace = "avelog"
	m.entries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_total",
		Help:      "Number of log entries written.",
	}, []string{"log_id"})
	m.entryBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entry_bytes_total",
		Help:      "Encoded size of log entries written.",
	}, []string{"log_id"})
	m.chunksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_finished_total",
		Help:      "Number of chunks that finished writing.",
	}, []string{"log_id"})
	m.uncompressedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_uncompressed_bytes_total",
		Help:      "Content size of finished chunks.",
	}, []string{"log_id"})
	m.compressedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_compressed_bytes_total",
		Help:      "Compressed size of finished chunks.",
	}, []string{"log_id"})
	m.prunedEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pruned_entries_total",
		Help:      "Number of entries removed from the buffer.",
	}, []string{"log_id", "reason"})
	m.memoryUsage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_usage_bytes",
		Help:      "Memory charged to each log id.",
	}, []string{"log_id"})
	m.chunks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chunks",
		Help:      "Number of live chunks.",
	}, []string{"log_id"})
	m.readers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "readers",
		Help:      "Number of open readers.",
	})
	m.registry.MustRegister(m.entries, m.entryBytes, m.chunksFinished, m.uncompressedBytes,
		m.compressedBytes, m.prunedEntries, m.memoryUsage, m.chunks, m.readers)
	return m
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) logged(id chunk.LogID, size int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(id.String()).Inc()
	m.entryBytes.WithLabelValues(id.String()).Add(float64(size))
}

func (m *Metrics) finished(id chunk.LogID, c *chunk.LogChunk) {
	if m == nil {
		return
	}
	m.chunksFinished.WithLabelValues(id.String()).Inc()
	m.uncompressedBytes.WithLabelValues(id.String()).Add(float64(c.WriteOffset()))
	m.compressedBytes.WithLabelValues(id.String()).Add(float64(c.CompressedSize()))
}

func (m *Metrics) pruned(id chunk.LogID, reason string, entries int) {
	if m == nil || entries == 0 {
		return
	}
	m.prunedEntries.WithLabelValues(id.String(), reason).Add(float64(entries))
}

func (m *Metrics) usage(id chunk.LogID, bytes int64, chunks int) {
	if m == nil {
		return
	}
	m.memoryUsage.WithLabelValues(id.String()).Set(float64(bytes))
	m.chunks.WithLabelValues(id.String()).Set(float64(chunks))
}

func (m *Metrics) setReaders(n int) {
	if m == nil {
		return
	}
	m.readers.Set(float64(n))
}
