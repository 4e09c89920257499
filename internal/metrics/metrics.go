// Package metrics exports node state to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rzbill/oplogd/internal/checkpoint"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/retention"
	"github.com/rzbill/oplogd/pkg/optime"
)

// Metrics holds every collector of the process. Node-scoped series carry a
// "node" label.
type Metrics struct {
	reg *prometheus.Registry

	// Oplog metrics
	sizeBytes *prometheus.GaugeVec
	entries   *prometheus.GaugeVec
	maxBytes  *prometheus.GaugeVec

	// Retention metrics
	boundary     *prometheus.GaugeVec
	boundaryInc  *prometheus.GaugeVec
	enforced     *prometheus.GaugeVec
	floor        *prometheus.GaugeVec
	checkpointTS *prometheus.GaugeVec
	pinned       *prometheus.GaugeVec
	truncated    *prometheus.CounterVec
	truncBytes   *prometheus.CounterVec
	truncFails   *prometheus.CounterVec
	prepared     *prometheus.GaugeVec

	// Storage metrics
	commitLatency *prometheus.HistogramVec
	writeBytes    *prometheus.CounterVec
	readBytes     *prometheus.CounterVec

	// Request metrics
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	node := []string{"node"}
	return &Metrics{
		reg: reg,

		sizeBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_size_bytes",
			Help: "Encoded size of all entries in the oplog",
		}, node),
		entries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_entries",
			Help: "Number of entries in the oplog",
		}, node),
		maxBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_max_bytes",
			Help: "Configured oplog size budget",
		}, node),

		boundary: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_retention_boundary_seconds",
			Help: "Seconds part of the last computed truncation boundary",
		}, node),
		boundaryInc: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_retention_boundary_increment",
			Help: "Increment part of the last computed truncation boundary",
		}, node),
		enforced: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_retention_enforced_seconds",
			Help: "Seconds part of the boundary applied by the last successful truncation",
		}, node),
		floor: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_retention_floor",
			Help: "Seconds part of the oldest prepared transaction start at the last checkpoint, 0 if none",
		}, node),
		checkpointTS: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_checkpoint_timestamp",
			Help: "Seconds part of the last stable checkpoint",
		}, node),
		pinned: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_retention_pinned",
			Help: "1 when a prepared transaction holds truncation below the size cutoff",
		}, node),
		truncated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oplog_truncated_entries_total",
			Help: "Entries deleted by truncation",
		}, node),
		truncBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oplog_truncated_bytes_total",
			Help: "Bytes deleted by truncation",
		}, node),
		truncFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oplog_truncate_failures_total",
			Help: "Truncation ticks that failed and will be retried",
		}, node),
		prepared: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_prepared_transactions",
			Help: "Prepared transactions not yet resolved",
		}, node),

		commitLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oplog_storage_commit_duration_seconds",
			Help:    "Duration of Pebble batch commits",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, node),
		writeBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oplog_storage_write_bytes_total",
			Help: "Bytes written through single-key writes",
		}, node),
		readBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oplog_storage_read_bytes_total",
			Help: "Bytes returned by point reads",
		}, node),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oplogd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Node returns the view of the collectors scoped to one node.
func (m *Metrics) Node(name string) *Node {
	return &Node{m: m, name: name}
}

// Node records metrics for a single node. It satisfies retention.Observer
// and the Pebble store's MetricsHook.
type Node struct {
	m    *Metrics
	name string
}

func secs(ts optime.Timestamp) float64 { return float64(ts.Secs()) }

// ObserveBoundary records the outcome of a boundary computation.
func (n *Node) ObserveBoundary(b retention.Boundary, enforced optime.Timestamp) {
	n.m.boundary.WithLabelValues(n.name).Set(secs(b.TS))
	n.m.boundaryInc.WithLabelValues(n.name).Set(float64(b.TS.Inc()))
	n.m.enforced.WithLabelValues(n.name).Set(secs(enforced))
	floor := 0.0
	if b.HasFloor {
		floor = secs(b.Floor)
	}
	n.m.floor.WithLabelValues(n.name).Set(floor)
	n.m.checkpointTS.WithLabelValues(n.name).Set(secs(b.CheckpointTS))
	pinned := 0.0
	if b.Pinned {
		pinned = 1
	}
	n.m.pinned.WithLabelValues(n.name).Set(pinned)
	n.m.maxBytes.WithLabelValues(n.name).Set(float64(b.MaxBytes))
}

// ObserveTruncation counts deleted entries.
func (n *Node) ObserveTruncation(res oplog.DeleteResult) {
	n.m.truncated.WithLabelValues(n.name).Add(float64(res.Deleted))
	n.m.truncBytes.WithLabelValues(n.name).Add(float64(res.Bytes))
}

// ObserveFailure counts a failed tick.
func (n *Node) ObserveFailure() {
	n.m.truncFails.WithLabelValues(n.name).Inc()
}

// ObserveCheckpoint records a new checkpoint mark.
func (n *Node) ObserveCheckpoint(mark checkpoint.Mark) {
	n.m.checkpointTS.WithLabelValues(n.name).Set(secs(mark.TS))
}

// SetLog records the current oplog size.
func (n *Node) SetLog(sizeBytes, count int64) {
	n.m.sizeBytes.WithLabelValues(n.name).Set(float64(sizeBytes))
	n.m.entries.WithLabelValues(n.name).Set(float64(count))
}

// SetPrepared records the number of prepared transactions.
func (n *Node) SetPrepared(count int) {
	n.m.prepared.WithLabelValues(n.name).Set(float64(count))
}

func (n *Node) ObserveWrite(_ time.Duration, bytes int) {
	n.m.writeBytes.WithLabelValues(n.name).Add(float64(bytes))
}

func (n *Node) ObserveRead(_ time.Duration, bytes int) {
	n.m.readBytes.WithLabelValues(n.name).Add(float64(bytes))
}

func (n *Node) ObserveBatchCommit(elapsed time.Duration, _ int, _ int) {
	n.m.commitLatency.WithLabelValues(n.name).Observe(elapsed.Seconds())
}
