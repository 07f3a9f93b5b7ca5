package observability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Kafka metrics
	MessagesConsumed   *prometheus.CounterVec
	MessagesProduced   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	PartitionsAssigned *prometheus.GaugeVec
	DLQMessages        *prometheus.CounterVec

	// Source task metrics
	FilesProcessed   *prometheus.CounterVec
	RecordsRead      *prometheus.CounterVec
	BytesRead        *prometheus.CounterVec
	FileReadDuration *prometheus.HistogramVec

	// Sink task metrics
	RecordsWritten    *prometheus.CounterVec
	SegmentsCommitted *prometheus.CounterVec
	SegmentSize       *prometheus.HistogramVec
	CommitDuration    *prometheus.HistogramVec

	// Storage metrics
	StorageErrors            *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	mu    sync.Mutex
	tasks map[string]*TaskCounters
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		MessagesProduced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_produced_total",
				Help: "Total number of messages produced to Kafka",
			},
			[]string{"topic", "status"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		DLQMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_dlq_messages_total",
				Help: "Total number of messages sent to the dead letter topic",
			},
			[]string{"topic"},
		),

		FilesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_files_processed_total",
				Help: "Total number of input files handled by source tasks",
			},
			[]string{"task", "status"},
		),
		RecordsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_records_read_total",
				Help: "Total number of records read from input files",
			},
			[]string{"task"},
		),
		BytesRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_bytes_read_total",
				Help: "Total number of bytes read from input files",
			},
			[]string{"task"},
		),
		FileReadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "source_file_read_duration_seconds",
				Help:    "Duration of reading and finishing an input file",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		),

		RecordsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_records_written_total",
				Help: "Total number of records appended to segment files",
			},
			[]string{"task"},
		),
		SegmentsCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_segments_committed_total",
				Help: "Total number of segment files committed",
			},
			[]string{"task", "format"},
		),
		SegmentSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_segment_size_bytes",
				Help:    "Size of committed segment files",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"task", "format"},
		),
		CommitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_commit_duration_seconds",
				Help:    "Duration of closing and moving a segment file",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		),

		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "operation"},
		),
		StorageOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_operation_duration_seconds",
				Help:    "Duration of storage operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),

		tasks: make(map[string]*TaskCounters),
	}
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncMessagesProduced increments messages produced counter.
func (m *Metrics) IncMessagesProduced(topic string, status string) {
	m.MessagesProduced.WithLabelValues(topic, status).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, fmt.Sprintf("%d", partition), status).Inc()
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncDLQMessages increments dead letter counter.
func (m *Metrics) IncDLQMessages(topic string) {
	m.DLQMessages.WithLabelValues(topic).Inc()
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// ObserveStorageOperationDuration observes a storage operation duration.
func (m *Metrics) ObserveStorageOperationDuration(backend string, operation string, duration float64) {
	m.StorageOperationDuration.WithLabelValues(backend, operation).Observe(duration)
}

// NewTaskCounters creates the counters of one task. The counters stay
// registered until Release is called.
func (m *Metrics) NewTaskCounters(kind, taskID string) *TaskCounters {
	c := &TaskCounters{
		metrics: m,
		kind:    kind,
		task:    taskID,
	}

	m.mu.Lock()
	m.tasks[taskID] = c
	m.mu.Unlock()
	return c
}

// Tasks returns a snapshot of every live task, sorted by task id.
func (m *Metrics) Tasks() []TaskSnapshot {
	m.mu.Lock()
	snapshots := make([]TaskSnapshot, 0, len(m.tasks))
	for _, c := range m.tasks {
		snapshots = append(snapshots, c.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Task < snapshots[j].Task
	})
	return snapshots
}

func (m *Metrics) release(c *TaskCounters) {
	m.mu.Lock()
	if m.tasks[c.task] == c {
		delete(m.tasks, c.task)
	}
	m.mu.Unlock()

	labels := prometheus.Labels{"task": c.task}
	m.FilesProcessed.DeletePartialMatch(labels)
	m.RecordsRead.DeletePartialMatch(labels)
	m.BytesRead.DeletePartialMatch(labels)
	m.FileReadDuration.DeletePartialMatch(labels)
	m.RecordsWritten.DeletePartialMatch(labels)
	m.SegmentsCommitted.DeletePartialMatch(labels)
	m.SegmentSize.DeletePartialMatch(labels)
	m.CommitDuration.DeletePartialMatch(labels)
}
