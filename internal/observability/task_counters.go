package observability

import (
	"sync/atomic"
)

// Task kinds.
const (
	KindSource = "source"
	KindSink   = "sink"
)

// TaskCounters are the counters owned by a single connector task. They are
// created when the task starts and released when it stops; a released
// TaskCounters ignores further updates.
type TaskCounters struct {
	metrics *Metrics
	kind    string
	task    string

	filesCompleted    atomic.Int64
	filesFailed       atomic.Int64
	recordsRead       atomic.Int64
	bytesRead         atomic.Int64
	recordsWritten    atomic.Int64
	segmentsCommitted atomic.Int64
	bytesCommitted    atomic.Int64
	released          atomic.Bool
}

// TaskSnapshot is a point-in-time copy of a task's counters.
type TaskSnapshot struct {
	Task              string `json:"task"`
	Kind              string `json:"kind"`
	FilesCompleted    int64  `json:"files_completed,omitempty"`
	FilesFailed       int64  `json:"files_failed,omitempty"`
	RecordsRead       int64  `json:"records_read,omitempty"`
	BytesRead         int64  `json:"bytes_read,omitempty"`
	RecordsWritten    int64  `json:"records_written,omitempty"`
	SegmentsCommitted int64  `json:"segments_committed,omitempty"`
	BytesCommitted    int64  `json:"bytes_committed,omitempty"`
}

// IncFilesProcessed counts a handled input file by status.
func (c *TaskCounters) IncFilesProcessed(status string) {
	if c.released.Load() {
		return
	}
	if status == "completed" {
		c.filesCompleted.Add(1)
	} else {
		c.filesFailed.Add(1)
	}
	c.metrics.FilesProcessed.WithLabelValues(c.task, status).Inc()
}

// AddRecordsRead counts records read from input files.
func (c *TaskCounters) AddRecordsRead(count int) {
	if c.released.Load() || count <= 0 {
		return
	}
	c.recordsRead.Add(int64(count))
	c.metrics.RecordsRead.WithLabelValues(c.task).Add(float64(count))
}

// AddBytesRead counts bytes read from input files, before decoding.
func (c *TaskCounters) AddBytesRead(n int64) {
	if c.released.Load() || n <= 0 {
		return
	}
	c.bytesRead.Add(n)
	c.metrics.BytesRead.WithLabelValues(c.task).Add(float64(n))
}

// ObserveFileReadDuration observes the time spent on one input file.
func (c *TaskCounters) ObserveFileReadDuration(duration float64) {
	if c.released.Load() {
		return
	}
	c.metrics.FileReadDuration.WithLabelValues(c.task).Observe(duration)
}

// AddRecordsWritten counts records appended to segment files.
func (c *TaskCounters) AddRecordsWritten(count int) {
	if c.released.Load() || count <= 0 {
		return
	}
	c.recordsWritten.Add(int64(count))
	c.metrics.RecordsWritten.WithLabelValues(c.task).Add(float64(count))
}

// ObserveSegmentCommitted counts a committed segment with its size and commit duration.
func (c *TaskCounters) ObserveSegmentCommitted(format string, sizeBytes int64, duration float64) {
	if c.released.Load() {
		return
	}
	c.segmentsCommitted.Add(1)
	c.bytesCommitted.Add(sizeBytes)
	c.metrics.SegmentsCommitted.WithLabelValues(c.task, format).Inc()
	c.metrics.SegmentSize.WithLabelValues(c.task, format).Observe(float64(sizeBytes))
	c.metrics.CommitDuration.WithLabelValues(c.task).Observe(duration)
}

// Snapshot returns the current counter values.
func (c *TaskCounters) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		Task:              c.task,
		Kind:              c.kind,
		FilesCompleted:    c.filesCompleted.Load(),
		FilesFailed:       c.filesFailed.Load(),
		RecordsRead:       c.recordsRead.Load(),
		BytesRead:         c.bytesRead.Load(),
		RecordsWritten:    c.recordsWritten.Load(),
		SegmentsCommitted: c.segmentsCommitted.Load(),
		BytesCommitted:    c.bytesCommitted.Load(),
	}
}

// Release drops the task's label values from every metric. It is idempotent.
func (c *TaskCounters) Release() {
	if c.released.Swap(true) {
		return
	}
	c.metrics.release(c)
}
