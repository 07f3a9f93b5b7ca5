package storage

import (
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/jittakal/kafcsvconnect/pkg/record"
	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Ensure implementations satisfy interfaces.
var (
	_ storage.Router         = (*LayoutRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// LayoutRouter places committed segments under
// topicsDir/topic/partitionN/ and open windows under tmpDir.
type LayoutRouter struct {
	topicsDir string
	tmpDir    string
}

// NewRouter creates a new segment layout router.
func NewRouter(topicsDir, tmpDir string) *LayoutRouter {
	return &LayoutRouter{
		topicsDir: topicsDir,
		tmpDir:    tmpDir,
	}
}

// Directory returns the folder holding committed segments of tp.
func (r *LayoutRouter) Directory(tp record.TopicPartition) string {
	return path.Join(r.topicsDir, tp.Topic, fmt.Sprintf("partition%d", tp.Partition))
}

// Filename returns the segment name for a window starting at startOffset.
// Format: topic-partition-NNNNNNNNN.ext with a nine digit, zero padded offset.
func (r *LayoutRouter) Filename(tp record.TopicPartition, startOffset int64, extension string) string {
	return fmt.Sprintf("%s-%d-%09d.%s", tp.Topic, tp.Partition, startOffset, extension)
}

// TempPath returns a unique path for an open window of tp.
func (r *LayoutRouter) TempPath(tp record.TopicPartition, extension string) string {
	return path.Join(r.tmpDir, tp.Topic, fmt.Sprintf("partition%d", tp.Partition),
		uuid.NewString()+"."+extension)
}

// RotationStrategy combines the configured rotation thresholds.
type RotationStrategy string

const (
	// StrategyAny rotates when any configured threshold is reached.
	StrategyAny RotationStrategy = "any"
	// StrategyAll rotates only when every configured threshold is reached.
	StrategyAll RotationStrategy = "all"
)

// PolicyConfig configures rotation behavior. Zero disables a threshold.
type PolicyConfig struct {
	FlushSize        int
	MaxFileSizeMB    int64
	RotateIntervalMs int64
	Strategy         string
}

// NewPolicy creates a new rotation policy (alias for NewCompositePolicy).
func NewPolicy(config PolicyConfig) *CompositePolicy {
	return NewCompositePolicy(config)
}

// CompositePolicy rotates based on record count, size and window age.
type CompositePolicy struct {
	flushSize    int
	maxSizeBytes int64
	interval     time.Duration
	strategy     RotationStrategy
}

// NewCompositePolicy creates a new composite rotation policy.
func NewCompositePolicy(config PolicyConfig) *CompositePolicy {
	strategy := RotationStrategy(config.Strategy)
	if strategy != StrategyAll {
		strategy = StrategyAny
	}
	return &CompositePolicy{
		flushSize:    config.FlushSize,
		maxSizeBytes: config.MaxFileSizeMB * 1024 * 1024,
		interval:     time.Duration(config.RotateIntervalMs) * time.Millisecond,
		strategy:     strategy,
	}
}

// Interval returns the time threshold, zero when unbounded.
func (p *CompositePolicy) Interval() time.Duration {
	return p.interval
}

// ShouldRotate reports whether the window described by stats must be closed at now.
// An empty window never rotates.
func (p *CompositePolicy) ShouldRotate(stats record.FileStats, now time.Time) bool {
	if stats.RecordCount == 0 {
		return false
	}

	configured, tripped := 0, 0
	check := func(enabled, reached bool) {
		if enabled {
			configured++
			if reached {
				tripped++
			}
		}
	}

	check(p.flushSize > 0, stats.RecordCount >= p.flushSize)
	check(p.maxSizeBytes > 0, stats.SizeBytes >= p.maxSizeBytes)
	check(p.interval > 0, !stats.FirstWriteTime.IsZero() && now.Sub(stats.FirstWriteTime) >= p.interval)

	if configured == 0 {
		return false
	}
	if p.strategy == StrategyAll {
		return tripped == configured
	}
	return tripped > 0
}
