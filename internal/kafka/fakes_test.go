package kafka

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafcsvconnect/pkg/record"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMetrics records every call by a flat "name/label" key.
type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{counts: make(map[string]int)}
}

func (m *fakeMetrics) inc(key string) {
	m.mu.Lock()
	m.counts[key]++
	m.mu.Unlock()
}

func (m *fakeMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *fakeMetrics) IncMessagesProduced(topic, status string) {
	m.inc("produced/" + topic + "/" + status)
}

func (m *fakeMetrics) IncMessagesConsumed(topic string, partition int32) {
	m.inc(fmt.Sprintf("consumed/%s/%d", topic, partition))
}

func (m *fakeMetrics) IncRebalances(groupID string) { m.inc("rebalances/" + groupID) }

func (m *fakeMetrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.inc(fmt.Sprintf("commits/%s/%d/%s", topic, partition, status))
}

func (m *fakeMetrics) SetPartitionsAssigned(topic string, count float64) {
	m.inc("assigned/" + topic)
}

func (m *fakeMetrics) IncDLQMessages(topic string) { m.inc("dlq/" + topic) }

// fakeSession implements sarama.ConsumerGroupSession.
type fakeSession struct {
	ctx    context.Context
	claims map[string][]int32

	mu     sync.Mutex
	marked map[record.TopicPartition]int64
}

func newFakeSession(ctx context.Context, claims map[string][]int32) *fakeSession {
	return &fakeSession{ctx: ctx, claims: claims, marked: make(map[record.TopicPartition]int64)}
}

func (s *fakeSession) Claims() map[string][]int32 { return s.claims }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) Commit() {}
func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tp := record.TopicPartition{Topic: topic, Partition: partition}
	if offset > s.marked[tp] {
		s.marked[tp] = offset
	}
}

func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, metadata)
}

func (s *fakeSession) markedOffset(tp record.TopicPartition) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.marked[tp]
	return offset, ok
}

// fakeClaim implements sarama.ConsumerGroupClaim over a buffered channel.
type fakeClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func newFakeClaim(topic string, partition int32, msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, msg := range msgs {
		ch <- msg
	}
	close(ch)
	return &fakeClaim{topic: topic, partition: partition, messages: ch}
}

func (c *fakeClaim) Topic() string { return c.topic }
func (c *fakeClaim) Partition() int32 { return c.partition }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// fakeSinkTask records what the runner hands it. PreCommit reports the offset
// after the last record put per partition.
type fakeSinkTask struct {
	mu      sync.Mutex
	opened  []record.TopicPartition
	closed  []record.TopicPartition
	puts    [][]record.SinkRecord
	started bool
	stopped bool
	putErr  error
	next    map[record.TopicPartition]int64
}

func newFakeSinkTask() *fakeSinkTask {
	return &fakeSinkTask{next: make(map[record.TopicPartition]int64)}
}

func (f *fakeSinkTask) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSinkTask) Open(ctx context.Context, partitions []record.TopicPartition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, partitions...)
	return nil
}

func (f *fakeSinkTask) Put(ctx context.Context, records []record.SinkRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, records)
	for _, rec := range records {
		f.next[rec.TopicPartition()] = rec.Offset + 1
	}
	return nil
}

func (f *fakeSinkTask) PreCommit(ctx context.Context) map[record.TopicPartition]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	offsets := make(map[record.TopicPartition]int64, len(f.next))
	for tp, offset := range f.next {
		offsets[tp] = offset
	}
	return offsets
}

func (f *fakeSinkTask) Close(ctx context.Context, partitions []record.TopicPartition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, partitions...)
	return nil
}

func (f *fakeSinkTask) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeSinkTask) putRecords() []record.SinkRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []record.SinkRecord
	for _, batch := range f.puts {
		all = append(all, batch...)
	}
	return all
}

// fakeDLQ records published messages.
type fakeDLQ struct {
	mu      sync.Mutex
	reasons []string
	offsets []int64
	err     error
}

func (d *fakeDLQ) Publish(ctx context.Context, tp record.TopicPartition, offset int64, key, value []byte, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.offsets = append(d.offsets, offset)
	d.reasons = append(d.reasons, reason)
	return nil
}

func (d *fakeDLQ) Close() error { return nil }
