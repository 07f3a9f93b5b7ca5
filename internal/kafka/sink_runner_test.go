package kafka

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/IBM/sarama"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/connector"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

var sinkPartition = record.TopicPartition{Topic: "orders", Partition: 1}

func message(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     sinkPartition.Topic,
		Partition: sinkPartition.Partition,
		Offset:    offset,
		Value:     []byte(value),
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestSinkRunner(task connector.SinkTask, dlq connector.DLQPublisher, metrics ConsumerMetrics, maxPoll int) *SinkRunner {
	config := ConsumerConfig{
		GroupID:          "test-group",
		Topics:           []string{sinkPartition.Topic},
		MaxPollRecords:   maxPoll,
		CommitIntervalMS: int(time.Hour / time.Millisecond),
	}
	return NewSinkRunnerWithGroup(nil, config, task, dlq, discardLogger(), metrics)
}

func TestSinkHandler_ConsumeClaimBatchesAndMarks(t *testing.T) {
	task := newFakeSinkTask()
	metrics := newFakeMetrics()
	handler := &sinkHandler{runner: newTestSinkRunner(task, nil, metrics, 2)}
	session := newFakeSession(context.Background(), nil)
	claim := newFakeClaim(sinkPartition.Topic, sinkPartition.Partition,
		message(0, `{"id":1}`),
		message(1, `{"id":2}`),
		message(2, `{"id":3}`),
	)

	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}

	// The third record never filled a batch and is redelivered later.
	put := task.putRecords()
	if len(put) != 2 || put[0].Offset != 0 || put[1].Offset != 1 {
		t.Fatalf("put records = %+v, want offsets 0 and 1", put)
	}
	if offset, ok := session.markedOffset(sinkPartition); !ok || offset != 2 {
		t.Errorf("marked offset = %d, %v; want 2", offset, ok)
	}
	if got := metrics.count("consumed/orders/1"); got != 3 {
		t.Errorf("consumed = %d, want 3", got)
	}
}

func TestSinkHandler_ConsumeClaimDeadLettersUndecodable(t *testing.T) {
	task := newFakeSinkTask()
	dlq := &fakeDLQ{}
	metrics := newFakeMetrics()
	handler := &sinkHandler{runner: newTestSinkRunner(task, dlq, metrics, 2)}
	session := newFakeSession(context.Background(), nil)
	claim := newFakeClaim(sinkPartition.Topic, sinkPartition.Partition,
		message(0, `{"id":1}`),
		message(1, `not json`),
		message(2, `{}`),
		message(3, `{"id":4}`),
	)

	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}

	if !slices.Equal(dlq.offsets, []int64{1, 2}) {
		t.Errorf("dead-lettered offsets = %v, want [1 2]", dlq.offsets)
	}
	if got := metrics.count("dlq/orders"); got != 2 {
		t.Errorf("dlq metric = %d, want 2", got)
	}
	put := task.putRecords()
	if len(put) != 2 || put[1].Offset != 3 {
		t.Errorf("put records = %+v, want offsets 0 and 3", put)
	}
}

func TestSinkHandler_ConsumeClaimStopsWhenDeadLetterFails(t *testing.T) {
	dlqErr := errors.New("dlq unavailable")
	handler := &sinkHandler{runner: newTestSinkRunner(newFakeSinkTask(), &fakeDLQ{err: dlqErr}, nil, 10)}
	claim := newFakeClaim(sinkPartition.Topic, sinkPartition.Partition, message(0, `[1,2]`))

	err := handler.ConsumeClaim(newFakeSession(context.Background(), nil), claim)
	if !errors.Is(err, dlqErr) {
		t.Errorf("ConsumeClaim() error = %v, want %v", err, dlqErr)
	}
}

func TestSinkHandler_ConsumeClaimStopsWhenPutFails(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantFatal bool
	}{
		{
			name:      "retryable storage failure restarts the session",
			err:       &apperrors.StorageError{Operation: "write", Path: "tmp/orders/partition1/window.csv", Err: errors.New("disk full")},
			wantFatal: false,
		},
		{
			name: "duplicate segment stops the runner",
			err: &apperrors.CommitError{Partition: sinkPartition, Err: &apperrors.StorageError{
				Operation: "move", Path: "topics/orders/partition1/orders-1-000000000.csv", Err: apperrors.ErrDuplicateFile,
			}},
			wantFatal: true,
		},
		{
			name:      "unknown failure stops the runner",
			err:       errors.New("storage down"),
			wantFatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newFakeSinkTask()
			task.putErr = tt.err
			cancelled := false
			handler := &sinkHandler{
				runner: newTestSinkRunner(task, nil, nil, 1),
				cancel: func() { cancelled = true },
			}
			session := newFakeSession(context.Background(), nil)
			claim := newFakeClaim(sinkPartition.Topic, sinkPartition.Partition, message(0, `{"id":1}`))

			if err := handler.ConsumeClaim(session, claim); !errors.Is(err, tt.err) {
				t.Errorf("ConsumeClaim() error = %v, want %v", err, tt.err)
			}
			if _, ok := session.markedOffset(sinkPartition); ok {
				t.Error("no offset should be marked after a failed put")
			}
			if cancelled != tt.wantFatal {
				t.Errorf("runner cancelled = %v, want %v", cancelled, tt.wantFatal)
			}
			if got := handler.failure() != nil; got != tt.wantFatal {
				t.Errorf("failure recorded = %v, want %v", got, tt.wantFatal)
			}
		})
	}
}

func TestSinkHandler_ConsumeClaimFlushesOnTick(t *testing.T) {
	task := newFakeSinkTask()
	runner := newTestSinkRunner(task, nil, nil, 100)
	runner.config.CommitIntervalMS = 10
	handler := &sinkHandler{runner: runner}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := newFakeSession(ctx, nil)
	claim := &fakeClaim{
		topic:     sinkPartition.Topic,
		partition: sinkPartition.Partition,
		messages:  make(chan *sarama.ConsumerMessage, 1),
	}
	claim.messages <- message(7, `{"id":8}`)

	done := make(chan error, 1)
	go func() { done <- handler.ConsumeClaim(session, claim) }()

	deadline := time.After(5 * time.Second)
	for {
		if offset, ok := session.markedOffset(sinkPartition); ok && offset == 8 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("offset 8 was never marked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("ConsumeClaim() error = %v", err)
	}
}

func TestSinkHandler_SetupAndCleanup(t *testing.T) {
	task := newFakeSinkTask()
	metrics := newFakeMetrics()
	handler := &sinkHandler{runner: newTestSinkRunner(task, nil, metrics, 10)}
	session := newFakeSession(context.Background(), map[string][]int32{
		"orders":  {1, 0},
		"refunds": {0},
	})

	if err := handler.Setup(session); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	want := []record.TopicPartition{
		{Topic: "orders", Partition: 0},
		{Topic: "orders", Partition: 1},
		{Topic: "refunds", Partition: 0},
	}
	if !slices.Equal(task.opened, want) {
		t.Errorf("opened = %v, want %v", task.opened, want)
	}
	if got := metrics.count("rebalances/test-group"); got != 1 {
		t.Errorf("rebalances = %d, want 1", got)
	}

	task.next[sinkPartition] = 12
	if err := handler.Cleanup(session); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if !slices.Equal(task.closed, want) {
		t.Errorf("closed = %v, want %v", task.closed, want)
	}
	if offset, _ := session.markedOffset(sinkPartition); offset != 12 {
		t.Errorf("marked offset = %d, want 12", offset)
	}
}

func TestSinkRunner_Decode(t *testing.T) {
	runner := newTestSinkRunner(newFakeSinkTask(), nil, nil, 10)

	msg := message(5, `{"b":"x","a":2}`)
	msg.Key = []byte("k")
	rec, err := runner.decode(msg)
	if err != nil {
		t.Fatalf("decode() error = %v", err)
	}
	if !slices.Equal(rec.Row.Names(), []string{"b", "a"}) {
		t.Errorf("row names = %v, want [b a]", rec.Row.Names())
	}
	if rec.Offset != 5 || rec.TopicPartition() != sinkPartition || string(rec.Key) != "k" {
		t.Errorf("record = %+v", rec)
	}
	if rec.TimestampType != record.TimestampCreateTime {
		t.Errorf("TimestampType = %s, want CREATE_TIME", rec.TimestampType)
	}

	untimed := message(6, `{"a":1}`)
	untimed.Timestamp = time.Time{}
	if rec, _ := runner.decode(untimed); rec.TimestampType != record.TimestampNone {
		t.Errorf("TimestampType = %s, want NO_TIMESTAMP_TYPE", rec.TimestampType)
	}

	for _, value := range []string{`not json`, `[1]`, `{}`, `{"a":1,"a":2}`} {
		if _, err := runner.decode(message(7, value)); err == nil {
			t.Errorf("decode(%s) should fail", value)
		}
	}
}

func TestClaimedPartitions(t *testing.T) {
	got := claimedPartitions(map[string][]int32{"b": {2, 0}, "a": {1}})
	want := []record.TopicPartition{{Topic: "a", Partition: 1}, {Topic: "b", Partition: 0}, {Topic: "b", Partition: 2}}
	if !slices.Equal(got, want) {
		t.Errorf("claimedPartitions() = %v, want %v", got, want)
	}
}
