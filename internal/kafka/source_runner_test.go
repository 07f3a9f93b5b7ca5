package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// fakeSourceTask hands out its batches in order and cancels the run once
// they are exhausted.
type fakeSourceTask struct {
	batches [][]record.SourceRecord
	cancel  context.CancelFunc
	started bool
	stopped bool
}

func (f *fakeSourceTask) Start(ctx context.Context) error {
	f.started = true
	return nil
}

func (f *fakeSourceTask) Poll(ctx context.Context) ([]record.SourceRecord, error) {
	if len(f.batches) == 0 {
		f.cancel()
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSourceTask) Stop() error {
	f.stopped = true
	return nil
}

type fakeSender struct {
	mu       sync.Mutex
	failures int
	err      error
	sent     []record.SourceRecord
	calls    int
	onSend   func()
}

func (s *fakeSender) Send(ctx context.Context, records []record.SourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.onSend != nil {
		s.onSend()
	}
	if s.err != nil {
		return s.err
	}
	if s.failures != 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, records...)
	return nil
}

type fakeOffsetWriter struct {
	commits []string
}

func (w *fakeOffsetWriter) Commit(ctx context.Context, partition map[string]string, offset map[string]any) error {
	w.commits = append(w.commits, fmt.Sprintf("%s=%v", partition["path"], offset["offset"]))
	return nil
}

func fileRecord(t *testing.T, path string, offset int64) record.SourceRecord {
	t.Helper()

	rec, err := record.NewSourceRecord("orders", record.NewRow(record.Cell{Name: "id", Value: offset})).
		SourcePartition(map[string]string{"path": path}).
		SourceOffset(map[string]any{"offset": offset}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return rec
}

func TestSourceRunner_DeliversAndCommitsLastOffsets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := &fakeSourceTask{
		cancel: cancel,
		batches: [][]record.SourceRecord{
			{fileRecord(t, "in/a.csv", 1), fileRecord(t, "in/a.csv", 2), fileRecord(t, "in/b.csv", 1)},
			{fileRecord(t, "in/c.csv", 1)},
		},
	}
	sender := &fakeSender{}
	offsets := &fakeOffsetWriter{}
	runner := NewSourceRunner(task, sender, offsets, SourceRunnerConfig{PollInterval: time.Millisecond}, discardLogger())

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !task.started || !task.stopped {
		t.Errorf("started = %v, stopped = %v; want both", task.started, task.stopped)
	}
	if len(sender.sent) != 4 {
		t.Errorf("sent %d records, want 4", len(sender.sent))
	}
	want := []string{"in/a.csv=2", "in/b.csv=1", "in/c.csv=1"}
	if fmt.Sprint(offsets.commits) != fmt.Sprint(want) {
		t.Errorf("commits = %v, want %v", offsets.commits, want)
	}
}

func TestSourceRunner_RetriesFailedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := &fakeSourceTask{
		cancel:  cancel,
		batches: [][]record.SourceRecord{{fileRecord(t, "in/a.csv", 1)}},
	}
	sender := &fakeSender{failures: 2}
	offsets := &fakeOffsetWriter{}
	config := SourceRunnerConfig{PollInterval: time.Millisecond, MaxBackoff: 10 * time.Millisecond}

	if err := NewSourceRunner(task, sender, offsets, config, discardLogger()).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if sender.calls != 3 {
		t.Errorf("Send calls = %d, want 3", sender.calls)
	}
	if len(offsets.commits) != 1 {
		t.Errorf("commits = %v, want one", offsets.commits)
	}
}

func TestSourceRunner_GivesUpOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := &fakeSourceTask{
		cancel:  cancel,
		batches: [][]record.SourceRecord{{fileRecord(t, "in/a.csv", 1)}},
	}
	sender := &fakeSender{failures: -1, onSend: cancel}
	offsets := &fakeOffsetWriter{}

	err := NewSourceRunner(task, sender, offsets, SourceRunnerConfig{}, discardLogger()).Run(ctx)
	if err == nil {
		t.Fatal("expected error when delivery is abandoned")
	}
	if len(offsets.commits) != 0 {
		t.Errorf("commits = %v, want none", offsets.commits)
	}
	if !task.stopped {
		t.Error("task should be stopped")
	}
}

func TestSourceRunner_StopsWhenProducerClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := &fakeSourceTask{
		cancel:  cancel,
		batches: [][]record.SourceRecord{{fileRecord(t, "in/a.csv", 1)}},
	}
	sender := &fakeSender{err: apperrors.ErrProducerClosed}
	offsets := &fakeOffsetWriter{}

	err := NewSourceRunner(task, sender, offsets, SourceRunnerConfig{}, discardLogger()).Run(ctx)
	if !errors.Is(err, apperrors.ErrProducerClosed) {
		t.Fatalf("Run() error = %v, want ErrProducerClosed", err)
	}
	if sender.calls != 1 {
		t.Errorf("Send calls = %d, want 1", sender.calls)
	}
	if len(offsets.commits) != 0 {
		t.Errorf("commits = %v, want none", offsets.commits)
	}
}
