package source

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/internal/observability"
)

func newTestTask(fs *memFS, factory CounterFactory, maxFiles int) *CSVSourceTask {
	return NewCSVSourceTask(TaskConfig{
		TaskID:          "source-0",
		InputFolder:     "/input",
		MaxFilesPerPoll: maxFiles,
		Reader: ReaderConfig{
			Topics:          []string{"csv-topic"},
			CompletedFolder: "/completed",
			ErrorFolder:     "/error",
		},
	}, fs, newFakeOffsets(), factory, slog.Default())
}

func TestCSVSourceTask_StartValidatesFolders(t *testing.T) {
	tests := []struct {
		name   string
		config TaskConfig
	}{
		{"missing input folder", TaskConfig{Reader: ReaderConfig{ErrorFolder: "/error"}}},
		{"missing error folder", TaskConfig{InputFolder: "/input"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewCSVSourceTask(tt.config, newMemFS(), newFakeOffsets(), nil, slog.Default())
			if err := task.Start(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCSVSourceTask_PollReadsFilesInNameOrder(t *testing.T) {
	fs := newMemFS()
	fs.put("/input/b.csv", "id\n2\n")
	fs.put("/input/a.csv", "id\n1\n")
	fs.put("/input/.partial.csv", "id\n9\n")

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	task := newTestTask(fs, metrics, 0)
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer task.Stop()

	records, err := task.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].SourcePartition()[SourcePartitionKey] != "/input/a.csv" {
		t.Errorf("first record from %v, want /input/a.csv", records[0].SourcePartition())
	}
	if !fs.has("/input/.partial.csv") {
		t.Error("hidden files must not be picked up")
	}

	snapshots := metrics.Tasks()
	if len(snapshots) != 1 || snapshots[0].FilesCompleted != 2 || snapshots[0].RecordsRead != 2 || snapshots[0].BytesRead != 10 {
		t.Errorf("Tasks() = %+v", snapshots)
	}
}

func TestCSVSourceTask_PollHonoursMaxFiles(t *testing.T) {
	fs := newMemFS()
	fs.put("/input/a.csv", "id\n1\n")
	fs.put("/input/b.csv", "id\n2\n")
	fs.put("/input/c.csv", "id\n3\n")

	task := newTestTask(fs, nil, 2)
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer task.Stop()

	records, err := task.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
	if !fs.has("/input/c.csv") {
		t.Error("c.csv should wait for the next poll")
	}

	records, err = task.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("second poll len(records) = %d, want 1", len(records))
	}
}

func TestCSVSourceTask_PollEmptyFolder(t *testing.T) {
	task := newTestTask(newMemFS(), nil, 0)
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer task.Stop()

	records, err := task.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}

func TestCSVSourceTask_PollCancelled(t *testing.T) {
	fs := newMemFS()
	fs.put("/input/a.csv", "id\n1\n")

	task := newTestTask(fs, nil, 0)
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer task.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := task.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(records) != 0 || !fs.has("/input/a.csv") {
		t.Error("cancelled poll must not read files")
	}
}

func TestCSVSourceTask_StopReleasesCounters(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	task := newTestTask(newMemFS(), metrics, 0)

	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(metrics.Tasks()) != 1 {
		t.Fatalf("Tasks() = %v, want one live task", metrics.Tasks())
	}

	if err := task.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(metrics.Tasks()) != 0 {
		t.Errorf("Tasks() = %v, want none after Stop", metrics.Tasks())
	}

	if _, err := task.Poll(context.Background()); !errors.Is(err, apperrors.ErrTaskStopped) {
		t.Errorf("Poll() after Stop error = %v, want ErrTaskStopped", err)
	}
}
