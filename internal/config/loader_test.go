package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jittakal/kafcsvconnect/internal/config/dto"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

const testConfig = `
application:
  name: test-app
  version: 1.0.0
  mode: both

kafka:
  bootstrap_servers:
    - localhost:9092
  consumer:
    group_id: test-group
    topics:
      - orders

connector:
  source:
    input_folder: /data/in
    completed_folder: /data/done
    error_folder: /data/error
    topics:
      - orders
    schema:
      - name: id
        data_type: long
        order: 0
      - name: amount
        new_name: total
        data_type: DOUBLE
        order: 1
  sink:
    format: avro
    compression: deflate

storage:
  backend: file
  file:
    base_path: ${KAFCSV_TEST_BASE}

file_rotation:
  flush_size: 50
  strategy: all
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}
	return configFile
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil {
		t.Fatal("expected non-nil loader")
	}
	if loader.v == nil {
		t.Fatal("expected non-nil viper instance")
	}
}

func TestLoader_LoadWithValidConfig(t *testing.T) {
	t.Setenv("KAFCSV_TEST_BASE", "/tmp/kafcsv")
	configFile := writeConfig(t, testConfig)

	config, err := NewLoader().Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Application.Name != "test-app" {
		t.Errorf("Application.Name = %s, want test-app", config.Application.Name)
	}
	if config.Storage.File.BasePath != "/tmp/kafcsv" {
		t.Errorf("Storage.File.BasePath = %s, want /tmp/kafcsv", config.Storage.File.BasePath)
	}
	if config.Connector.Sink.Format != "avro" {
		t.Errorf("Connector.Sink.Format = %s, want avro", config.Connector.Sink.Format)
	}
	if config.FileRotation.FlushSize != 50 || config.FileRotation.Strategy != "all" {
		t.Errorf("FileRotation = %+v, want flush_size 50 strategy all", config.FileRotation)
	}

	columns := config.Connector.Source.Columns()
	if len(columns) != 2 {
		t.Fatalf("len(columns) = %d, want 2", len(columns))
	}
	if columns[0].DataType != record.TypeLong {
		t.Errorf("columns[0].DataType = %s, want LONG", columns[0].DataType)
	}
	if columns[1].OutputName() != "total" {
		t.Errorf("columns[1].OutputName() = %s, want total", columns[1].OutputName())
	}
}

func TestLoader_LoadAppliesDefaults(t *testing.T) {
	t.Setenv("KAFCSV_TEST_BASE", "/tmp/kafcsv")
	configFile := writeConfig(t, testConfig)

	config, err := NewLoader().Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Connector.Source.Encoding != "UTF-8" {
		t.Errorf("Source.Encoding = %s, want UTF-8", config.Connector.Source.Encoding)
	}
	if config.Connector.Sink.TopicsDir != "topics" || config.Connector.Sink.TmpDir != "tmp" {
		t.Errorf("Sink dirs = %s/%s, want topics/tmp", config.Connector.Sink.TopicsDir, config.Connector.Sink.TmpDir)
	}
	if config.Checkpoint.Dir != "checkpoint" {
		t.Errorf("Checkpoint.Dir = %s, want checkpoint", config.Checkpoint.Dir)
	}
	if config.Observability.Health.StatusPath != "/status" {
		t.Errorf("Health.StatusPath = %s, want /status", config.Observability.Health.StatusPath)
	}
}

func TestLoader_LoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("KAFCSV_TEST_BASE", "/tmp/kafcsv")
	configFile := writeConfig(t, strings.Replace(testConfig, "data_type: long", "data_type: date", 1))

	if _, err := NewLoader().Load(configFile); err == nil {
		t.Fatal("expected error for unsupported column type")
	}
}

func TestLoader_LoadWithMissingFile(t *testing.T) {
	// Defaults alone carry no bootstrap servers.
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "bootstrap_servers") {
		t.Errorf("error = %v, want bootstrap_servers failure", err)
	}
}

func validConfig() *dto.ApplicationConfig {
	return &dto.ApplicationConfig{
		Application: dto.ApplicationInfo{Name: "test", Mode: dto.ModeBoth},
		Kafka: dto.KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			Consumer: dto.ConsumerConfig{
				GroupID: "test-group",
				Topics:  []string{"orders"},
			},
		},
		Connector: dto.ConnectorConfig{
			Source: dto.SourceConfig{
				InputFolder:     "/in",
				CompletedFolder: "/done",
				ErrorFolder:     "/error",
				Topics:          []string{"orders"},
				Schema: []dto.ColumnConfig{
					{Name: "id", DataType: "LONG", Order: 0},
				},
			},
			Sink: dto.SinkConfig{
				TopicsDir: "topics",
				TmpDir:    "tmp",
				Format:    "csv",
			},
		},
		Storage: dto.StorageConfig{
			Backend: "file",
			File:    dto.FileConfig{BasePath: "/tmp/test"},
		},
		FileRotation: dto.FileRotationConfig{Strategy: "any"},
		Checkpoint:   dto.CheckpointConfig{Dir: "/tmp/checkpoint"},
		Observability: dto.ObservabilityConfig{
			Metrics: dto.MetricsConfig{Port: 9090},
			Health:  dto.HealthConfig{Port: 8080},
		},
	}
}

func TestLoader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *dto.ApplicationConfig)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *dto.ApplicationConfig) {},
		},
		{
			name:    "missing bootstrap servers",
			mutate:  func(c *dto.ApplicationConfig) { c.Kafka.BootstrapServers = nil },
			wantErr: true,
		},
		{
			name:    "unknown mode",
			mutate:  func(c *dto.ApplicationConfig) { c.Application.Mode = "mirror" },
			wantErr: true,
		},
		{
			name:    "source without input folder",
			mutate:  func(c *dto.ApplicationConfig) { c.Connector.Source.InputFolder = "" },
			wantErr: true,
		},
		{
			name: "sink only ignores source settings",
			mutate: func(c *dto.ApplicationConfig) {
				c.Application.Mode = dto.ModeSink
				c.Connector.Source = dto.SourceConfig{}
			},
		},
		{
			name: "source only ignores sink settings",
			mutate: func(c *dto.ApplicationConfig) {
				c.Application.Mode = dto.ModeSource
				c.Connector.Sink = dto.SinkConfig{}
				c.Kafka.Consumer = dto.ConsumerConfig{}
			},
		},
		{
			name:    "unsupported source encoding",
			mutate:  func(c *dto.ApplicationConfig) { c.Connector.Source.Encoding = "klingon" },
			wantErr: true,
		},
		{
			name: "duplicate schema column",
			mutate: func(c *dto.ApplicationConfig) {
				c.Connector.Source.Schema = append(c.Connector.Source.Schema,
					dto.ColumnConfig{Name: "id", DataType: "STRING", Order: 1})
			},
			wantErr: true,
		},
		{
			name:    "source without checkpoint dir",
			mutate:  func(c *dto.ApplicationConfig) { c.Checkpoint.Dir = "" },
			wantErr: true,
		},
		{
			name:    "sink without topics",
			mutate:  func(c *dto.ApplicationConfig) { c.Kafka.Consumer.Topics = nil },
			wantErr: true,
		},
		{
			name:    "unsupported sink format",
			mutate:  func(c *dto.ApplicationConfig) { c.Connector.Sink.Format = "orc" },
			wantErr: true,
		},
		{
			name: "compression not supported by format",
			mutate: func(c *dto.ApplicationConfig) {
				c.Connector.Sink.Compression = "zstd"
			},
			wantErr: true,
		},
		{
			name: "parquet with zstd",
			mutate: func(c *dto.ApplicationConfig) {
				c.Connector.Sink.Format = "parquet"
				c.Connector.Sink.Compression = "zstd"
			},
		},
		{
			name:    "unsupported rotation strategy",
			mutate:  func(c *dto.ApplicationConfig) { c.FileRotation.Strategy = "some" },
			wantErr: true,
		},
		{
			name:    "negative flush size",
			mutate:  func(c *dto.ApplicationConfig) { c.FileRotation.FlushSize = -1 },
			wantErr: true,
		},
		{
			name: "s3 without bucket",
			mutate: func(c *dto.ApplicationConfig) {
				c.Storage.Backend = "s3"
				c.Storage.S3.Region = "us-east-1"
			},
			wantErr: true,
		},
		{
			name:    "unsupported storage backend",
			mutate:  func(c *dto.ApplicationConfig) { c.Storage.Backend = "ftp" },
			wantErr: true,
		},
		{
			name:    "invalid metrics port",
			mutate:  func(c *dto.ApplicationConfig) { c.Observability.Metrics.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid health port",
			mutate:  func(c *dto.ApplicationConfig) { c.Observability.Health.Port = 0 },
			wantErr: true,
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := loader.Validate(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_setDefaults(t *testing.T) {
	loader := NewLoader()
	loader.setDefaults()

	if loader.v.GetString("application.name") != "kafcsvconnect" {
		t.Error("default application.name not set correctly")
	}
	if loader.v.GetString("application.mode") != dto.ModeBoth {
		t.Error("default application.mode not set correctly")
	}
	if loader.v.GetString("connector.sink.format") != "csv" {
		t.Error("default connector.sink.format not set correctly")
	}
	if loader.v.GetString("file_rotation.strategy") != "any" {
		t.Error("default file_rotation.strategy not set correctly")
	}
}
