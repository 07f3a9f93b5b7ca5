package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/kafcsvconnect/internal/config/dto"
	"github.com/jittakal/kafcsvconnect/internal/encoder"
	"github.com/jittakal/kafcsvconnect/internal/validator"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Only expand values that reference a variable.
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "kafcsvconnect")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")
	l.v.SetDefault("application.mode", dto.ModeBoth)

	// Kafka defaults
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.aws_region", "us-east-1")
	l.v.SetDefault("kafka.producer.required_acks", "all")
	l.v.SetDefault("kafka.producer.compression", "snappy")
	l.v.SetDefault("kafka.producer.max_retries", 5)
	l.v.SetDefault("kafka.producer.idempotent", true)
	l.v.SetDefault("kafka.consumer.group_id", "kafcsvconnect-sink")
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.max_poll_records", 500)
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.consumer.commit_interval_ms", 5000)
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")
	l.v.SetDefault("kafka.dlq.max_retries", 3)

	// Connector defaults
	l.v.SetDefault("connector.source.task_id", "csv-source-0")
	l.v.SetDefault("connector.source.encoding", encoder.DefaultEncoding)
	l.v.SetDefault("connector.source.max_files_per_poll", 10)
	l.v.SetDefault("connector.source.poll_interval_ms", 1000)
	l.v.SetDefault("connector.sink.task_id", "csv-sink-0")
	l.v.SetDefault("connector.sink.topics_dir", "topics")
	l.v.SetDefault("connector.sink.tmp_dir", "tmp")
	l.v.SetDefault("connector.sink.format", string(record.FormatCSV))
	l.v.SetDefault("connector.sink.csv_header", true)
	l.v.SetDefault("connector.sink.encoding", encoder.DefaultEncoding)

	// Storage defaults
	l.v.SetDefault("storage.backend", "file")
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", true)

	// File rotation defaults
	l.v.SetDefault("file_rotation.flush_size", 1000)
	l.v.SetDefault("file_rotation.max_file_size_mb", 0)
	l.v.SetDefault("file_rotation.rotate_interval_ms", 60000)
	l.v.SetDefault("file_rotation.strategy", "any")

	// Checkpoint defaults
	l.v.SetDefault("checkpoint.dir", "checkpoint")
	l.v.SetDefault("checkpoint.file_name", "offsets.json")

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")
	l.v.SetDefault("observability.health.status_path", "/status")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	// Kafka validation
	if len(config.Kafka.BootstrapServers) == 0 {
		return errors.New("kafka.bootstrap_servers is required")
	}

	switch config.Application.Mode {
	case dto.ModeSource, dto.ModeSink, dto.ModeBoth:
	default:
		return fmt.Errorf("unsupported application mode: %s", config.Application.Mode)
	}

	if config.Application.RunsSource() {
		if err := validateSource(config); err != nil {
			return err
		}
	}
	if config.Application.RunsSink() {
		if err := validateSink(config); err != nil {
			return err
		}
	}

	// Storage validation
	var err error
	switch config.Storage.Backend {
	case "s3":
		err = config.Storage.S3.Validate()
	case "azure":
		err = config.Storage.Azure.Validate()
	case "gcs":
		err = config.Storage.GCS.Validate()
	case "file":
		err = config.Storage.File.Validate()
	default:
		return fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}
	if err != nil {
		return fmt.Errorf("storage.%s: %w", config.Storage.Backend, err)
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}

func validateSource(config *dto.ApplicationConfig) error {
	source := config.Connector.Source
	if err := source.Validate(); err != nil {
		return fmt.Errorf("connector.source: %w", err)
	}
	if _, err := encoder.LookupEncoding(source.Encoding); err != nil {
		return fmt.Errorf("connector.source.encoding: %w", err)
	}
	if err := validator.NewSchemaValidator().Validate(source.Columns()); err != nil {
		return fmt.Errorf("connector.source.schema: %w", err)
	}
	if source.MaxFilesPerPoll < 0 {
		return fmt.Errorf("invalid connector.source.max_files_per_poll: %d", source.MaxFilesPerPoll)
	}
	if config.Checkpoint.Dir == "" {
		return errors.New("checkpoint.dir is required for the source connector")
	}
	return nil
}

func validateSink(config *dto.ApplicationConfig) error {
	sink := config.Connector.Sink
	if err := sink.Validate(); err != nil {
		return fmt.Errorf("connector.sink: %w", err)
	}
	if len(config.Kafka.Consumer.Topics) == 0 {
		return errors.New("kafka.consumer.topics is required for the sink connector")
	}
	if config.Kafka.Consumer.GroupID == "" {
		return errors.New("kafka.consumer.group_id is required for the sink connector")
	}

	format := record.FileFormat(sink.Format)
	if !slices.Contains(encoder.SupportedFormats(), format) {
		return fmt.Errorf("unsupported connector.sink.format: %s", sink.Format)
	}
	if sink.Compression != "" && !slices.Contains(encoder.SupportedCompressions(format), sink.Compression) {
		return fmt.Errorf("unsupported compression %s for format %s", sink.Compression, sink.Format)
	}
	if _, err := encoder.LookupEncoding(sink.Encoding); err != nil {
		return fmt.Errorf("connector.sink.encoding: %w", err)
	}

	// File rotation validation
	rotation := config.FileRotation
	if rotation.Strategy != "any" && rotation.Strategy != "all" {
		return fmt.Errorf("unsupported rotation strategy: %s", rotation.Strategy)
	}
	if rotation.FlushSize < 0 || rotation.MaxFileSizeMB < 0 || rotation.RotateIntervalMS < 0 {
		return errors.New("file_rotation thresholds must not be negative")
	}
	return nil
}
