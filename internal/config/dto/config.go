package dto

import (
	"fmt"

	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Run modes.
const (
	ModeSource = "source"
	ModeSink   = "sink"
	ModeBoth   = "both"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Connector     ConnectorConfig     `mapstructure:"connector"`
	Storage       StorageConfig       `mapstructure:"storage"`
	FileRotation  FileRotationConfig  `mapstructure:"file_rotation"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Mode        string `mapstructure:"mode"`
}

// RunsSource reports whether the source connector is enabled.
func (a ApplicationInfo) RunsSource() bool {
	return a.Mode == ModeSource || a.Mode == ModeBoth
}

// RunsSink reports whether the sink connector is enabled.
func (a ApplicationInfo) RunsSink() bool {
	return a.Mode == ModeSink || a.Mode == ModeBoth
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers      []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol      string         `mapstructure:"security_protocol"`
	SASLMechanism         string         `mapstructure:"sasl_mechanism"`
	SASLUsername          string         `mapstructure:"sasl_username"`
	SASLPassword          string         `mapstructure:"sasl_password"`
	AWSRegion             string         `mapstructure:"aws_region"`
	TLSInsecureSkipVerify bool           `mapstructure:"tls_insecure_skip_verify"`
	Producer              ProducerConfig `mapstructure:"producer"`
	Consumer              ConsumerConfig `mapstructure:"consumer"`
	DLQ                   DLQConfig      `mapstructure:"dlq"`
}

// ProducerConfig contains Kafka producer configuration
type ProducerConfig struct {
	RequiredAcks string `mapstructure:"required_acks"`
	Compression  string `mapstructure:"compression"`
	MaxRetries   int    `mapstructure:"max_retries"`
	Idempotent   bool   `mapstructure:"idempotent"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	MaxPollRecords      int      `mapstructure:"max_poll_records"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
	CommitIntervalMS    int      `mapstructure:"commit_interval_ms"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// ConnectorConfig contains the source and sink connector settings
type ConnectorConfig struct {
	Source SourceConfig `mapstructure:"source"`
	Sink   SinkConfig   `mapstructure:"sink"`
}

// SourceConfig configures the CSV source connector
type SourceConfig struct {
	TaskID          string         `mapstructure:"task_id"`
	InputFolder     string         `mapstructure:"input_folder"`
	CompletedFolder string         `mapstructure:"completed_folder"`
	ErrorFolder     string         `mapstructure:"error_folder"`
	Topics          []string       `mapstructure:"topics"`
	Encoding        string         `mapstructure:"encoding"`
	MaxFilesPerPoll int            `mapstructure:"max_files_per_poll"`
	PollIntervalMS  int            `mapstructure:"poll_interval_ms"`
	Schema          []ColumnConfig `mapstructure:"schema"`
}

// Columns returns the schema as record columns with normalized type names.
func (c SourceConfig) Columns() []record.Column {
	if len(c.Schema) == 0 {
		return nil
	}
	columns := make([]record.Column, len(c.Schema))
	for i, col := range c.Schema {
		columns[i] = col.Column()
	}
	return columns
}

// ColumnConfig configures one schema column
type ColumnConfig struct {
	Name     string `mapstructure:"name"`
	NewName  string `mapstructure:"new_name"`
	DataType string `mapstructure:"data_type"`
	Order    int    `mapstructure:"order"`
}

// Column converts the configuration to a record column.
func (c ColumnConfig) Column() record.Column {
	return record.Column{
		Name:     c.Name,
		NewName:  c.NewName,
		DataType: record.ParseDataType(c.DataType),
		Order:    c.Order,
	}
}

// SinkConfig configures the CSV sink connector
type SinkConfig struct {
	TaskID      string `mapstructure:"task_id"`
	TopicsDir   string `mapstructure:"topics_dir"`
	TmpDir      string `mapstructure:"tmp_dir"`
	Format      string `mapstructure:"format"`
	Compression string `mapstructure:"compression"`
	CSVHeader   bool   `mapstructure:"csv_header"`
	Encoding    string `mapstructure:"encoding"`
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	S3      S3Config    `mapstructure:"s3"`
	Azure   AzureConfig `mapstructure:"azure"`
	GCS     GCSConfig   `mapstructure:"gcs"`
	File    FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	BasePath    string `mapstructure:"base_path"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	Endpoint             string `mapstructure:"endpoint"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// FileRotationConfig contains file rotation settings. Zero disables a threshold.
type FileRotationConfig struct {
	FlushSize        int    `mapstructure:"flush_size"`
	MaxFileSizeMB    int64  `mapstructure:"max_file_size_mb"`
	RotateIntervalMS int64  `mapstructure:"rotate_interval_ms"`
	Strategy         string `mapstructure:"strategy"`
}

// CheckpointConfig contains source offset checkpoint settings
type CheckpointConfig struct {
	Dir      string `mapstructure:"dir"`
	FileName string `mapstructure:"file_name"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
	StatusPath    string `mapstructure:"status_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Storage.Backend == "" {
		return fmt.Errorf("storage backend is required")
	}
	return nil
}

// Validate validates source connector configuration.
func (c *SourceConfig) Validate() error {
	if c.InputFolder == "" {
		return fmt.Errorf("source input folder is required")
	}
	if c.ErrorFolder == "" {
		return fmt.Errorf("source error folder is required")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("source topics are required")
	}
	if c.InputFolder == c.CompletedFolder || c.InputFolder == c.ErrorFolder {
		return fmt.Errorf("source input folder must differ from completed and error folders")
	}
	return nil
}

// Validate validates sink connector configuration.
func (c *SinkConfig) Validate() error {
	if c.TopicsDir == "" {
		return fmt.Errorf("sink topics dir is required")
	}
	if c.TmpDir == "" {
		return fmt.Errorf("sink tmp dir is required")
	}
	if c.TopicsDir == c.TmpDir {
		return fmt.Errorf("sink tmp dir must differ from topics dir")
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
