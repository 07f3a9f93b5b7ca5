package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jittakal/kafcsvconnect/internal/checkpoint"
	"github.com/jittakal/kafcsvconnect/internal/config"
	"github.com/jittakal/kafcsvconnect/internal/config/dto"
	"github.com/jittakal/kafcsvconnect/internal/encoder"
	"github.com/jittakal/kafcsvconnect/internal/kafka"
	"github.com/jittakal/kafcsvconnect/internal/observability"
	"github.com/jittakal/kafcsvconnect/internal/server"
	"github.com/jittakal/kafcsvconnect/internal/sink"
	"github.com/jittakal/kafcsvconnect/internal/source"
	"github.com/jittakal/kafcsvconnect/internal/storage"
	"github.com/jittakal/kafcsvconnect/pkg/record"
	fsapi "github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Component names reported by the health endpoints.
const (
	componentSource = "source"
	componentSink   = "sink"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

type cleanup struct {
	name string
	fn   func() error
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Load configuration
	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize observability
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	logger.Info("starting kafka csv connector",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
		"mode", cfg.Application.Mode,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Cleanups run in reverse registration order once the connectors stopped.
	var cleanups []cleanup
	addCleanup := func(name string, fn func() error) {
		cleanups = append(cleanups, cleanup{name: name, fn: fn})
		logger.Debug("registered cleanup", "component", name)
	}
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i].fn(); err != nil {
				logger.Error("cleanup failed", "component", cleanups[i].name, "error", err)
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs, err := storage.New(ctx, storageConfig(cfg), observability.Component(logger, "storage"), metrics)
	if err != nil {
		return fmt.Errorf("failed to create %s storage: %w", cfg.Storage.Backend, err)
	}
	addCleanup("storage", fs.Close)

	var components []string
	if cfg.Application.RunsSource() {
		components = append(components, componentSource)
	}
	if cfg.Application.RunsSink() {
		components = append(components, componentSink)
	}
	checker := server.NewComponentChecker(components...)

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Application.RunsSource() {
		runner, err := newSourceRunner(cfg, fs, logger, metrics, addCleanup)
		if err != nil {
			return err
		}
		group.Go(runComponent(groupCtx, checker, componentSource, runner.Run))
	}

	if cfg.Application.RunsSink() {
		runner, err := newSinkRunner(cfg, fs, logger, metrics, addCleanup)
		if err != nil {
			return err
		}
		group.Go(runComponent(groupCtx, checker, componentSink, runner.Run))
	}

	// Start HTTP server
	httpServer := server.NewServer(
		server.Config{
			HealthPort:    cfg.Observability.Health.Port,
			MetricsPort:   cfg.Observability.Metrics.Port,
			LivenessPath:  cfg.Observability.Health.LivenessPath,
			ReadinessPath: cfg.Observability.Health.ReadinessPath,
			StatusPath:    cfg.Observability.Health.StatusPath,
			MetricsPath:   cfg.Observability.Metrics.Path,

			DisableMetrics: !cfg.Observability.Metrics.Enabled,
		},
		checker,
		metrics,
		registry,
		observability.Component(logger, "http"),
	)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	logger.Info("application started successfully")

	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("connector failed", "error", err)
		}
		return err
	case <-ctx.Done():
		logger.Info("received termination signal")
	}

	// Graceful shutdown: connectors flush and commit what they hold.
	grace := time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second
	logger.Info("initiating graceful shutdown", "grace_period", grace)

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(grace):
		return fmt.Errorf("connectors did not stop within %s", grace)
	}

	logger.Info("application stopped successfully")
	return nil
}

// runComponent runs fn as a named component and mirrors its lifecycle in checker.
func runComponent(
	ctx context.Context,
	checker *server.ComponentChecker,
	name string,
	fn func(context.Context) error,
) func() error {
	return func() error {
		checker.Set(name, server.StateRunning)
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			checker.Set(name, server.StateFailed)
			return fmt.Errorf("%s connector: %w", name, err)
		}
		checker.Set(name, server.StateStopped)
		return nil
	}
}

func newSourceRunner(
	cfg *dto.ApplicationConfig,
	fs fsapi.FileSystem,
	logger *slog.Logger,
	metrics *observability.Metrics,
	addCleanup func(string, func() error),
) (*kafka.SourceRunner, error) {
	src := cfg.Connector.Source

	offsets, err := checkpoint.NewFileStore(checkpoint.Config{
		Dir:      cfg.Checkpoint.Dir,
		FileName: cfg.Checkpoint.FileName,
	}, observability.Component(logger, "checkpoint"))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	addCleanup("checkpoint", offsets.Close)

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		Security:         securityConfig(cfg),
		RequiredAcks:     cfg.Kafka.Producer.RequiredAcks,
		Compression:      cfg.Kafka.Producer.Compression,
		MaxRetries:       cfg.Kafka.Producer.MaxRetries,
		Idempotent:       cfg.Kafka.Producer.Idempotent,
	}, observability.Component(logger, "producer"), metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	addCleanup("kafka-producer", producer.Close)

	task := source.NewCSVSourceTask(
		source.TaskConfig{
			TaskID:          src.TaskID,
			InputFolder:     src.InputFolder,
			MaxFilesPerPoll: src.MaxFilesPerPoll,
			Reader: source.ReaderConfig{
				Topics:          src.Topics,
				Schema:          src.Columns(),
				Encoding:        src.Encoding,
				CompletedFolder: src.CompletedFolder,
				ErrorFolder:     src.ErrorFolder,
			},
		},
		fs,
		offsets,
		metrics,
		observability.Component(logger, "source"),
	)

	return kafka.NewSourceRunner(
		task,
		producer,
		offsets,
		kafka.SourceRunnerConfig{PollInterval: time.Duration(src.PollIntervalMS) * time.Millisecond},
		observability.Component(logger, "source-runner"),
	), nil
}

func newSinkRunner(
	cfg *dto.ApplicationConfig,
	fs fsapi.FileSystem,
	logger *slog.Logger,
	metrics *observability.Metrics,
	addCleanup func(string, func() error),
) (*kafka.SinkRunner, error) {
	snk := cfg.Connector.Sink

	// Get compression (default to format-specific default if not specified)
	format := record.FileFormat(snk.Format)
	compression := snk.Compression
	if compression == "" {
		compression = encoder.DefaultCompression(format)
	}

	provider, err := encoder.NewFactory(format, encoder.Options{
		Compression: compression,
		CSVHeader:   snk.CSVHeader,
		Encoding:    snk.Encoding,
	}).CreateProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s encoder: %w", format, err)
	}

	router := storage.NewRouter(snk.TopicsDir, snk.TmpDir)
	policy := storage.NewPolicy(storage.PolicyConfig{
		FlushSize:        cfg.FileRotation.FlushSize,
		MaxFileSizeMB:    cfg.FileRotation.MaxFileSizeMB,
		RotateIntervalMs: cfg.FileRotation.RotateIntervalMS,
		Strategy:         cfg.FileRotation.Strategy,
	})
	logger.Info("sink rotation configured",
		"format", format,
		"flush_size", cfg.FileRotation.FlushSize,
		"max_file_size_mb", cfg.FileRotation.MaxFileSizeMB,
		"rotate_interval", policy.Interval(),
		"strategy", cfg.FileRotation.Strategy,
	)

	task := sink.NewCSVSinkTask(
		sink.TaskConfig{TaskID: snk.TaskID},
		fs,
		router,
		policy,
		provider,
		metrics,
		observability.Component(logger, "sink"),
	)

	security := securityConfig(cfg)
	dlq, err := kafka.NewDLQPublisher(
		cfg.Kafka.BootstrapServers,
		security,
		kafka.DLQConfig{
			Enabled:     cfg.Kafka.DLQ.Enabled,
			TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
			MaxRetries:  cfg.Kafka.DLQ.MaxRetries,
		},
		observability.Component(logger, "dlq"),
		cfg.Application.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ publisher: %w", err)
	}
	addCleanup("dlq-publisher", dlq.Close)

	consumer := cfg.Kafka.Consumer
	runner, err := kafka.NewSinkRunner(
		kafka.ConsumerConfig{
			BootstrapServers:    cfg.Kafka.BootstrapServers,
			Security:            security,
			GroupID:             consumer.GroupID,
			Topics:              consumer.Topics,
			AutoOffsetReset:     consumer.AutoOffsetReset,
			MaxPollRecords:      consumer.MaxPollRecords,
			MaxPollIntervalMS:   consumer.MaxPollIntervalMS,
			SessionTimeoutMS:    consumer.SessionTimeoutMS,
			HeartbeatIntervalMS: consumer.HeartbeatIntervalMS,
			CommitIntervalMS:    consumer.CommitIntervalMS,
		},
		task,
		dlq,
		observability.Component(logger, "sink-runner"),
		metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink runner: %w", err)
	}
	return runner, nil
}

func securityConfig(cfg *dto.ApplicationConfig) kafka.SecurityConfig {
	return kafka.SecurityConfig{
		SecurityProtocol:      cfg.Kafka.SecurityProtocol,
		SASLMechanism:         cfg.Kafka.SASLMechanism,
		SASLUsername:          cfg.Kafka.SASLUsername,
		SASLPassword:          cfg.Kafka.SASLPassword,
		AWSRegion:             cfg.Kafka.AWSRegion,
		TLSInsecureSkipVerify: cfg.Kafka.TLSInsecureSkipVerify,
	}
}

// storageConfig maps the storage section to backend settings. Secrets that
// are not in the file are taken from the environment.
func storageConfig(cfg *dto.ApplicationConfig) storage.Config {
	s := cfg.Storage
	return storage.Config{
		Backend: s.Backend,
		File:    storage.FileConfig{BasePath: s.File.BasePath},
		S3: storage.S3Config{
			Bucket:       s.S3.Bucket,
			Prefix:       s.S3.BasePath,
			Region:       s.S3.Region,
			Endpoint:     s.S3.Endpoint,
			UsePathStyle: s.S3.UsePathStyle,
			SSEEnabled:   s.S3.SSEEnabled,
			SSEKMSKeyID:  s.S3.SSEKMSKeyID,
		},
		GCS: storage.GCSConfig{
			Bucket:               s.GCS.Bucket,
			Prefix:               s.GCS.BasePath,
			ProjectID:            s.GCS.ProjectID,
			CredentialsFile:      s.GCS.CredentialsFile,
			CredentialsJSON:      cmp.Or(s.GCS.CredentialsJSON, os.Getenv("GCP_CREDENTIALS_JSON")),
			Endpoint:             s.GCS.Endpoint,
			UseDefaultCredential: s.GCS.UseDefaultCredential,
		},
		Azure: storage.AzureConfig{
			AccountName:   s.Azure.AccountName,
			AccountKey:    cmp.Or(s.Azure.AccountKey, os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")),
			ContainerName: s.Azure.Container,
			Prefix:        s.Azure.BasePath,
			Endpoint:      s.Azure.Endpoint,
		},
	}
}
