package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// ProducerConfig contains Kafka producer configuration.
type ProducerConfig struct {
	BootstrapServers []string
	Security         SecurityConfig
	RequiredAcks     string
	Compression      string
	MaxRetries       int
	Idempotent       bool
}

// ProducerMetrics defines metrics operations for the producer.
type ProducerMetrics interface {
	IncMessagesProduced(topic string, status string)
}

// Producer sends source records to Kafka. Row payloads are encoded as JSON
// objects in column order.
type Producer struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
	metrics  ProducerMetrics
	mu       sync.RWMutex
	closed   bool
}

// NewProducer creates a producer connected to the configured brokers.
func NewProducer(config ProducerConfig, logger *slog.Logger, metrics ProducerMetrics) (*Producer, error) {
	saramaConfig, err := newProducerConfig(config)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("kafka producer created",
		"bootstrap_servers", config.BootstrapServers,
		"required_acks", config.RequiredAcks,
		"compression", config.Compression,
	)
	return NewProducerWithClient(producer, logger, metrics), nil
}

// NewProducerWithClient wraps an existing sarama producer.
func NewProducerWithClient(producer sarama.SyncProducer, logger *slog.Logger, metrics ProducerMetrics) *Producer {
	return &Producer{
		producer: producer,
		logger:   logger,
		metrics:  metrics,
	}
}

func newProducerConfig(config ProducerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Partitioner = newRecordPartitioner

	acks, err := requiredAcks(config.RequiredAcks)
	if err != nil {
		return nil, err
	}
	saramaConfig.Producer.RequiredAcks = acks

	codec, err := compressionCodec(config.Compression)
	if err != nil {
		return nil, err
	}
	saramaConfig.Producer.Compression = codec

	if config.MaxRetries > 0 {
		saramaConfig.Producer.Retry.Max = config.MaxRetries
	}
	if config.Idempotent {
		// Idempotence requires acks from all replicas and one request in flight.
		saramaConfig.Producer.Idempotent = true
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
		saramaConfig.Net.MaxOpenRequests = 1
	}

	if err := configureSecurity(saramaConfig, config.Security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

// Send produces records in order and returns once every one of them is acknowledged.
func (p *Producer) Send(ctx context.Context, records []record.SourceRecord) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return apperrors.ErrProducerClosed
	}
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	messages := make([]*sarama.ProducerMessage, 0, len(records))
	for _, rec := range records {
		msg, err := toProducerMessage(rec)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}

	if err := p.producer.SendMessages(messages); err != nil {
		p.countFailures(err, messages)
		if connectionLost(err) {
			err = fmt.Errorf("%w: %w", apperrors.ErrConnectionLost, err)
		}
		return fmt.Errorf("failed to send %d messages: %w", len(messages), err)
	}

	if p.metrics != nil {
		for _, msg := range messages {
			p.metrics.IncMessagesProduced(msg.Topic, "success")
		}
	}
	p.logger.Debug("produced records", "count", len(messages))
	return nil
}

func (p *Producer) countFailures(err error, messages []*sarama.ProducerMessage) {
	if p.metrics == nil {
		return
	}
	var perMessage sarama.ProducerErrors
	if !errors.As(err, &perMessage) {
		for _, msg := range messages {
			p.metrics.IncMessagesProduced(msg.Topic, "failure")
		}
		return
	}
	for _, failed := range perMessage {
		p.metrics.IncMessagesProduced(failed.Msg.Topic, "failure")
	}
}

// connectionLost reports whether err means no broker could be reached.
func connectionLost(err error) bool {
	lost := func(err error) bool {
		return errors.Is(err, sarama.ErrOutOfBrokers) || errors.Is(err, sarama.ErrNotConnected)
	}
	var perMessage sarama.ProducerErrors
	if errors.As(err, &perMessage) {
		for _, failed := range perMessage {
			if lost(failed.Err) {
				return true
			}
		}
	}
	return lost(err)
}

// Close closes the producer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.producer.Close(); err != nil {
		p.logger.Error("error closing producer", "error", err)
		return err
	}
	p.logger.Info("kafka producer closed")
	return nil
}

func toProducerMessage(rec record.SourceRecord) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(rec.Row())
	if err != nil {
		return nil, fmt.Errorf("failed to encode row for topic %s: %w", rec.Topic(), err)
	}

	msg := &sarama.ProducerMessage{
		Topic: rec.Topic(),
		Value: sarama.ByteEncoder(value),
	}
	if partition, ok := rec.Partition(); ok {
		msg.Partition = partition
		msg.Metadata = explicitPartition{}
	}
	if ts, ok := rec.Timestamp(); ok {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = time.Now()
	}
	return msg, nil
}

// explicitPartition marks messages whose partition was chosen by the record.
type explicitPartition struct{}

// recordPartitioner honours a partition pinned on the record and hashes the
// rest.
type recordPartitioner struct {
	fallback sarama.Partitioner
}

func newRecordPartitioner(topic string) sarama.Partitioner {
	return &recordPartitioner{fallback: sarama.NewHashPartitioner(topic)}
}

func (r *recordPartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if _, ok := msg.Metadata.(explicitPartition); ok {
		if msg.Partition < 0 || msg.Partition >= numPartitions {
			return -1, sarama.ErrInvalidPartition
		}
		return msg.Partition, nil
	}
	return r.fallback.Partition(msg, numPartitions)
}

func (r *recordPartitioner) RequiresConsistency() bool {
	return r.fallback.RequiresConsistency()
}

func requiredAcks(acks string) (sarama.RequiredAcks, error) {
	switch acks {
	case "", "all", "-1":
		return sarama.WaitForAll, nil
	case "1":
		return sarama.WaitForLocal, nil
	case "0":
		return sarama.NoResponse, nil
	default:
		return 0, fmt.Errorf("unsupported required acks: %s", acks)
	}
}

func compressionCodec(name string) (sarama.CompressionCodec, error) {
	switch name {
	case "", "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "snappy":
		return sarama.CompressionSnappy, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	default:
		return sarama.CompressionNone, fmt.Errorf("unsupported compression: %s", name)
	}
}
