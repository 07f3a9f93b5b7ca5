package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/connector"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ connector.DLQPublisher = (*DLQPublisher)(nil)

// DLQMessage is the value published to the dead letter topic.
type DLQMessage struct {
	OriginalKey       []byte    `json:"original_key,omitempty"`
	OriginalValue     []byte    `json:"original_value"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	FailureReason     string    `json:"failure_reason"`
	FailureTimestamp  time.Time `json:"failure_timestamp"`
	ProcessorID       string    `json:"processor_id"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
	MaxRetries  int
}

// Validate validates the DLQ configuration.
func (c DLQConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TopicSuffix == "" {
		return fmt.Errorf("topic suffix is required when DLQ is enabled")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// TopicFor returns the dead letter topic of topic.
func (c DLQConfig) TopicFor(topic string) string {
	return topic + c.TopicSuffix
}

// DLQPublisher publishes undecodable messages to a dead letter topic.
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *slog.Logger
	now         func() time.Time
	mu          sync.RWMutex
	closed      bool
	processorID string
}

// NewDLQPublisher creates a new DLQ publisher. A disabled publisher accepts
// and drops every message.
func NewDLQPublisher(
	bootstrapServers []string,
	security SecurityConfig,
	dlqConfig DLQConfig,
	logger *slog.Logger,
	processorID string,
) (*DLQPublisher, error) {
	if err := dlqConfig.Validate(); err != nil {
		return nil, err
	}
	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return NewDLQPublisherWithProducer(nil, dlqConfig, logger, processorID), nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	if dlqConfig.MaxRetries > 0 {
		saramaConfig.Producer.Retry.Max = dlqConfig.MaxRetries
	}
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := configureSecurity(saramaConfig, security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		"bootstrap_servers", bootstrapServers,
		"topic_suffix", dlqConfig.TopicSuffix,
	)
	return NewDLQPublisherWithProducer(producer, dlqConfig, logger, processorID), nil
}

// NewDLQPublisherWithProducer creates a publisher around an existing producer.
func NewDLQPublisherWithProducer(
	producer sarama.SyncProducer,
	dlqConfig DLQConfig,
	logger *slog.Logger,
	processorID string,
) *DLQPublisher {
	return &DLQPublisher{
		producer:    producer,
		config:      dlqConfig,
		logger:      logger,
		now:         time.Now,
		processorID: processorID,
	}
}

// Publish publishes a failed message to the DLQ.
func (p *DLQPublisher) Publish(
	ctx context.Context,
	tp record.TopicPartition,
	offset int64,
	key, value []byte,
	reason string,
) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrProducerClosed
	}

	if !p.config.Enabled {
		p.logger.Debug("DLQ disabled, dropping message", "topic", tp.Topic, "offset", offset)
		return nil
	}

	dlqTopic := p.config.TopicFor(tp.Topic)
	now := p.now().UTC()

	dlqData, err := json.Marshal(DLQMessage{
		OriginalKey:       key,
		OriginalValue:     value,
		OriginalTopic:     tp.Topic,
		OriginalPartition: tp.Partition,
		OriginalOffset:    offset,
		FailureReason:     reason,
		FailureTimestamp:  now,
		ProcessorID:       p.processorID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Value: sarama.ByteEncoder(dlqData),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(reason)},
			{Key: []byte("original_topic"), Value: []byte(tp.Topic)},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: now,
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, dlqOffset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to DLQ",
			"error", err,
			"dlq_topic", dlqTopic,
			"original_offset", offset,
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.logger.Info("published message to DLQ",
		"dlq_topic", dlqTopic,
		"partition", partition,
		"offset", dlqOffset,
		"original_partition", tp.Partition,
		"original_offset", offset,
		"reason", reason,
	)
	return nil
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}

	p.logger.Info("DLQ publisher closed")
	return nil
}
