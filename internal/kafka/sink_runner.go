package kafka

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/internal/validator"
	"github.com/jittakal/kafcsvconnect/pkg/connector"
	"github.com/jittakal/kafcsvconnect/pkg/record"
)

// ConsumerConfig contains Kafka consumer configuration.
type ConsumerConfig struct {
	BootstrapServers    []string
	Security            SecurityConfig
	GroupID             string
	Topics              []string
	AutoOffsetReset     string
	MaxPollRecords      int
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	CommitIntervalMS    int
}

// ConsumerMetrics defines metrics operations for the sink runner.
type ConsumerMetrics interface {
	IncMessagesConsumed(topic string, partition int32)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	SetPartitionsAssigned(topic string, count float64)
	IncDLQMessages(topic string)
}

// SinkRunner feeds a sink task from a consumer group. Offsets are marked only
// as far as the task reports its records committed to storage.
type SinkRunner struct {
	group   sarama.ConsumerGroup
	task    connector.SinkTask
	dlq     connector.DLQPublisher
	config  ConsumerConfig
	logger  *slog.Logger
	metrics ConsumerMetrics
	rows    *validator.RowValidator
}

// NewSinkRunner creates a consumer group for config and a runner around it.
// dlq may be nil, in which case undecodable messages are skipped.
func NewSinkRunner(
	config ConsumerConfig,
	task connector.SinkTask,
	dlq connector.DLQPublisher,
	logger *slog.Logger,
	metrics ConsumerMetrics,
) (*SinkRunner, error) {
	saramaConfig, err := newConsumerConfig(config)
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"session_timeout_ms", config.SessionTimeoutMS,
		"max_poll_interval_ms", config.MaxPollIntervalMS,
	)
	return NewSinkRunnerWithGroup(group, config, task, dlq, logger, metrics), nil
}

// NewSinkRunnerWithGroup creates a runner around an existing consumer group.
func NewSinkRunnerWithGroup(
	group sarama.ConsumerGroup,
	config ConsumerConfig,
	task connector.SinkTask,
	dlq connector.DLQPublisher,
	logger *slog.Logger,
	metrics ConsumerMetrics,
) *SinkRunner {
	if config.MaxPollRecords <= 0 {
		config.MaxPollRecords = 500
	}
	if config.CommitIntervalMS <= 0 {
		config.CommitIntervalMS = 5000
	}
	return &SinkRunner{
		group:   group,
		task:    task,
		dlq:     dlq,
		config:  config,
		logger:  logger,
		metrics: metrics,
		rows:    validator.NewRowValidator(),
	}
}

func newConsumerConfig(config ConsumerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	if config.CommitIntervalMS > 0 {
		saramaConfig.Consumer.Offsets.AutoCommit.Interval = time.Duration(config.CommitIntervalMS) * time.Millisecond
	}

	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	}
	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}
	saramaConfig.Consumer.Return.Errors = true

	if err := configureSecurity(saramaConfig, config.Security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

// Run consumes until ctx is cancelled or a write fails in a way a new session
// cannot recover from. The task is stopped and the consumer group closed
// before Run returns.
func (r *SinkRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sink task: %w", err)
	}
	defer func() {
		if err := r.group.Close(); err != nil {
			r.logger.Error("error closing consumer group", "error", err)
		}
		if err := r.task.Stop(); err != nil {
			r.logger.Error("failed to stop sink task", "error", err)
		}
	}()

	go func() {
		for err := range r.group.Errors() {
			r.logger.Error("consumer group error", "error", err)
		}
	}()

	handler := &sinkHandler{runner: r, cancel: cancel}
	r.logger.Info("sink runner started", "group_id", r.config.GroupID, "topics", r.config.Topics)
	for {
		// Consume returns on every rebalance and has to be called again.
		if err := r.group.Consume(ctx, r.config.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consumer group session failed: %w", err)
		}
		if err := handler.failure(); err != nil {
			return fmt.Errorf("sink task failed: %w", err)
		}
		if ctx.Err() != nil {
			r.logger.Info("sink runner stopped")
			return nil
		}
	}
}

// sinkHandler implements sarama.ConsumerGroupHandler.
type sinkHandler struct {
	runner *SinkRunner
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// putFailed ends the claim. Session cleanup drops the failed writers, so the
// next session redelivers from the marked offsets; a failure that cannot
// succeed on redelivery stops the runner instead.
func (h *sinkHandler) putFailed(err error) error {
	if apperrors.IsRetryable(err) {
		h.runner.logger.Warn("write failed, restarting session", "error", err)
		return err
	}

	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
	return err
}

func (h *sinkHandler) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Setup opens writers for the claimed partitions.
func (h *sinkHandler) Setup(session sarama.ConsumerGroupSession) error {
	r := h.runner
	partitions := claimedPartitions(session.Claims())

	r.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"partitions", len(partitions),
	)
	if r.metrics != nil {
		r.metrics.IncRebalances(r.config.GroupID)
		for topic, claimed := range session.Claims() {
			r.metrics.SetPartitionsAssigned(topic, float64(len(claimed)))
		}
	}

	return r.task.Open(session.Context(), partitions)
}

// Cleanup flushes the writers of every claimed partition and marks their
// final offsets before the session commits for the last time.
func (h *sinkHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	r := h.runner
	ctx := context.WithoutCancel(session.Context())

	if err := r.task.Close(ctx, claimedPartitions(session.Claims())); err != nil {
		r.logger.Error("failed to close partitions", "error", err)
	}
	r.markCommitted(ctx, session)

	r.logger.Info("consumer group session cleanup", "member_id", session.MemberID())
	return nil
}

// ConsumeClaim batches the messages of one partition into the task. A
// batch is handed over when it is full and on every commit tick; an empty
// tick still lets the task rotate idle windows.
func (h *sinkHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	r := h.runner
	ctx := session.Context()

	r.logger.Info("started consuming partition",
		"topic", claim.Topic(),
		"partition", claim.Partition(),
		"initial_offset", claim.InitialOffset(),
	)

	ticker := time.NewTicker(time.Duration(r.config.CommitIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]record.SinkRecord, 0, r.config.MaxPollRecords)
	flush := func() error {
		if err := r.task.Put(ctx, batch); err != nil {
			return err
		}
		batch = make([]record.SinkRecord, 0, r.config.MaxPollRecords)
		r.markCommitted(ctx, session)
		return nil
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				// Unflushed records are redelivered from the marked offset.
				return nil
			}
			if r.metrics != nil {
				r.metrics.IncMessagesConsumed(msg.Topic, msg.Partition)
			}

			rec, err := r.decode(msg)
			if err != nil {
				if err := r.deadLetter(ctx, msg, err); err != nil {
					return err
				}
				continue
			}

			batch = append(batch, rec)
			if len(batch) >= r.config.MaxPollRecords {
				if err := flush(); err != nil {
					return h.putFailed(err)
				}
			}

		case <-ticker.C:
			if err := flush(); err != nil {
				return h.putFailed(err)
			}

		case <-ctx.Done():
			r.logger.Info("session context done, stopping partition consumption",
				"topic", claim.Topic(),
				"partition", claim.Partition(),
			)
			return nil
		}
	}
}

// markCommitted marks the offsets the task reports safe. Offsets of
// partitions the session does not own are ignored by sarama.
func (r *SinkRunner) markCommitted(ctx context.Context, session sarama.ConsumerGroupSession) {
	for tp, offset := range r.task.PreCommit(ctx) {
		session.MarkOffset(tp.Topic, tp.Partition, offset, "")
		if r.metrics != nil {
			r.metrics.IncOffsetCommits(tp.Topic, tp.Partition, "success")
		}
	}
}

// decode turns a message into a sink record. The value must be a JSON object
// whose fields become the row cells in order.
func (r *SinkRunner) decode(msg *sarama.ConsumerMessage) (record.SinkRecord, error) {
	var row record.Row
	if err := json.Unmarshal(msg.Value, &row); err != nil {
		return record.SinkRecord{}, fmt.Errorf("failed to decode row: %w", err)
	}
	if err := r.rows.Validate(row); err != nil {
		return record.SinkRecord{}, err
	}

	timestampType := record.TimestampCreateTime
	if msg.Timestamp.IsZero() {
		timestampType = record.TimestampNone
	}
	return record.SinkRecord{
		Topic:         msg.Topic,
		Key:           msg.Key,
		Row:           row,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Timestamp,
		TimestampType: timestampType,
	}, nil
}

// deadLetter publishes an undecodable message. A publish failure stops the
// claim so the message is redelivered.
func (r *SinkRunner) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	r.logger.Warn("undecodable message",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", cause,
	)
	if r.dlq == nil {
		return nil
	}

	tp := record.TopicPartition{Topic: msg.Topic, Partition: msg.Partition}
	if err := r.dlq.Publish(ctx, tp, msg.Offset, msg.Key, msg.Value, cause.Error()); err != nil {
		return fmt.Errorf("failed to dead-letter %s offset %d: %w", tp, msg.Offset, err)
	}
	if r.metrics != nil {
		r.metrics.IncDLQMessages(msg.Topic)
	}
	return nil
}

func claimedPartitions(claims map[string][]int32) []record.TopicPartition {
	var partitions []record.TopicPartition
	for topic, ids := range claims {
		for _, id := range ids {
			partitions = append(partitions, record.TopicPartition{Topic: topic, Partition: id})
		}
	}
	slices.SortFunc(partitions, func(a, b record.TopicPartition) int {
		return cmp.Or(strings.Compare(a.Topic, b.Topic), cmp.Compare(a.Partition, b.Partition))
	})
	return partitions
}
