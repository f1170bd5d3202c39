package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Batch is one fetched set of decoded records. Commit acknowledges every message in
// the batch, including ones that failed to decode.
type Batch struct {
	Records  []map[string]any
	Rejected int
	messages []kafka.Message
	reader   MessageReader
}

func (b *Batch) Commit(ctx context.Context) error {
	if len(b.messages) == 0 {
		return nil
	}
	if err := b.reader.CommitMessages(ctx, b.messages...); err != nil {
		return fmt.Errorf("failed to commit %d messages: %w", len(b.messages), err)
	}
	return nil
}

// Consumer reads JSON records from a topic in bounded batches. Offsets are only
// committed when the caller commits the batch.
type Consumer struct {
	reader MessageReader
	logger ectologger.Logger
	config ConsumerConfig
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(config ConsumerConfig, logger ectologger.Logger) (*Consumer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.GroupID == "" {
		return nil, fmt.Errorf("group ID is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     time.Second,
		StartOffset: config.StartOffset,
	})
	return NewConsumerWithReader(reader, config, logger), nil
}

func NewConsumerWithReader(reader MessageReader, config ConsumerConfig, logger ectologger.Logger) *Consumer {
	defaults := DefaultConsumerConfig()
	if config.MaxBatch <= 0 {
		config.MaxBatch = defaults.MaxBatch
	}
	if config.IdleWait <= 0 {
		config.IdleWait = defaults.IdleWait
	}
	return &Consumer{reader: reader, logger: logger, config: config}
}

// FetchBatch reads until MaxBatch messages arrive, IdleWait passes without a new
// message, or ctx is done. A cancelled ctx with messages already read still
// returns the partial batch.
func (c *Consumer) FetchBatch(ctx context.Context) (*Batch, error) {
	batch := &Batch{reader: c.reader}

	for len(batch.messages) < c.config.MaxBatch {
		fetchCtx, cancel := context.WithTimeout(ctx, c.config.IdleWait)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			if len(batch.messages) > 0 && ctx.Err() != nil {
				break
			}
			return nil, fmt.Errorf("failed to fetch message from %s: %w", c.config.Topic, err)
		}

		batch.messages = append(batch.messages, msg)

		var record map[string]any
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("Skipping message that is not a JSON object")
			batch.Rejected++
			continue
		}
		batch.Records = append(batch.Records, record)
	}

	return batch, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
