package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

// MessageWriter is the subset of *kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes trend and scrape run events
type Producer struct {
	trendWriter MessageWriter
	runWriter   MessageWriter
	logger      ectologger.Logger
	trendTopic  string
	runTopic    string
}

func newWriter(brokers []string, topic string, batchSize int, batchTimeout time.Duration) *kafka.Writer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	return &Producer{
		trendWriter: newWriter(cfg.Brokers, cfg.TrendTopic, cfg.BatchSize, cfg.BatchTimeout),
		runWriter:   newWriter(cfg.Brokers, cfg.RunTopic, cfg.BatchSize, cfg.BatchTimeout),
		logger:      logger,
		trendTopic:  cfg.TrendTopic,
		runTopic:    cfg.RunTopic,
	}
}

// NewProducerWithWriters builds a producer over caller-supplied writers
func NewProducerWithWriters(trendWriter, runWriter MessageWriter, trendTopic, runTopic string, logger ectologger.Logger) *Producer {
	return &Producer{
		trendWriter: trendWriter,
		runWriter:   runWriter,
		logger:      logger,
		trendTopic:  trendTopic,
		runTopic:    runTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	var firstErr error
	if err := p.trendWriter.Close(); err != nil {
		firstErr = err
	}
	if err := p.runWriter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// PublishTrendScore emits trend.scored and, when the tier moved, trend.tier_changed.
func (p *Producer) PublishTrendScore(ctx context.Context, score models.TrendScore, previous *models.TrendScore) error {
	var previousTier *models.Tier
	if previous != nil {
		tier := previous.Tier
		previousTier = &tier
	}

	events := []*TrendEvent{NewTrendEvent(EventTrendScored, score, previousTier)}
	if previousTier != nil && *previousTier != score.Tier {
		events = append(events, NewTrendEvent(EventTrendTierChanged, score, previousTier))
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		evt.TraceID = tracing.GetTraceID(ctx)
		evt.Timestamp = time.Now().UTC()
		msg, err := p.message(ctx, evt.ProductID.String(), evt.Type, evt)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.write(ctx, p.trendWriter, p.trendTopic, msgs...)
}

// PublishRunFinalized emits scrape_run.finalized for a terminal run.
func (p *Producer) PublishRunFinalized(ctx context.Context, run models.ScrapeRun) error {
	evt := NewScrapeRunEvent(run)
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.Timestamp = time.Now().UTC()

	msg, err := p.message(ctx, run.SourceID, evt.Type, evt)
	if err != nil {
		return err
	}
	return p.write(ctx, p.runWriter, p.runTopic, msg)
}

func (p *Producer) message(ctx context.Context, key, eventType string, payload any) (kafka.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(eventType)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	return kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}, nil
}

func (p *Producer) write(ctx context.Context, writer MessageWriter, topic string, msgs ...kafka.Message) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.operation", "publish"),
		attribute.Int("messaging.batch_size", len(msgs)),
	)

	start := time.Now()
	err := writer.WriteMessages(ctx, msgs...)
	if err != nil {
		metrics.RecordKafkaPublish(topic, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", topic)
		return err
	}

	metrics.RecordKafkaPublish(topic, "success", time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "message published")
	return nil
}
