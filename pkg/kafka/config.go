package kafka

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	FirstOffset = kafka.FirstOffset
	LastOffset  = kafka.LastOffset
)

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	TrendTopic   string
	RunTopic     string
	BatchSize    int
	BatchTimeout time.Duration
}

// ConsumerConfig configures a Kafka-backed source
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// MaxBatch caps how many messages one fetch returns
	MaxBatch int

	// IdleWait ends a fetch when no message arrives for this long
	IdleWait time.Duration

	// StartOffset determines where to start reading when there's no committed offset
	StartOffset int64
}

// ParseBrokers splits a comma-separated broker string
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MaxBatch:    500,
		IdleWait:    2 * time.Second,
		StartOffset: FirstOffset,
	}
}
