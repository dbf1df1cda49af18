package export

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer is the subset of kafka producer behavior the streamer needs.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
	Close() error
}

// KafkaProducer wraps segmentio/kafka-go's Writer with retries.
// Partition/offset reporting is not surfaced since nothing here persists
// them.
type KafkaProducer struct {
	writer      *kafka.Writer
	maxAttempts int
}

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	WriteTimeout time.Duration
}

// NewKafkaProducer constructs a KafkaProducer from cfg.
func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("export/kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("export/kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaProducer{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

// Produce writes one message with exponential backoff between retries.
func (p *KafkaProducer) Produce(ctx context.Context, key, value []byte) error {
	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg := kafka.Message{Key: key, Value: value, Time: time.Now().UTC()}

		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(attemptCtx, msg)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}

	return fmt.Errorf("produce failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
