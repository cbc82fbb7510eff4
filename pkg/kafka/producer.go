package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes messages to Kafka
type Producer struct {
	writer Writer
	logger ectologger.Logger
	config ProducerConfig
}

// NewProducer creates a new Kafka producer
func NewProducer(config ProducerConfig, logger ectologger.Logger) (*Producer, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid producer config: %w", err)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{}, // Hash by key so events of one entity stay ordered
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.BatchTimeout,
		MaxAttempts:            config.MaxAttempts,
		WriteTimeout:           config.WriteTimeout,
		Compression:            compression(config.Compression),
		RequiredAcks:           kafka.RequiredAcks(config.RequiredAcks),
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, config, logger), nil
}

// NewProducerWithWriter uses w instead of a broker connection.
func NewProducerWithWriter(w Writer, config ProducerConfig, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: w,
		logger: logger,
		config: config,
	}
}

func compression(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0 // No compression
	}
}

// Publish writes one message with the given partition key and headers.
func (p *Producer) Publish(ctx context.Context, key string, headers map[string]string, value []byte) error {
	kafkaHeaders := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		if v == "" {
			continue
		}
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: kafkaHeaders,
		Time:    time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	p.logger.Info("Kafka producer closed")
	return nil
}
