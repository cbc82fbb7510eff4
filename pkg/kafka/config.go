package kafka

import (
	"fmt"
	"slices"
	"time"
)

const DefaultTopic = "eav-changes"

var compressions = []string{"", "none", "gzip", "snappy", "lz4", "zstd"}

// ProducerConfig configures the change event producer.
type ProducerConfig struct {
	Brokers []string
	// Topic receives entity and metadata change events.
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	// RequiredAcks is 0 (none), 1 (leader) or -1 (all replicas).
	RequiredAcks int
	MaxAttempts  int
	WriteTimeout time.Duration
	Compression  string
}

func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        DefaultTopic,
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: 1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		Compression:  "snappy",
	}
}

func (c ProducerConfig) validate() error {
	switch {
	case len(c.Brokers) == 0:
		return fmt.Errorf("at least one broker is required")
	case c.Topic == "":
		return fmt.Errorf("an output topic is required")
	case c.RequiredAcks < -1 || c.RequiredAcks > 1:
		return fmt.Errorf("required acks must be -1, 0 or 1, got %d", c.RequiredAcks)
	case !slices.Contains(compressions, c.Compression):
		return fmt.Errorf("unsupported compression %q", c.Compression)
	}
	return nil
}
