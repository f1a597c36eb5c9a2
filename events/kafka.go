package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the optional Kafka event sink.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Brokers      []string      `yaml:"brokers" json:"brokers" validate:"required_if=Enabled true"`
	Topic        string        `yaml:"topic" json:"topic" default:"autotrader.events"`
	Compression  string        `yaml:"compression" json:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd none"`
	RequiredAcks int           `yaml:"required_acks" json:"required_acks" default:"-1"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts" default:"3"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" default:"10s"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout" default:"1s"`
	Queue        int           `yaml:"queue" json:"queue" default:"1024"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON keyed by symbol, so one symbol's
// events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	return &KafkaSink{writer: w, topic: cfg.Topic}, nil
}

func (k *KafkaSink) Write(ctx context.Context, e Event) error {
	v, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := e.Symbol
	if key == "" {
		key = string(e.Kind)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: v,
		Time:  e.Time,
	})
}

func (k *KafkaSink) Close() error {
	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}
