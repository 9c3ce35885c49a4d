package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterConfig holds producer delivery settings.
type WriterConfig struct {
	Brokers        []string
	ClientID       string
	RequestTimeout time.Duration
	MaxBlock       time.Duration
	Retries        int
}

// NewWriter returns a synchronous writer that waits for all in-sync replicas
// and partitions by key with the same hash the JVM client uses.
func NewWriter(cfg WriterConfig) *kafka.Writer {
	return newWriter(cfg, &kafka.Murmur2Balancer{})
}

// NewDeadLetterWriter returns a writer that always targets partition 0.
func NewDeadLetterWriter(cfg WriterConfig) *kafka.Writer {
	return newWriter(cfg, PartitionZero{})
}

func newWriter(cfg WriterConfig, balancer kafka.Balancer) *kafka.Writer {
	log := logrus.WithField("component", "kafka-writer")
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     balancer,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.Retries + 1,
		WriteTimeout: cfg.RequestTimeout,
		ReadTimeout:  cfg.RequestTimeout,
		BatchTimeout: 10 * time.Millisecond,
		Transport: &kafka.Transport{
			ClientID:    cfg.ClientID,
			DialTimeout: cfg.MaxBlock,
		},
		Logger:      kafka.LoggerFunc(log.Debugf),
		ErrorLogger: kafka.LoggerFunc(log.Errorf),
	}
}

// PartitionZero pins every message to partition 0.
type PartitionZero struct{}

func (PartitionZero) Balance(_ kafka.Message, _ ...int) int { return 0 }

// ReaderConfig holds consumer group settings.
type ReaderConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
}

// NewReader returns a group reader with manual commits that starts from the
// earliest offset when the group has none.
func NewReader(cfg ReaderConfig) *kafka.Reader {
	log := logrus.WithFields(logrus.Fields{"component": "kafka-reader", "group": cfg.GroupID})
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		Dialer: &kafka.Dialer{
			ClientID: cfg.ClientID,
			Timeout:  10 * time.Second,
		},
		Logger:      kafka.LoggerFunc(log.Debugf),
		ErrorLogger: kafka.LoggerFunc(log.Errorf),
	})
}
