package kafka

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	connectAttempts = 30
	connectDelay    = 2 * time.Second
)

// TopicConfigs builds one config per topic plus its single-partition dead-letter topic.
func TopicConfigs(partitions, replicationFactor int, topics ...string) []kafka.TopicConfig {
	var out []kafka.TopicConfig
	for _, t := range topics {
		out = append(out,
			kafka.TopicConfig{Topic: t, NumPartitions: partitions, ReplicationFactor: replicationFactor},
			kafka.TopicConfig{Topic: DeadLetterTopic(t), NumPartitions: 1, ReplicationFactor: replicationFactor},
		)
	}
	return out
}

// EnsureTopics creates topics through the cluster controller, retrying while
// the broker comes up. Existing topics are left alone.
func EnsureTopics(ctx context.Context, brokers []string, topics ...kafka.TopicConfig) error {
	if len(brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is not set")
	}

	log := logrus.WithField("component", "kafka")
	var err error
	for i := 0; i < connectAttempts; i++ {
		if err = createTopics(ctx, brokers[0], topics); err == nil {
			log.WithField("topics", len(topics)).Info("kafka topics ready")
			return nil
		}
		log.WithError(err).Warnf("kafka not ready, retrying in %s", connectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectDelay):
		}
	}
	return fmt.Errorf("could not provision kafka topics after %d attempts: %w", connectAttempts, err)
}

func createTopics(ctx context.Context, broker string, topics []kafka.TopicConfig) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	return controllerConn.CreateTopics(topics...)
}
