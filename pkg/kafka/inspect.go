package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// TailPartition reads up to limit of the newest messages on one partition
// without joining a consumer group, so nothing is committed.
func TailPartition(ctx context.Context, broker, topic string, partition, limit int) ([]kafka.Message, error) {
	conn, err := kafka.DialLeader(ctx, "tcp", broker, topic, partition)
	if err != nil {
		return nil, fmt.Errorf("dial leader of %s/%d: %w", topic, partition, err)
	}
	defer conn.Close()

	first, last, err := conn.ReadOffsets()
	if err != nil {
		return nil, fmt.Errorf("read offsets of %s/%d: %w", topic, partition, err)
	}
	start := tailStart(first, last, limit)
	if start >= last {
		return nil, nil
	}
	if _, err := conn.Seek(start, kafka.SeekAbsolute); err != nil {
		return nil, fmt.Errorf("seek %s/%d to %d: %w", topic, partition, start, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	msgs := make([]kafka.Message, 0, last-start)
	for offset := start; offset < last; {
		msg, err := conn.ReadMessage(10e6)
		if err != nil {
			return msgs, fmt.Errorf("read %s/%d@%d: %w", topic, partition, offset, err)
		}
		msg.Topic = topic
		msgs = append(msgs, msg)
		offset = msg.Offset + 1
	}
	return msgs, nil
}

// tailStart is the first offset of the last limit messages in [first, last).
func tailStart(first, last int64, limit int) int64 {
	start := last - int64(limit)
	if limit <= 0 || start < first {
		return first
	}
	return start
}
