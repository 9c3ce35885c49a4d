package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Provenance headers added to dead-lettered messages.
const (
	HeaderOriginalTopic     = "dlt-original-topic"
	HeaderOriginalPartition = "dlt-original-partition"
	HeaderOriginalOffset    = "dlt-original-offset"
	HeaderExceptionMessage  = "dlt-exception-message"
	HeaderExceptionType     = "dlt-exception-type"
)

// DeadLetterTopic names the sink for topic.
func DeadLetterTopic(topic string) string {
	return topic + "-dlq"
}

// FixedBackOff is a constant delay between a bounded number of redeliveries.
type FixedBackOff struct {
	Interval   time.Duration
	MaxRetries int
}

// Classifier decides whether a processing error deserves redelivery.
type Classifier func(error) bool

// NeverRetry treats every error as non-retryable.
func NeverRetry(error) bool { return false }

// RetryTransient retries errors matched by isTransient. Decode failures and
// errors reporting Fatal() == true are never retried.
func RetryTransient(isTransient func(error) bool) Classifier {
	return func(err error) bool {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			return false
		}
		var fatal interface{ Fatal() bool }
		if errors.As(err, &fatal) && fatal.Fatal() {
			return false
		}
		return isTransient(err)
	}
}

// DeadLetterRouter decides between redelivery and dead-lettering for a
// message whose handler failed.
type DeadLetterRouter struct {
	Writer    MessageWriter
	BackOff   FixedBackOff
	Retryable Classifier

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDeadLetterRouter returns a router; a nil classifier means NeverRetry.
func NewDeadLetterRouter(w MessageWriter, backOff FixedBackOff, retryable Classifier) *DeadLetterRouter {
	if retryable == nil {
		retryable = NeverRetry
	}
	return &DeadLetterRouter{Writer: w, BackOff: backOff, Retryable: retryable, sleep: sleepCtx}
}

// Recover redelivers msg through retry while cause stays retryable and the
// budget lasts, then republishes the original key, value and headers to the
// dead-letter topic. It returns nil once the message has a definite outcome and
// an error only if ctx ends first.
func (r *DeadLetterRouter) Recover(ctx context.Context, msg kafka.Message, cause error, retry func() error) error {
	log := logrus.WithFields(logrus.Fields{
		"component": "dead-letter",
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	for attempt := 1; attempt <= r.BackOff.MaxRetries && r.Retryable(cause); attempt++ {
		log.WithError(cause).WithField("attempt", attempt).Warn("redelivering after backoff")
		if err := r.sleep(ctx, r.BackOff.Interval); err != nil {
			return err
		}
		if cause = retry(); cause == nil {
			return nil
		}
	}

	dead := deadLetter(msg, cause)
	for {
		err := r.Writer.WriteMessages(ctx, dead)
		if err == nil {
			log.WithError(cause).WithField("dlq", dead.Topic).Warn("message dead-lettered")
			return nil
		}
		log.WithError(err).Error("dead-letter publish failed")
		if err := r.sleep(ctx, r.BackOff.Interval); err != nil {
			return fmt.Errorf("dead-letter %s@%d: %w", msg.Topic, msg.Offset, err)
		}
	}
}

func deadLetter(msg kafka.Message, cause error) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderExceptionType, Value: []byte(fmt.Sprintf("%T", cause))},
	)
	return kafka.Message{
		Topic:   DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
