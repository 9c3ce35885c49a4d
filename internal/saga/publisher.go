// Package saga implements the user-sync saga: lifecycle event publication,
// compensation on downstream failure, and dead-letter observation.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/config"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/kafka"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

// Clock supplies event and audit timestamps.
type Clock func() time.Time

// IDFunc mints transaction ids.
type IDFunc func() string

// PublishError is a delivery fault surfaced to the caller of a publish.
type PublishError struct {
	Topic         string
	UserID        int64
	TransactionID string
	Err           error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s for user %d (tx %s): %v", e.Topic, e.UserID, e.TransactionID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher sends one STARTED UserEvent per call, keyed by user id.
type Publisher struct {
	writer  kafka.MessageWriter
	topics  config.Topics
	timeout time.Duration
	now     Clock
	newID   IDFunc
	log     *logrus.Entry
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

func WithClock(c Clock) PublisherOption {
	return func(p *Publisher) { p.now = c }
}

func WithIDFunc(f IDFunc) PublisherOption {
	return func(p *Publisher) { p.newID = f }
}

// NewPublisher returns a publisher whose sends are bounded by deliveryTimeout.
func NewPublisher(w kafka.MessageWriter, topics config.Topics, deliveryTimeout time.Duration, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		writer:  w,
		topics:  topics,
		timeout: deliveryTimeout,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     logrus.WithField("component", "event-publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) PublishCreated(ctx context.Context, u *models.User) error {
	return p.publish(ctx, models.EventUserCreated, p.topics.UserCreated, u)
}

func (p *Publisher) PublishUpdated(ctx context.Context, u *models.User) error {
	return p.publish(ctx, models.EventUserUpdated, p.topics.UserUpdated, u)
}

func (p *Publisher) PublishDeleted(ctx context.Context, u *models.User) error {
	return p.publish(ctx, models.EventUserDeleted, p.topics.UserDeleted, u)
}

func (p *Publisher) publish(ctx context.Context, eventType models.EventType, topic string, u *models.User) error {
	event := models.NewUserEvent(u, eventType, p.newID(), p.now())
	log := p.log.WithFields(logrus.Fields{
		"user_id":        event.UserID,
		"transaction_id": event.TransactionID,
		"topic":          topic,
	})

	msg, err := kafka.NewJSONMessage(topic, event.Key(), models.UserEventTypeID, event,
		kafkago.Header{Key: kafka.TransactionHeader, Value: []byte(event.TransactionID)})
	if err != nil {
		return &PublishError{Topic: topic, UserID: event.UserID, TransactionID: event.TransactionID, Err: err}
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(sendCtx, msg); err != nil {
		log.WithError(err).Error("event delivery failed")
		return &PublishError{Topic: topic, UserID: event.UserID, TransactionID: event.TransactionID, Err: err}
	}

	log.WithField("event_type", eventType).Info("event published")
	return nil
}
