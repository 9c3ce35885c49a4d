// Package replica is a reference downstream service. It mirrors user
// lifecycle events into a local replica table and reports each outcome on
// the sync result topic.
package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/kafka"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

var errSimulated = errors.New("simulated replica sync failure")

// Consumer handles lifecycle events for the replica.
type Consumer struct {
	DB          *sql.DB
	Results     kafka.MessageWriter
	ResultTopic string

	// FailureRate is the probability in [0,1] of a simulated failure.
	FailureRate float64
	Timeout     time.Duration

	random func() float64
	now    func() time.Time
	log    *logrus.Entry
}

// NewConsumer creates a replica consumer publishing results to resultTopic.
func NewConsumer(db *sql.DB, results kafka.MessageWriter, resultTopic string, failureRate float64) *Consumer {
	return &Consumer{
		DB:          db,
		Results:     results,
		ResultTopic: resultTopic,
		FailureRate: failureRate,
		Timeout:     10 * time.Second,
		random:      rand.Float64,
		now:         time.Now,
		log:         logrus.WithField("component", "replica"),
	}
}

// HandleMessage applies one lifecycle event and publishes its result.
// Duplicates by transaction id are acknowledged without a second result.
func (c *Consumer) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	var event models.UserEvent
	if err := kafka.DecodeJSON(msg, models.UserEventTypeID, &event); err != nil {
		c.log.WithError(err).WithField("offset", msg.Offset).Error("failed to decode event")
		return err
	}

	log := c.log.WithFields(logrus.Fields{
		"user_id":        event.UserID,
		"transaction_id": event.TransactionID,
		"event_type":     event.EventType,
	})

	processing, err := event.Advance(models.StatusProcessing)
	if err != nil {
		log.WithError(err).Warn("event is not in STARTED state")
		return err
	}

	applied, syncErr := c.apply(ctx, event)
	if syncErr == nil && !applied {
		log.Info("duplicate event ignored")
		return nil
	}

	result, err := processing.Advance(models.StatusCompleted)
	if syncErr != nil {
		result, err = processing.Advance(models.StatusFailed)
		result.ErrorMessage = syncErr.Error()
		log.WithError(syncErr).Warn("replica sync failed")
	}
	if err != nil {
		return err
	}
	result.Timestamp = c.now()

	if err := c.publish(ctx, result); err != nil {
		log.WithError(err).Error("failed to publish sync result")
		return err
	}

	log.WithField("status", result.Status).Info("sync result published")
	return nil
}

// apply claims the transaction id and upserts the replica row in one
// transaction. It reports false for an already-seen transaction id.
func (c *Consumer) apply(ctx context.Context, event models.UserEvent) (bool, error) {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO idempotency_keys (transaction_id) VALUES ($1) ON CONFLICT DO NOTHING",
		event.TransactionID)
	if err != nil {
		return false, fmt.Errorf("claim transaction %s: %w", event.TransactionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim transaction %s: %w", event.TransactionID, err)
	}
	if n == 0 {
		return false, nil
	}

	if c.FailureRate > 0 && c.random() < c.FailureRate {
		return false, errSimulated
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_replicas (user_id, email, nickname, profile_image_url, profile_image_url_small,
			role, content, is_deleted, last_transaction_id, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			nickname = EXCLUDED.nickname,
			profile_image_url = EXCLUDED.profile_image_url,
			profile_image_url_small = EXCLUDED.profile_image_url_small,
			role = EXCLUDED.role,
			content = EXCLUDED.content,
			is_deleted = EXCLUDED.is_deleted,
			last_transaction_id = EXCLUDED.last_transaction_id,
			synced_at = EXCLUDED.synced_at`,
		event.UserID, event.Email, event.Nickname,
		event.ProfileImageURL, event.ProfileImageURLSmall,
		string(event.Role), event.Content, event.IsDeleted,
		event.TransactionID, c.now(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert replica of user %d: %w", event.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (c *Consumer) publish(ctx context.Context, result models.UserEvent) error {
	msg, err := kafka.NewJSONMessage(c.ResultTopic, result.Key(), models.UserEventTypeID, result,
		kafkago.Header{Key: kafka.TransactionHeader, Value: []byte(result.TransactionID)})
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return c.Results.WriteMessages(sendCtx, msg)
}
