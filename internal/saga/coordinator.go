package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/kafka"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

const compensationSavepoint = "compensation"

// Coordinator consumes downstream sync results and undoes the local user
// when the downstream system reports a failure.
type Coordinator struct {
	store store.Store
	now   Clock
	log   *logrus.Entry
}

// NewCoordinator returns a coordinator; a nil clock means time.Now.
func NewCoordinator(s store.Store, now Clock) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store: s,
		now:   now,
		log:   logrus.WithField("component", "saga-coordinator"),
	}
}

// HandleMessage decodes a result message and handles it.
func (c *Coordinator) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	var event models.UserEvent
	if err := kafka.DecodeJSON(msg, models.UserEventTypeID, &event); err != nil {
		return err
	}
	if !event.Status.Valid() {
		return &kafka.DecodeError{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset,
			Err: fmt.Errorf("unknown status %q", event.Status)}
	}
	return c.OnSyncResult(ctx, event)
}

// OnSyncResult handles one result event. It returns a *RollbackError when
// compensation failed and a plain error when the attempt could not start.
func (c *Coordinator) OnSyncResult(ctx context.Context, event models.UserEvent) error {
	outcome, err := c.Compensate(ctx, event)
	if err != nil {
		return err
	}
	return outcome.Err()
}

// Compensate resolves a result event into an Outcome. FAILED results delete
// the local user inside one serializable transaction that also records the
// attempt. The returned error is reserved for faults before any audit record
// was opened, such as a failed existence probe.
func (c *Coordinator) Compensate(ctx context.Context, event models.UserEvent) (Outcome, error) {
	log := c.log.WithFields(logrus.Fields{
		"user_id":        event.UserID,
		"transaction_id": event.TransactionID,
		"event_type":     event.EventType,
	})
	outcome := Outcome{UserID: event.UserID, TransactionID: event.TransactionID, Status: event.Status}

	if event.Status != models.StatusFailed {
		log.WithField("status", event.Status).Debug("sync result needs no compensation")
		outcome.Kind = OutcomeIgnored
		return outcome, nil
	}

	compensating, err := event.Advance(models.StatusCompensating)
	if err != nil {
		return outcome, err
	}
	log.WithField("reason", event.ErrorMessage).Info("downstream sync failed, compensating")

	var (
		entry     *models.UserEventLog
		found     bool
		deleteErr error
	)
	txErr := c.store.RunInTransaction(ctx, store.Serializable, func(tx store.Store) error {
		var err error
		if found, err = tx.LockUser(ctx, event.UserID); err != nil || !found {
			return err
		}

		entry = models.StartEventLog(event.UserID, models.StepCompensation, c.now())
		if err := tx.AppendEventLog(ctx, entry); err != nil {
			return fmt.Errorf("open audit record: %w", err)
		}

		deleteErr = tx.Savepoint(ctx, compensationSavepoint, func() error {
			return tx.DeleteUser(ctx, event.UserID)
		})
		if deleteErr != nil {
			_ = entry.Fail(deleteErr.Error(), c.now())
		} else {
			_ = entry.Complete(c.now())
		}

		if err := tx.FinishEventLog(ctx, entry); err != nil {
			return fmt.Errorf("close audit record: %w", err)
		}
		return nil
	})

	switch {
	case txErr != nil && entry == nil:
		log.WithError(txErr).Error("compensation could not start")
		return outcome, fmt.Errorf("compensate user %d: %w", event.UserID, txErr)

	case txErr != nil:
		return c.escalate(ctx, log, outcome, deleteErr, txErr), nil

	case !found:
		log.Info("user already absent, compensation satisfied")
		outcome.Kind = OutcomeAlreadyCompensated
		outcome.Status = models.StatusCompensated
		return outcome, nil

	case deleteErr != nil:
		log.WithError(deleteErr).WithField("alert", true).Error("compensating delete failed")
		outcome.Kind = OutcomeFailed
		outcome.Status = compensating.Status
		outcome.Reason = deleteErr.Error()
		outcome.cause = deleteErr
		return outcome, nil
	}

	compensated, err := compensating.Advance(models.StatusCompensated)
	if err != nil {
		return outcome, err
	}
	log.Info("user compensated")
	outcome.Kind = OutcomeCompensated
	outcome.Status = compensated.Status
	return outcome, nil
}

// escalate handles a compensation whose own audit trail could not be
// committed. The transaction rolled back, so the attempt and a separate
// COMPENSATION_FAILED marker are written outside it.
func (c *Coordinator) escalate(ctx context.Context, log *logrus.Entry, outcome Outcome, deleteErr, txErr error) Outcome {
	cause := txErr
	if deleteErr != nil {
		cause = errors.Join(deleteErr, txErr)
	}

	now := c.now()
	attempt := models.StartEventLog(outcome.UserID, models.StepCompensation, now)
	_ = attempt.Fail(cause.Error(), now)
	marker := models.StartEventLog(outcome.UserID, models.StepCompensationFailed, now)
	_ = marker.Fail(cause.Error(), now)

	for _, rec := range []*models.UserEventLog{attempt, marker} {
		if err := c.store.AppendEventLog(ctx, rec); err != nil {
			log.WithError(err).WithField("step", rec.EventType).Error("audit record lost")
		}
	}

	log.WithError(cause).WithField("alert", true).Error("compensation failed and could not be recorded, operator intervention required")

	outcome.Kind = OutcomeFailed
	outcome.Status = models.StatusCompensating
	outcome.Reason = cause.Error()
	outcome.AuditFault = true
	outcome.cause = cause
	return outcome
}
