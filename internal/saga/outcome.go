package saga

import (
	"fmt"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

// OutcomeKind classifies how a sync result was resolved.
type OutcomeKind int

const (
	// OutcomeIgnored: the result was not a failure.
	OutcomeIgnored OutcomeKind = iota
	// OutcomeAlreadyCompensated: the user was already absent.
	OutcomeAlreadyCompensated
	// OutcomeCompensated: the user was deleted and the attempt recorded.
	OutcomeCompensated
	// OutcomeFailed: compensation did not complete and needs an operator.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAlreadyCompensated:
		return "already-compensated"
	case OutcomeCompensated:
		return "compensated"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the result of handling one sync result.
type Outcome struct {
	Kind          OutcomeKind
	UserID        int64
	TransactionID string
	// Status is where the saga stands for this user after handling.
	Status models.EventStatus
	Reason string
	// AuditFault is set when the failure itself could not be recorded in the
	// compensation transaction.
	AuditFault bool

	cause error
}

// Err returns the escalation signal for a failed outcome and nil otherwise.
func (o Outcome) Err() error {
	if o.Kind != OutcomeFailed {
		return nil
	}
	return &RollbackError{
		UserID:        o.UserID,
		TransactionID: o.TransactionID,
		AuditFault:    o.AuditFault,
		Err:           o.cause,
	}
}

// RollbackError signals that a registration could not be rolled back. It is
// fatal: redelivery will not help and an operator must intervene.
type RollbackError struct {
	UserID        int64
	TransactionID string
	AuditFault    bool
	Err           error
}

func (e *RollbackError) Error() string {
	if e.AuditFault {
		return fmt.Sprintf("registration rollback for user %d (tx %s) failed and was not recorded: %v", e.UserID, e.TransactionID, e.Err)
	}
	return fmt.Sprintf("registration rollback for user %d (tx %s) failed: %v", e.UserID, e.TransactionID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// Fatal marks the error as non-retryable for dead-letter classification.
func (e *RollbackError) Fatal() bool { return true }
