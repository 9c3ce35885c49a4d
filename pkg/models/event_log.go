package models

import (
	"errors"
	"time"
)

// Saga step labels recorded in the audit log.
const (
	StepCompensation       = "COMPENSATION"
	StepCompensationFailed = "COMPENSATION_FAILED"
)

// LogStatus is the lifecycle of one audit record.
type LogStatus string

const (
	LogStarted   LogStatus = "STARTED"
	LogCompleted LogStatus = "COMPLETED"
	LogFailed    LogStatus = "FAILED"
)

var ErrEventLogFinalized = errors.New("event log already finalized")

// UserEventLog is an append-only audit record of one saga step attempt.
// It is created by StartEventLog and mutated at most once afterwards.
type UserEventLog struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"userId"`
	EventType    string     `json:"eventType"`
	Status       LogStatus  `json:"status"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// StartEventLog opens a record for step.
func StartEventLog(userID int64, step string, at time.Time) *UserEventLog {
	return &UserEventLog{
		UserID:    userID,
		EventType: step,
		Status:    LogStarted,
		CreatedAt: at,
	}
}

// Terminal reports whether the record has left STARTED.
func (l *UserEventLog) Terminal() bool {
	return l.Status != LogStarted
}

func (l *UserEventLog) Complete(at time.Time) error {
	if l.Terminal() {
		return ErrEventLogFinalized
	}
	l.Status = LogCompleted
	l.CompletedAt = &at
	return nil
}

func (l *UserEventLog) Fail(message string, at time.Time) error {
	if l.Terminal() {
		return ErrEventLogFinalized
	}
	l.Status = LogFailed
	l.ErrorMessage = &message
	l.CompletedAt = &at
	return nil
}
