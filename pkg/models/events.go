package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EventType is the lifecycle change an event describes.
type EventType string

const (
	EventUserCreated EventType = "CREATED"
	EventUserUpdated EventType = "UPDATED"
	EventUserDeleted EventType = "DELETED"
)

// EventStatus is the saga status carried by a UserEvent.
type EventStatus string

const (
	StatusStarted      EventStatus = "STARTED"
	StatusProcessing   EventStatus = "PROCESSING"
	StatusCompleted    EventStatus = "COMPLETED"
	StatusFailed       EventStatus = "FAILED"
	StatusCompensating EventStatus = "COMPENSATING"
	StatusCompensated  EventStatus = "COMPENSATED"
)

// UserEventTypeID is the type metadata written alongside every UserEvent payload.
const UserEventTypeID = "UserEvent"

var ErrInvalidTransition = errors.New("invalid status transition")

var statusTransitions = map[EventStatus][]EventStatus{
	StatusStarted:      {StatusProcessing},
	StatusProcessing:   {StatusCompleted, StatusFailed},
	StatusFailed:       {StatusCompensating},
	StatusCompensating: {StatusCompensated},
}

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusProcessing, StatusCompleted, StatusFailed, StatusCompensating, StatusCompensated:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a forward move from s.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for the two success-typed end states.
func (s EventStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompensated
}

// UserEvent is the wire message exchanged with the downstream system.
type UserEvent struct {
	TransactionID        string      `json:"transactionId"`
	UserID               int64       `json:"userId"`
	Email                string      `json:"email"`
	Nickname             string      `json:"nickname"`
	ProfileImageURL      string      `json:"profileImageUrl,omitempty"`
	ProfileImageURLSmall string      `json:"profileImageUrlSmall,omitempty"`
	Role                 Role        `json:"role"`
	Content              string      `json:"content,omitempty"`
	EventType            EventType   `json:"eventType"`
	IsDeleted            bool        `json:"isDeleted"`
	Status               EventStatus `json:"status"`
	Timestamp            time.Time   `json:"timestamp"`
	ErrorMessage         string      `json:"errorMessage,omitempty"`
}

// NewUserEvent snapshots u into a STARTED event.
func NewUserEvent(u *User, eventType EventType, transactionID string, at time.Time) UserEvent {
	return UserEvent{
		TransactionID:        transactionID,
		UserID:               u.ID,
		Email:                u.Email,
		Nickname:             u.Nickname,
		ProfileImageURL:      u.ProfileImageURL,
		ProfileImageURLSmall: u.ProfileImageURLSmall,
		Role:                 u.Role,
		Content:              u.Content,
		EventType:            eventType,
		IsDeleted:            u.IsDeleted,
		Status:               StatusStarted,
		Timestamp:            at,
	}
}

// Key is the partition key: the decimal user id.
func (e UserEvent) Key() string {
	return strconv.FormatInt(e.UserID, 10)
}

// Advance returns a copy of e moved to next.
func (e UserEvent) Advance(next EventStatus) (UserEvent, error) {
	if !e.Status.CanTransitionTo(next) {
		return e, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	e.Status = next
	return e, nil
}
