package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store/storetest"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/kafka"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

func failedResult(userID int64) models.UserEvent {
	return models.UserEvent{
		TransactionID: "tx-1",
		UserID:        userID,
		EventType:     models.EventUserCreated,
		Status:        models.StatusFailed,
		ErrorMessage:  "replica rejected user",
	}
}

func newCoordinator(t *testing.T) (*Coordinator, *storetest.Store) {
	t.Helper()
	s := storetest.New()
	s.Seed(models.User{ID: 42, Email: "yogi@example.com", Nickname: "morning_flow", Role: models.RoleStudent})
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewCoordinator(s, func() time.Time { return clock }), s
}

func TestCompensate_IgnoresNonFailures(t *testing.T) {
	c, s := newCoordinator(t)

	for _, status := range []models.EventStatus{models.StatusCompleted, models.StatusProcessing, models.StatusStarted} {
		event := failedResult(42)
		event.Status = status

		outcome, err := c.Compensate(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome.Kind)
		assert.NoError(t, outcome.Err())
	}

	_, exists := s.User(42)
	assert.True(t, exists)
	assert.Empty(t, s.EventLogs())
	assert.Zero(t, s.Calls("LockUser"))
}

func TestCompensate_DeletesExistingUser(t *testing.T) {
	c, s := newCoordinator(t)

	outcome, err := c.Compensate(context.Background(), failedResult(42))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompensated, outcome.Kind)
	assert.Equal(t, models.StatusCompensated, outcome.Status)

	_, exists := s.User(42)
	assert.False(t, exists)

	logs := s.EventLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.StepCompensation, logs[0].EventType)
	assert.Equal(t, models.LogCompleted, logs[0].Status)
	assert.Nil(t, logs[0].ErrorMessage)
	assert.NotNil(t, logs[0].CompletedAt)
}

func TestCompensate_RedeliveryIsNoOp(t *testing.T) {
	c, s := newCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.OnSyncResult(ctx, failedResult(42)))
	require.NoError(t, c.OnSyncResult(ctx, failedResult(42)))

	outcome, err := c.Compensate(ctx, failedResult(42))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompensated, outcome.Kind)
	assert.Equal(t, models.StatusCompensated, outcome.Status)

	assert.Len(t, s.EventLogs(), 1, "redelivery must not add audit records")
	assert.Equal(t, 1, s.Calls("DeleteUser"))
}

func TestCompensate_UnknownUserIsNoOp(t *testing.T) {
	c, s := newCoordinator(t)

	require.NoError(t, c.OnSyncResult(context.Background(), failedResult(7)))
	assert.Empty(t, s.EventLogs())
	assert.Zero(t, s.Calls("DeleteUser"))
}

func TestCompensate_DeleteFailureIsRecordedAndEscalated(t *testing.T) {
	c, s := newCoordinator(t)
	s.FailOn("DeleteUser", errors.New("foreign key violation"))

	err := c.OnSyncResult(context.Background(), failedResult(42))
	require.Error(t, err)

	var rollback *RollbackError
	require.True(t, errors.As(err, &rollback))
	assert.False(t, rollback.AuditFault)
	assert.Equal(t, int64(42), rollback.UserID)
	assert.True(t, rollback.Fatal())

	_, exists := s.User(42)
	assert.True(t, exists)

	logs := s.EventLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.StepCompensation, logs[0].EventType)
	assert.Equal(t, models.LogFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Contains(t, *logs[0].ErrorMessage, "foreign key violation")
}

func TestCompensate_AuditFaultWritesSecondRecord(t *testing.T) {
	tests := []struct {
		name   string
		inject func(s *storetest.Store)
	}{
		{"finish fails", func(s *storetest.Store) { s.FailOn("FinishEventLog", errors.New("connection reset")) }},
		{"commit fails", func(s *storetest.Store) { s.FailNext(storetest.OpCommit, errors.New("could not serialize access")) }},
		{"delete and finish fail", func(s *storetest.Store) {
			s.FailOn("DeleteUser", errors.New("disk full"))
			s.FailOn("FinishEventLog", errors.New("connection reset"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s := newCoordinator(t)
			tt.inject(s)

			outcome, err := c.Compensate(context.Background(), failedResult(42))
			require.NoError(t, err)
			assert.Equal(t, OutcomeFailed, outcome.Kind)
			assert.True(t, outcome.AuditFault)
			assert.Equal(t, models.StatusCompensating, outcome.Status)

			var rollback *RollbackError
			require.True(t, errors.As(outcome.Err(), &rollback))
			assert.True(t, rollback.AuditFault)

			_, exists := s.User(42)
			assert.True(t, exists, "rolled back transaction must keep the user")

			logs := s.EventLogs()
			require.Len(t, logs, 2)
			assert.Equal(t, models.StepCompensation, logs[0].EventType)
			assert.Equal(t, models.LogFailed, logs[0].Status)
			assert.Equal(t, models.StepCompensationFailed, logs[1].EventType)
			assert.Equal(t, models.LogFailed, logs[1].Status)
			require.NotNil(t, logs[1].ErrorMessage)
		})
	}
}

func TestCompensate_ProbeFailureIsOrdinaryFault(t *testing.T) {
	c, s := newCoordinator(t)
	s.FailNext("LockUser", errors.New("connection refused"))

	err := c.OnSyncResult(context.Background(), failedResult(42))
	require.Error(t, err)

	var rollback *RollbackError
	assert.False(t, errors.As(err, &rollback))
	assert.Empty(t, s.EventLogs())
}

func TestCompensate_SerializationFailureIsRetryable(t *testing.T) {
	c, s := newCoordinator(t)
	s.FailNext("LockUser", errTransient)

	err := c.OnSyncResult(context.Background(), failedResult(42))
	classify := kafka.RetryTransient(postgresTransient)
	assert.True(t, classify(err))

	s.FailOn("DeleteUser", errors.New("boom"))
	err = c.OnSyncResult(context.Background(), failedResult(42))
	assert.False(t, classify(err), "rollback errors are never retried")
}

func TestHandleMessage(t *testing.T) {
	c, s := newCoordinator(t)

	msg, err := kafka.NewJSONMessage("user-sync-result", "42", models.UserEventTypeID, failedResult(42))
	require.NoError(t, err)
	require.NoError(t, c.HandleMessage(context.Background(), msg))
	_, exists := s.User(42)
	assert.False(t, exists)

	var decodeErr *kafka.DecodeError
	err = c.HandleMessage(context.Background(), kafkago.Message{Value: []byte("{invalid json")})
	assert.True(t, errors.As(err, &decodeErr))

	err = c.HandleMessage(context.Background(), kafkago.Message{Value: []byte(`{"userId":42,"status":"DONE"}`)})
	assert.True(t, errors.As(err, &decodeErr))
}

func TestDLQObserverOnlyLogs(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	msg, err := kafka.NewJSONMessage("user-sync-result-dlq", "42", models.UserEventTypeID, failedResult(42))
	require.NoError(t, err)

	require.NoError(t, NewDLQObserver().HandleMessage(context.Background(), msg))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, int64(42), entry.Data["user_id"])
	assert.Equal(t, models.StatusFailed, entry.Data["status"])

	require.NoError(t, NewDLQObserver().HandleMessage(context.Background(), kafkago.Message{Value: []byte("garbage")}))
}
