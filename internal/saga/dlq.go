package saga

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/kafka"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

// DLQObserver logs dead-lettered sync results for operators. It never
// changes state and never fails a message.
type DLQObserver struct {
	log *logrus.Entry
}

func NewDLQObserver() *DLQObserver {
	return &DLQObserver{log: logrus.WithField("component", "dlq-observer")}
}

func (o *DLQObserver) HandleMessage(_ context.Context, msg kafkago.Message) error {
	log := o.log.WithFields(logrus.Fields{
		"topic":          msg.Topic,
		"offset":         msg.Offset,
		"original_topic": kafka.HeaderValue(msg, kafka.HeaderOriginalTopic),
		"reason":         kafka.HeaderValue(msg, kafka.HeaderExceptionMessage),
	})

	var event models.UserEvent
	if err := kafka.DecodeJSON(msg, models.UserEventTypeID, &event); err != nil {
		log.WithError(err).Warn("undecodable dead letter")
		return nil
	}

	log.WithFields(logrus.Fields{
		"user_id":        event.UserID,
		"status":         event.Status,
		"transaction_id": event.TransactionID,
	}).Warn("sync result dead-lettered")
	return nil
}
