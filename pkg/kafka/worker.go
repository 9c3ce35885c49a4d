package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one message.
type Handler func(ctx context.Context, msg kafka.Message) error

// laneKey identifies a partition; a group reader may span several topics.
type laneKey struct {
	topic     string
	partition int
}

// Worker consumes a reader with one lane per topic partition. A lane handles its
// messages strictly in offset order and commits each one only after it
// succeeded or was dead-lettered, so a key never has two messages in flight.
type Worker struct {
	name    string
	reader  MessageReader
	handle  Handler
	router  *DeadLetterRouter
	laneBuf int
	lanes   *xsync.MapOf[laneKey, chan kafka.Message]
	log     *logrus.Entry
}

// NewWorker builds a worker. With a nil router, handler errors are logged and
// the message is committed anyway; use that only for passive consumers.
func NewWorker(name string, reader MessageReader, handle Handler, router *DeadLetterRouter) *Worker {
	return &Worker{
		name:    name,
		reader:  reader,
		handle:  handle,
		router:  router,
		laneBuf: 64,
		lanes:   xsync.NewMapOf[laneKey, chan kafka.Message](),
		log:     logrus.WithFields(logrus.Fields{"component": "worker", "worker": name}),
	}
}

// Lanes reports how many topic partitions currently have a lane.
func (w *Worker) Lanes() int {
	return w.lanes.Size()
}

// Run fetches until ctx is cancelled, then waits for every lane to finish its
// current message. Messages still queued are left uncommitted for redelivery.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer func() {
		w.lanes.Range(func(_ laneKey, ch chan kafka.Message) bool {
			close(ch)
			return true
		})
		wg.Wait()
		w.lanes.Clear()
	}()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: fetch message: %w", w.name, err)
		}

		key := laneKey{topic: msg.Topic, partition: msg.Partition}
		lane, loaded := w.lanes.LoadOrCompute(key, func() chan kafka.Message {
			return make(chan kafka.Message, w.laneBuf)
		})
		if !loaded {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.runLane(ctx, key, lane)
			}()
		}

		select {
		case lane <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Worker) runLane(ctx context.Context, key laneKey, lane <-chan kafka.Message) {
	w.log.WithFields(logrus.Fields{"topic": key.topic, "partition": key.partition}).Debug("lane started")
	for msg := range lane {
		if ctx.Err() != nil {
			continue
		}
		w.process(ctx, msg)
	}
}

// process runs the handler on a context that outlives shutdown so a started
// message always reaches an outcome.
func (w *Worker) process(ctx context.Context, msg kafka.Message) {
	work := context.WithoutCancel(ctx)
	log := w.log.WithFields(logrus.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset})

	err := w.handle(work, msg)
	if err != nil {
		if w.router == nil {
			log.WithError(err).Error("handler failed, skipping message")
		} else if err = w.router.Recover(ctx, msg, err, func() error { return w.handle(work, msg) }); err != nil {
			log.WithError(err).Error("message left uncommitted")
			return
		}
	}

	if err := w.reader.CommitMessages(work, msg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("commit failed")
	}
}
