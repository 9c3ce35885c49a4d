package saga

import (
	"context"
	"sync"

	kafkago "github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	mu          sync.Mutex
	msgs        []kafkago.Message
	err         error
	hadDeadline bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, w.hadDeadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Messages() []kafkago.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafkago.Message(nil), w.msgs...)
}

func (w *recordingWriter) Close() error { return nil }

type sliceReader struct {
	msgs chan kafkago.Message

	mu        sync.Mutex
	committed []kafkago.Message
}

func newSliceReader(msgs ...kafkago.Message) *sliceReader {
	r := &sliceReader{msgs: make(chan kafkago.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	}
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *sliceReader) Committed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func (r *sliceReader) Close() error { return nil }
