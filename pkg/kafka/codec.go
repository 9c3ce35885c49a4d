package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

const (
	// TypeHeader carries the payload type so consumers can pick a decoder.
	TypeHeader = "__TypeId__"
	// TransactionHeader mirrors the event transaction id for tracing.
	TransactionHeader = "transaction-id"
)

// DecodeError reports a payload that can never be processed.
type DecodeError struct {
	Topic     string
	Partition int
	Offset    int64
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s[%d]@%d: %v", e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NewJSONMessage encodes v as a keyed message tagged with typeID.
func NewJSONMessage(topic, key, typeID string, v any, headers ...kafka.Header) (kafka.Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", typeID, err)
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: append([]kafka.Header{{Key: TypeHeader, Value: []byte(typeID)}}, headers...),
	}, nil
}

// DecodeJSON decodes msg into v. A type header naming anything other than
// typeID is rejected; a missing header is accepted.
func DecodeJSON(msg kafka.Message, typeID string, v any) error {
	if t := HeaderValue(msg, TypeHeader); t != "" && t != typeID {
		return &DecodeError{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset,
			Err: fmt.Errorf("unexpected type %q, want %q", t, typeID)}
	}
	if err := json.Unmarshal(msg.Value, v); err != nil {
		return &DecodeError{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset, Err: err}
	}
	return nil
}

// HeaderValue returns the last value of header key, or "".
func HeaderValue(msg kafka.Message, key string) string {
	for i := len(msg.Headers) - 1; i >= 0; i-- {
		if msg.Headers[i].Key == key {
			return string(msg.Headers[i].Value)
		}
	}
	return ""
}
