package repository

import (
	"context"
	"encoding/json"

	"realtime_chat_service/internal/chat/domain"

	"github.com/segmentio/kafka-go"
)

// EventExporter hands published envelopes to downstream consumers.
type EventExporter interface {
	Export(ctx context.Context, key string, env domain.Envelope) error
	Close() error
}

type kafkaEventExporter struct {
	writer *kafka.Writer
}

// NewKafkaEventExporter keyed by conversation id so one conversation stays
// on one partition.
func NewKafkaEventExporter(w *kafka.Writer) EventExporter {
	return &kafkaEventExporter{writer: w}
}

func (e *kafkaEventExporter) Export(ctx context.Context, key string, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(env.Topic)},
			{Key: "operation", Value: []byte(env.Operation)},
		},
	})
}

func (e *kafkaEventExporter) Close() error {
	return e.writer.Close()
}
