package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/thrillee/smppgateway/internal/logging"
)

// MessageWriter is the part of *kafka.Writer the router uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRouter publishes messages to a topic, keyed by sender so one sender's
// messages stay ordered within a partition.
type KafkaRouter struct {
	writer MessageWriter
	topic  string
}

func NewKafkaRouter(brokers []string, topic string) *KafkaRouter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return NewKafkaRouterWithWriter(w, topic)
}

func NewKafkaRouterWithWriter(w MessageWriter, topic string) *KafkaRouter {
	return &KafkaRouter{writer: w, topic: topic}
}

func (r *KafkaRouter) Receive(ctx context.Context, msg Message) error {
	logCtx := logging.ContextWithMOMessageID(ctx, msg.InboundID)

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal inbound message: %w", err)
	}
	err = r.writer.WriteMessages(logCtx, kafka.Message{
		Key:   []byte(msg.From),
		Value: value,
		Headers: []kafka.Header{
			{Key: "backend", Value: []byte(msg.Backend)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to kafka topic %s: %w", r.topic, err)
	}
	slog.DebugContext(logCtx, "Inbound message published", slog.String("topic", r.topic))
	return nil
}

func (r *KafkaRouter) Close() error {
	return r.writer.Close()
}

var (
	_ Router = (*KafkaRouter)(nil)
	_ Closer = (*KafkaRouter)(nil)
)
