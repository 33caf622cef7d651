package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	r "github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/fjod/go_cart/reservation-service/internal/service"
	"github.com/fjod/go_cart/reservation-service/pkg/circuitbreaker"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic carries notification.requested events keyed by recipient.
const DefaultTopic = "reservation-notifications"

// ErrUnprocessable marks events no amount of retrying will deliver.
var ErrUnprocessable = errors.New("unprocessable outbox event")

// Sink accepts outbox events. Publish must return nil only once the event is durably handed off.
type Sink interface {
	Publish(ctx context.Context, event *r.OutboxEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	writer  messageWriter
	breaker *circuitbreaker.Breaker
}

func NewKafkaSink(topic string, brokers ...string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: topic,
		// same recipient, same partition: a recipient's notifications stay ordered
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return &KafkaSink{writer: w, breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("kafka-" + topic))}
}

func (s *KafkaSink) Publish(ctx context.Context, event *r.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateId),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.writer.WriteMessages(ctx, msg)
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Deliverer stores a notification; redelivering the same id must be a no-op.
type Deliverer interface {
	Deliver(ctx context.Context, n *domain.Notification) error
}

// DirectSink delivers notification events in-process when no broker is configured.
type DirectSink struct {
	notifications Deliverer
}

func NewDirectSink(d Deliverer) *DirectSink {
	return &DirectSink{notifications: d}
}

func (s *DirectSink) Publish(ctx context.Context, event *r.OutboxEvent) error {
	n, err := DecodeNotification(event.EventType, event.Payload)
	if err != nil {
		return err
	}
	err = s.notifications.Deliver(ctx, n)
	if errors.Is(err, service.ErrInvalidNotification) {
		return fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	return err
}

func (s *DirectSink) Close() error { return nil }

// DecodeNotification parses a notification.requested payload. Unknown event types and malformed payloads
// are reported as ErrUnprocessable.
func DecodeNotification(eventType string, payload []byte) (*domain.Notification, error) {
	if eventType != service.EventNotificationRequested {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrUnprocessable, eventType)
	}
	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	if n.ID == "" || n.RecipientID == "" {
		return nil, fmt.Errorf("%w: notification without id or recipient", ErrUnprocessable)
	}
	return &n, nil
}
