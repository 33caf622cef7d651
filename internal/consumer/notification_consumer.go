package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/publisher"
	"github.com/fjod/go_cart/reservation-service/internal/service"
	"github.com/segmentio/kafka-go"
)

const GroupID = "notification-fanout"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer delivers notification.requested events from Kafka. Offsets are committed only after the
// notification is stored or found to be undeliverable.
type Consumer struct {
	notifications publisher.Deliverer
	reader        messageReader
	retryDelay    time.Duration
}

func NewConsumer(d publisher.Deliverer, topic string, brokers ...string) *Consumer {
	if topic == "" {
		topic = publisher.DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{notifications: d, reader: reader, retryDelay: time.Second}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.processMessage(ctx); errors.Is(err, io.EOF) {
			return
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		slog.Error("error closing kafka reader", "error", err)
	}
}

func (c *Consumer) processMessage(ctx context.Context) error {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return err
		}
		slog.ErrorContext(ctx, "error reading message", "error", err)
		c.pause(ctx)
		return err
	}

	// the reader does not rewind, so a failed delivery is retried here until it succeeds or ctx ends
	for {
		err := c.handle(ctx, m)
		if err == nil {
			break
		}
		slog.WarnContext(ctx, "notification delivery failed", "partition", m.Partition, "offset", m.Offset, "error", err)
		if !c.pause(ctx) {
			return ctx.Err()
		}
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		slog.ErrorContext(ctx, "failed to commit offset", "partition", m.Partition, "offset", m.Offset, "error", err)
		return err
	}
	return nil
}

// handle returns nil for messages that were delivered or can never be.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	n, err := publisher.DecodeNotification(eventType(m), m.Value)
	if err != nil {
		slog.ErrorContext(ctx, "skipping message", "partition", m.Partition, "offset", m.Offset, "error", err)
		return nil
	}

	err = c.notifications.Deliver(ctx, n)
	if errors.Is(err, service.ErrInvalidNotification) {
		slog.ErrorContext(ctx, "skipping invalid notification", "notification_id", n.ID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "notification delivered", "notification_id", n.ID, "recipient_id", n.RecipientID)
	return nil
}

// pause reports false when ctx ended first.
func (c *Consumer) pause(ctx context.Context) bool {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
