package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event signals that a notification was stored for a recipient. Delivery is at-least-once and
// subscribers may see several events collapse into one re-fetch.
type Event struct {
	NotificationID string    `json:"notification_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type Subscription interface {
	Events() <-chan Event
	Close() error
}

type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func (f *RedisFeed) Publish(ctx context.Context, recipientID string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := f.client.Publish(ctx, channelName(recipientID), payload).Err(); err != nil {
		return fmt.Errorf("publish feed event: %w", err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by Redis, so events published afterwards are not lost.
func (f *RedisFeed) Subscribe(ctx context.Context, recipientID string) (Subscription, error) {
	ps := f.client.Subscribe(ctx, channelName(recipientID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to feed: %w", err)
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSubscription) pump(messages <-chan *redis.Message) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("dropping malformed feed event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func channelName(recipientID string) string {
	return fmt.Sprintf("notifications:%s", recipientID)
}
