package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/feed"
	"github.com/fjod/go_cart/reservation-service/internal/metrics"
	"github.com/fjod/go_cart/reservation-service/internal/notification"
	"github.com/google/uuid"
)

const (
	defaultNotificationPage = 10
	maxNotificationPage     = 50
)

// Feed is the change feed notifications are announced on.
type Feed interface {
	Publish(ctx context.Context, recipientID string, ev feed.Event) error
	Subscribe(ctx context.Context, recipientID string) (feed.Subscription, error)
}

type NotificationService struct {
	store   notification.Store
	feed    Feed
	metrics *metrics.Metrics
}

func NewNotificationService(store notification.Store, f Feed, m *metrics.Metrics) *NotificationService {
	return &NotificationService{
		store:   store,
		feed:    f,
		metrics: m,
	}
}

// Snapshot is what a watcher sees after each (possibly coalesced) feed event.
type Snapshot struct {
	UnreadCount   int64                 `json:"unread_count"`
	Notifications []domain.Notification `json:"notifications"`
}

// Notify creates and delivers a new unread notification right away. It is the entry point for in-process
// callers that have no transaction to join; reservation changes go through the outbox and arrive via Deliver.
func (s *NotificationService) Notify(ctx context.Context, recipientID, title, message string, typ domain.NotificationType, target domain.Target) (*domain.Notification, error) {
	n := &domain.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Type:        typ,
		Target:      target,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Deliver(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Deliver stores a notification built elsewhere and announces it on the feed. Redelivering an id that is
// already stored is a no-op.
func (s *NotificationService) Deliver(ctx context.Context, n *domain.Notification) error {
	if n.Target.Kind == "" {
		n.Target.Kind = domain.TargetGeneric
	}
	if n.ID == "" || n.RecipientID == "" || n.Title == "" || !n.Type.Valid() || !n.Target.Kind.Valid() {
		return ErrInvalidNotification
	}
	n.IsRead = false

	err := s.store.Insert(ctx, n)
	if errors.Is(err, notification.ErrDuplicateNotification) {
		slog.DebugContext(ctx, "notification already delivered", "notification_id", n.ID)
		return nil
	}
	if err != nil {
		return persistence("insert notification", err)
	}
	s.metrics.NotificationStored(string(n.Type))

	// the row is durable at this point; a lost announcement only delays the next re-fetch
	if err := s.feed.Publish(ctx, n.RecipientID, feed.Event{NotificationID: n.ID, CreatedAt: n.CreatedAt}); err != nil {
		slog.WarnContext(ctx, "feed publish failed", "notification_id", n.ID, "recipient_id", n.RecipientID, "error", err)
	}
	return nil
}

// List returns the newest notifications first. limit defaults to 10 and is capped at 50.
func (s *NotificationService) List(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	if recipientID == "" {
		return nil, ErrUnauthenticated
	}
	if limit <= 0 {
		limit = defaultNotificationPage
	}
	if limit > maxNotificationPage {
		limit = maxNotificationPage
	}

	list, err := s.store.ListRecent(ctx, recipientID, limit)
	if err != nil {
		return nil, persistence("list notifications", err)
	}
	return list, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	if recipientID == "" {
		return 0, ErrUnauthenticated
	}
	count, err := s.store.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, persistence("count unread notifications", err)
	}
	return count, nil
}

// MarkRead is idempotent for the recipient's own notifications.
func (s *NotificationService) MarkRead(ctx context.Context, recipientID, id string) error {
	if recipientID == "" {
		return ErrUnauthenticated
	}
	err := s.store.MarkRead(ctx, recipientID, id)
	if errors.Is(err, notification.ErrNotificationNotFound) {
		return ErrNotificationNotFound
	}
	if err != nil {
		return persistence("mark notification read", err)
	}
	return nil
}

// MarkAllRead returns the number of notifications that were unread.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	if recipientID == "" {
		return 0, ErrUnauthenticated
	}
	n, err := s.store.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, persistence("mark all notifications read", err)
	}
	return n, nil
}

func (s *NotificationService) Delete(ctx context.Context, recipientID, id string) error {
	if recipientID == "" {
		return ErrUnauthenticated
	}
	if _, err := s.store.Delete(ctx, recipientID, id); err != nil {
		return persistence("delete notification", err)
	}
	return nil
}

func (s *NotificationService) Snapshot(ctx context.Context, recipientID string, limit int) (*Snapshot, error) {
	list, err := s.List(ctx, recipientID, limit)
	if err != nil {
		return nil, err
	}
	count, err := s.UnreadCount(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{UnreadCount: count, Notifications: list}, nil
}

// Watch emits a snapshot immediately and then one re-fetched snapshot per burst of feed events.
// It returns when ctx is done, emit fails, or the feed subscription ends.
func (s *NotificationService) Watch(ctx context.Context, recipientID string, limit int, emit func(*Snapshot) error) error {
	if recipientID == "" {
		return ErrUnauthenticated
	}

	sub, err := s.feed.Subscribe(ctx, recipientID)
	if err != nil {
		return persistence("subscribe to feed", err)
	}
	defer sub.Close()

	// subscribe before the first read so nothing inserted in between is missed
	snap, err := s.Snapshot(ctx, recipientID, limit)
	if err != nil {
		return err
	}
	if err := emit(snap); err != nil {
		return err
	}

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return ErrFeedClosed
			}
			if !drain(events) {
				return ErrFeedClosed
			}

			snap, err := s.Snapshot(ctx, recipientID, limit)
			if err != nil {
				return err
			}
			if err := emit(snap); err != nil {
				return err
			}
		}
	}
}

// drain discards already queued events and reports whether the channel is still open.
func drain(events <-chan feed.Event) bool {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}
