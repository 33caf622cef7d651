package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/google/uuid"
)

// EventNotificationRequested is the outbox event type whose payload is a JSON domain.Notification.
const EventNotificationRequested = "notification.requested"

// enqueueNotification writes the notification into the outbox inside the caller's transaction, so it is
// delivered if and only if the surrounding change commits. The id is fixed here and makes redelivery idempotent.
func enqueueNotification(ctx context.Context, q repository.Queries, n domain.Notification) error {
	n.ID = uuid.NewString()
	n.IsRead = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := q.InsertOutboxEvent(ctx, n.RecipientID, EventNotificationRequested, payload); err != nil {
		return persistence("enqueue notification", err)
	}
	return nil
}

// recipients returns ids in order with duplicates, blanks and excluded ids removed.
func recipients(exclude string, ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// inTx surfaces begin and commit failures as persistence errors. Errors returned by fn pass through unchanged.
func inTx(ctx context.Context, repo repository.RepoInterface, fn func(q repository.Queries) error) error {
	err := repo.InTx(ctx, fn)
	if errors.Is(err, repository.ErrTransaction) {
		return persistence("transaction", err)
	}
	return err
}
