package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/service"
)

const wsWriteTimeout = 10 * time.Second

type NotificationService interface {
	List(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, recipientID, id string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, recipientID, id string) error
	Watch(ctx context.Context, recipientID string, limit int, emit func(*service.Snapshot) error) error
}

type NotificationHandler struct {
	notifications  NotificationService
	timeout        time.Duration
	originPatterns []string
}

func NewNotificationHandler(notifications NotificationService, timeout time.Duration, originPatterns ...string) *NotificationHandler {
	return &NotificationHandler{
		notifications:  notifications,
		timeout:        timeout,
		originPatterns: originPatterns,
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := h.notifications.List(ctx, actorFromContext(r.Context()).ProfileID, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	count, err := h.notifications.UnreadCount(ctx, actorFromContext(r.Context()).ProfileID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"unread_count": count})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.notifications.MarkRead(ctx, actorFromContext(r.Context()).ProfileID, chi.URLParam(r, "notification_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	n, err := h.notifications.MarkAllRead(ctx, actorFromContext(r.Context()).ProfileID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.notifications.Delete(ctx, actorFromContext(r.Context()).ProfileID, chi.URLParam(r, "notification_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream upgrades to a websocket and pushes a snapshot whenever the recipient's notifications change.
// It must not sit behind the request timeout middleware.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// the client never sends; CloseRead cancels ctx once it goes away
	ctx := conn.CloseRead(r.Context())

	err = h.notifications.Watch(ctx, actor.ProfileID, limit, func(s *service.Snapshot) error {
		writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		return wsjson.Write(writeCtx, conn, s)
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
	case errors.Is(err, service.ErrFeedClosed):
		_ = conn.Close(websocket.StatusTryAgainLater, "feed closed")
	default:
		slog.WarnContext(r.Context(), "notification stream ended", "profile_id", actor.ProfileID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}
