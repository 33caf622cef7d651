package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/cache"
	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/metrics"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/google/uuid"
)

const (
	maxNotesLength    = 2000
	defaultListLimit  = 20
	maxListLimit      = 100
	defaultOrphanWait = 10 * time.Minute
)

type ReservationConfig struct {
	// AdminProfileIDs receive staff notifications about new and cancelled reservations.
	AdminProfileIDs []string
	// AdminStatusOverride lets administrators bypass the transition table.
	AdminStatusOverride bool
	// OrphanGrace is how old an item-less reservation must be before the sweep deletes it.
	OrphanGrace time.Duration
}

type ReservationService struct {
	repo    repository.RepoInterface
	cache   cache.CartCache
	metrics *metrics.Metrics
	cfg     ReservationConfig
	now     func() time.Time
}

func NewReservationService(repo repository.RepoInterface, cache cache.CartCache, m *metrics.Metrics, cfg ReservationConfig) *ReservationService {
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = defaultOrphanWait
	}
	return &ReservationService{
		repo:    repo,
		cache:   cache,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

type ConvertRequest struct {
	ProfileID     string
	CartID        string // optional; must match the profile's cart when set
	ConsultantID  *string
	Notes         string
	ContactMethod string
}

// Convert turns the profile's cart into a pending reservation and empties the cart in one transaction.
// On any error nothing is written and the cart is left as it was.
func (s *ReservationService) Convert(ctx context.Context, req ConvertRequest) (*domain.Reservation, error) {
	if req.ProfileID == "" {
		return nil, ErrUnauthenticated
	}
	contact, ok := domain.ParseContactMethod(req.ContactMethod)
	if !ok {
		return nil, ErrInvalidContactMethod
	}
	if len(req.Notes) > maxNotesLength {
		return nil, ErrNotesTooLong
	}
	if req.ConsultantID != nil && *req.ConsultantID == "" {
		req.ConsultantID = nil
	}

	var res *domain.Reservation
	err := inTx(ctx, s.repo, func(q repository.Queries) error {
		cart, err := q.EnsureCart(ctx, req.ProfileID)
		if err != nil {
			return persistence("load cart", err)
		}
		if req.CartID != "" && req.CartID != cart.ID {
			return ErrCartNotFound
		}

		// lines are re-read under lock; nothing cached or previously returned is trusted
		lines, err := q.ListLinesForUpdate(ctx, cart.ID)
		if err != nil {
			return persistence("lock cart lines", err)
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		productIDs := make([]int64, len(lines))
		for i, line := range lines {
			productIDs[i] = line.ProductID
		}
		products, err := q.LockProducts(ctx, productIDs)
		if err != nil {
			return persistence("lock products", err)
		}

		var stale []int64
		for _, line := range lines {
			p, ok := products[line.ProductID]
			if !ok || !p.CanFulfil(line.Quantity) {
				stale = append(stale, line.ProductID)
			}
		}
		if len(stale) > 0 {
			return &StockChangedError{ProductIDs: stale}
		}

		res = &domain.Reservation{
			ID:            uuid.NewString(),
			ProfileID:     req.ProfileID,
			ConsultantID:  req.ConsultantID,
			Status:        domain.ReservationStatusPending,
			Notes:         req.Notes,
			ContactMethod: contact,
			Version:       1,
		}

		items := make([]domain.ReservationItem, 0, len(lines))
		for _, line := range lines {
			productID := line.ProductID
			items = append(items, domain.ReservationItem{
				ReservationID: res.ID,
				ProductID:     &productID,
				Quantity:      line.Quantity,
				UnitPrice:     line.UnitPrice,
				Subtotal:      domain.LineAmount(line.UnitPrice, line.Quantity),
			})
		}
		res.TotalAmount = domain.ItemsTotal(items)

		if err := q.InsertReservation(ctx, res); err != nil {
			return persistence("insert reservation", err)
		}
		if err := q.InsertReservationItems(ctx, items); err != nil {
			return persistence("insert reservation items", err)
		}
		res.Items = items

		// cart-clear is the last data write; only notifications follow
		if _, err := q.ClearLines(ctx, cart.ID); err != nil {
			return persistence("clear cart", err)
		}

		return s.notifyCreated(ctx, q, res)
	})
	if err != nil {
		s.metrics.Conversion(conversionResult(err))
		slog.WarnContext(ctx, "reservation conversion failed", "profile_id", req.ProfileID, "error", err)
		return nil, err
	}

	invalidateCart(s.cache, req.ProfileID)
	s.metrics.Conversion("created")
	slog.InfoContext(ctx, "reservation created",
		"reservation_id", res.ID,
		"profile_id", res.ProfileID,
		"items", len(res.Items),
		"total", res.TotalAmount.StringFixed(domain.MoneyScale))
	return res, nil
}

func (s *ReservationService) notifyCreated(ctx context.Context, q repository.Queries, res *domain.Reservation) error {
	target := domain.Target{Kind: domain.TargetReservation, RelatedID: res.ID}

	err := enqueueNotification(ctx, q, domain.Notification{
		RecipientID: res.ProfileID,
		Title:       "Reservation received",
		Message: fmt.Sprintf("Your reservation of %d item(s) totalling %s was received. We will contact you shortly.",
			len(res.Items), res.TotalAmount.StringFixed(domain.MoneyScale)),
		Type:   domain.NotificationSuccess,
		Target: target,
	})
	if err != nil {
		return err
	}

	staff := s.cfg.AdminProfileIDs
	if res.ConsultantID != nil {
		staff = append([]string{*res.ConsultantID}, staff...)
	}
	for _, recipient := range recipients(res.ProfileID, staff...) {
		err := enqueueNotification(ctx, q, domain.Notification{
			RecipientID: recipient,
			Title:       "New reservation",
			Message: fmt.Sprintf("Reservation %s with %d item(s) totalling %s is waiting for confirmation.",
				res.ID, len(res.Items), res.TotalAmount.StringFixed(domain.MoneyScale)),
			Type:   domain.NotificationInfo,
			Target: target,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetStatus moves a reservation to status. Administrators follow the transition table unless the override
// is configured, and re-applying the current status is a no-op for them; customers may only cancel their
// own reservation while it is still open. A non-nil expectedVersion must equal the stored version.
func (s *ReservationService) SetStatus(ctx context.Context, actor domain.Actor, id, status string, expectedVersion *int) (*domain.Reservation, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthenticated
	}
	target, ok := domain.ParseReservationStatus(status)
	if !ok {
		return nil, ErrInvalidStatus
	}

	var (
		result *domain.Reservation
		from   domain.ReservationStatus
	)
	err := inTx(ctx, s.repo, func(q repository.Queries) error {
		current, err := s.lockOwned(ctx, q, actor, id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != current.Version {
			return ErrConcurrentUpdate
		}
		if !actor.IsAdmin() {
			if target != domain.ReservationStatusCancelled || !current.Status.Cancellable() {
				return ErrTransitionDenied
			}
		} else if current.Status == target {
			result = current
			return nil
		} else if !s.cfg.AdminStatusOverride && !domain.CanTransitionTo(current.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, target)
		}

		updated, err := q.UpdateReservationStatus(ctx, current.ID, target, current.Version)
		if errors.Is(err, repository.ErrVersionConflict) {
			return ErrConcurrentUpdate
		}
		if err != nil {
			return persistence("update reservation status", err)
		}
		from = current.Status
		result = updated

		if actor.IsAdmin() {
			return enqueueNotification(ctx, q, statusNotification(updated))
		}
		return s.notifyStaffOfCancel(ctx, q, updated)
	})
	if err != nil {
		return nil, err
	}

	if from != "" {
		s.metrics.StatusTransition(from.String(), target.String())
		slog.InfoContext(ctx, "reservation status changed",
			"reservation_id", result.ID,
			"from", from,
			"to", target,
			"actor", actor.ProfileID,
			"role", actor.Role)
	}
	return result, nil
}

func statusNotification(res *domain.Reservation) domain.Notification {
	var message string
	switch res.Status {
	case domain.ReservationStatusConfirmed:
		message = "Your reservation has been confirmed."
	case domain.ReservationStatusProcessing:
		message = "Your reservation is being processed."
	case domain.ReservationStatusCompleted:
		message = "Your reservation has been completed. Thank you!"
	case domain.ReservationStatusCancelled:
		message = "Your reservation has been cancelled."
	default:
		message = fmt.Sprintf("Your reservation is now %s.", res.Status)
	}
	return domain.Notification{
		RecipientID: res.ProfileID,
		Title:       fmt.Sprintf("Reservation %s", res.Status),
		Message:     message,
		Type:        domain.StatusNotificationType(res.Status),
		Target:      domain.Target{Kind: domain.TargetReservation, RelatedID: res.ID},
	}
}

func (s *ReservationService) notifyStaffOfCancel(ctx context.Context, q repository.Queries, res *domain.Reservation) error {
	staff := s.cfg.AdminProfileIDs
	if res.ConsultantID != nil {
		staff = append([]string{*res.ConsultantID}, staff...)
	}
	for _, recipient := range recipients(res.ProfileID, staff...) {
		err := enqueueNotification(ctx, q, domain.Notification{
			RecipientID: recipient,
			Title:       "Reservation cancelled by customer",
			Message:     fmt.Sprintf("Reservation %s was cancelled by the customer.", res.ID),
			Type:        domain.NotificationWarning,
			Target:      domain.Target{Kind: domain.TargetReservation, RelatedID: res.ID},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateNotes replaces the free-text notes. Owner or administrator only.
func (s *ReservationService) UpdateNotes(ctx context.Context, actor domain.Actor, id, notes string, expectedVersion *int) (*domain.Reservation, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if len(notes) > maxNotesLength {
		return nil, ErrNotesTooLong
	}

	var result *domain.Reservation
	err := inTx(ctx, s.repo, func(q repository.Queries) error {
		current, err := s.lockOwned(ctx, q, actor, id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != current.Version {
			return ErrConcurrentUpdate
		}
		if current.Notes == notes {
			result = current
			return nil
		}

		updated, err := q.UpdateReservationNotes(ctx, current.ID, notes, current.Version)
		if errors.Is(err, repository.ErrVersionConflict) {
			return ErrConcurrentUpdate
		}
		if err != nil {
			return persistence("update reservation notes", err)
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockOwned hides reservations of other profiles from customers.
func (s *ReservationService) lockOwned(ctx context.Context, q repository.Queries, actor domain.Actor, id string) (*domain.Reservation, error) {
	current, err := q.GetReservationForUpdate(ctx, id)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, persistence("load reservation", err)
	}
	if !actor.IsAdmin() && current.ProfileID != actor.ProfileID {
		return nil, ErrReservationNotFound
	}
	return current, nil
}

func (s *ReservationService) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthenticated
	}

	res, err := s.repo.GetReservation(ctx, id)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, persistence("load reservation", err)
	}
	if !actor.IsAdmin() && res.ProfileID != actor.ProfileID {
		return nil, ErrReservationNotFound
	}
	return res, nil
}

// ListMine returns the actor's reservations, newest first, without items.
func (s *ReservationService) ListMine(ctx context.Context, actor domain.Actor, limit int) ([]*domain.Reservation, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	list, err := s.repo.ListReservationsByProfile(ctx, actor.ProfileID, limit)
	if err != nil {
		return nil, persistence("list reservations", err)
	}
	return list, nil
}

// SweepOrphans deletes reservations that were written without items and are older than the grace period.
func (s *ReservationService) SweepOrphans(ctx context.Context) (int, error) {
	ids, err := s.repo.DeleteOrphanReservations(ctx, s.now().Add(-s.cfg.OrphanGrace))
	if err != nil {
		return 0, persistence("delete orphan reservations", err)
	}
	for _, id := range ids {
		slog.WarnContext(ctx, "deleted orphan reservation", "reservation_id", id)
	}
	s.metrics.OrphansDeleted(len(ids))
	return len(ids), nil
}

func conversionResult(err error) string {
	switch {
	case errors.Is(err, ErrStockChanged):
		return "stock_changed"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "rejected"
	}
}
