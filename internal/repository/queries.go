package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

// Queries is the set of statements available both on the pool and inside InTx.
type Queries interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	LockProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
	SaveProduct(ctx context.Context, p *domain.Product) error

	GetCartByProfile(ctx context.Context, profileID string) (*domain.Cart, error)
	EnsureCart(ctx context.Context, profileID string) (*domain.Cart, error)
	ListLinesForUpdate(ctx context.Context, cartID string) ([]domain.CartLine, error)
	GetLineByProductForUpdate(ctx context.Context, cartID string, productID int64) (*domain.CartLine, error)
	GetLineForUpdate(ctx context.Context, cartID, lineID string) (*domain.CartLine, error)
	InsertLine(ctx context.Context, line *domain.CartLine) error
	UpdateLineQuantity(ctx context.Context, lineID string, quantity, stockCeiling int) error
	DeleteLine(ctx context.Context, cartID, lineID string) (bool, error)
	ClearLines(ctx context.Context, cartID string) (int64, error)

	InsertReservation(ctx context.Context, r *domain.Reservation) error
	InsertReservationItems(ctx context.Context, items []domain.ReservationItem) error
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	GetReservationForUpdate(ctx context.Context, id string) (*domain.Reservation, error)
	ListReservationsByProfile(ctx context.Context, profileID string, limit int) ([]*domain.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, status domain.ReservationStatus, version int) (*domain.Reservation, error)
	UpdateReservationNotes(ctx context.Context, id, notes string, version int) (*domain.Reservation, error)
	DeleteOrphanReservations(ctx context.Context, createdBefore time.Time) ([]string, error)

	InsertOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type OutboxEvent struct {
	ID          int64
	AggregateId string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}
