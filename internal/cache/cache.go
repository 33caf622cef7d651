package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

// CartCache is a read-through projection of the Postgres cart. It is never written to directly by mutations,
// only dropped. Every Delete advances the profile's generation; a fill carries the generation read before
// the store was queried and is refused once a mutation has moved it on.
type CartCache interface {
	Get(ctx context.Context, profileID string) (*domain.Cart, error)
	Generation(ctx context.Context, profileID string) (int64, error)
	Set(ctx context.Context, profileID string, cart *domain.Cart, generation int64) error
	Delete(ctx context.Context, profileID string) error
}

var (
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleFill means the cart was invalidated after the caller read its generation.
	ErrStaleFill = errors.New("cart changed since generation was read")
)
