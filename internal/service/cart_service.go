package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/cache"
	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/metrics"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type CartService struct {
	repo    repository.RepoInterface
	cache   cache.CartCache
	metrics *metrics.Metrics
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.RepoInterface, cache cache.CartCache, m *metrics.Metrics) *CartService {
	return &CartService{
		repo:    repo,
		cache:   cache,
		metrics: m,
	}
}

// GetCart returns the profile's cart, or an empty one if the profile never added anything.
func (s *CartService) GetCart(ctx context.Context, profileID string) (*domain.Cart, error) {
	if profileID == "" {
		return nil, ErrUnauthenticated
	}

	v, err, _ := s.sfg.Do(profileID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, profileID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.WarnContext(ctx, "cart cache get failed", "profile_id", profileID, "error", err)
		}

		// read before the store so a mutation landing in between makes the fill stale
		gen, genErr := s.cache.Generation(ctx, profileID)
		if genErr != nil {
			slog.WarnContext(ctx, "cart cache generation read failed", "profile_id", profileID, "error", genErr)
		}

		cart, err = s.repo.GetCartByProfile(ctx, profileID)
		if errors.Is(err, repository.ErrCartNotFound) {
			now := time.Now()
			return &domain.Cart{
				ProfileID: profileID,
				Lines:     []domain.CartLine{},
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		}
		if err != nil {
			return nil, persistence("load cart", err)
		}

		if genErr != nil {
			return cart, nil
		}
		if errSet := s.cache.Set(ctx, profileID, cart, gen); errors.Is(errSet, cache.ErrStaleFill) {
			slog.DebugContext(ctx, "cart cache fill skipped, cart changed during load", "profile_id", profileID)
		} else if errSet != nil {
			slog.WarnContext(ctx, "cart cache set failed", "profile_id", profileID, "error", errSet)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// AddLine adds qty of a product, merging into an existing line. Quantity beyond stock is dropped silently.
func (s *CartService) AddLine(ctx context.Context, profileID string, productID int64, qty int) (*domain.CartLine, error) {
	if profileID == "" {
		return nil, ErrUnauthenticated
	}
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	var line *domain.CartLine
	err := inTx(ctx, s.repo, func(q repository.Queries) error {
		product, err := q.GetProduct(ctx, productID)
		if errors.Is(err, repository.ErrProductNotFound) {
			return ErrProductNotFound
		}
		if err != nil {
			return persistence("get product", err)
		}
		if !product.Purchasable() {
			return ErrProductUnavailable
		}

		cart, err := q.EnsureCart(ctx, profileID)
		if err != nil {
			return persistence("ensure cart", err)
		}

		existing, err := q.GetLineByProductForUpdate(ctx, cart.ID, productID)
		switch {
		case err == nil:
			existing.Quantity = product.ClampQuantity(existing.Quantity + qty)
			existing.StockCeiling = product.Stock
			if err := q.UpdateLineQuantity(ctx, existing.ID, existing.Quantity, existing.StockCeiling); err != nil {
				return persistence("update cart line", err)
			}
			line = existing
		case errors.Is(err, repository.ErrLineNotFound):
			line = &domain.CartLine{
				CartID:       cart.ID,
				ProductID:    product.ID,
				UnitPrice:    product.Price,
				Quantity:     product.ClampQuantity(qty),
				StockCeiling: product.Stock,
			}
			if err := q.InsertLine(ctx, line); err != nil {
				return persistence("insert cart line", err)
			}
		default:
			return persistence("get cart line", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(profileID)
	s.metrics.CartMutation("add")
	return line, nil
}

// SetLineQuantity clamps qty to current stock. It returns nil when the line ends up removed.
func (s *CartService) SetLineQuantity(ctx context.Context, profileID, lineID string, qty int) (*domain.CartLine, error) {
	if profileID == "" {
		return nil, ErrUnauthenticated
	}
	if qty < 1 {
		return nil, s.RemoveLine(ctx, profileID, lineID)
	}

	var line *domain.CartLine
	err := inTx(ctx, s.repo, func(q repository.Queries) error {
		cart, err := q.GetCartByProfile(ctx, profileID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return ErrLineNotFound
		}
		if err != nil {
			return persistence("load cart", err)
		}

		existing, err := q.GetLineForUpdate(ctx, cart.ID, lineID)
		if errors.Is(err, repository.ErrLineNotFound) {
			return ErrLineNotFound
		}
		if err != nil {
			return persistence("get cart line", err)
		}

		clamped := 0
		ceiling := 0
		product, err := q.GetProduct(ctx, existing.ProductID)
		switch {
		case err == nil:
			clamped = product.ClampQuantity(qty)
			ceiling = product.Stock
		case !errors.Is(err, repository.ErrProductNotFound):
			return persistence("get product", err)
		}

		if clamped == 0 {
			if _, err := q.DeleteLine(ctx, cart.ID, existing.ID); err != nil {
				return persistence("delete cart line", err)
			}
			return nil
		}

		existing.Quantity = clamped
		existing.StockCeiling = ceiling
		if err := q.UpdateLineQuantity(ctx, existing.ID, clamped, ceiling); err != nil {
			return persistence("update cart line", err)
		}
		line = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(profileID)
	s.metrics.CartMutation("set_quantity")
	return line, nil
}

// RemoveLine is idempotent. Removing an absent line succeeds without touching anything.
func (s *CartService) RemoveLine(ctx context.Context, profileID, lineID string) error {
	if profileID == "" {
		return ErrUnauthenticated
	}

	cart, err := s.repo.GetCartByProfile(ctx, profileID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return persistence("load cart", err)
	}

	removed, err := s.repo.DeleteLine(ctx, cart.ID, lineID)
	if err != nil {
		return persistence("delete cart line", err)
	}
	if removed {
		s.invalidateCache(profileID)
		s.metrics.CartMutation("remove")
	}
	return nil
}

// Clear empties the cart. The cart row itself is kept.
func (s *CartService) Clear(ctx context.Context, profileID string) error {
	if profileID == "" {
		return ErrUnauthenticated
	}

	cart, err := s.repo.GetCartByProfile(ctx, profileID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return persistence("load cart", err)
	}

	n, err := s.repo.ClearLines(ctx, cart.ID)
	if err != nil {
		return persistence("clear cart", err)
	}
	if n > 0 {
		s.invalidateCache(profileID)
		s.metrics.CartMutation("clear")
	}
	return nil
}

func (s *CartService) Total(ctx context.Context, profileID string) (decimal.Decimal, error) {
	cart, err := s.GetCart(ctx, profileID)
	if err != nil {
		return decimal.Zero, err
	}
	return cart.Total(), nil
}

func (s *CartService) invalidateCache(profileID string) {
	invalidateCart(s.cache, profileID)
}

func invalidateCart(c cache.CartCache, profileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Delete(ctx, profileID); err != nil {
		slog.Warn("cart cache invalidate failed", "profile_id", profileID, "error", err)
	}
}
