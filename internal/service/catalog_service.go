package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
)

// CatalogService exposes the stock and price oracle.
type CatalogService struct {
	repo repository.RepoInterface
}

func NewCatalogService(repo repository.RepoInterface) *CatalogService {
	return &CatalogService{repo: repo}
}

func (s *CatalogService) Get(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if errors.Is(err, repository.ErrProductNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, persistence("load product", err)
	}
	return p, nil
}

// Save creates or replaces a product. Administrators only. Existing cart lines keep their captured price.
func (s *CatalogService) Save(ctx context.Context, actor domain.Actor, p *domain.Product) error {
	if !actor.Authenticated() {
		return ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if p.ID <= 0 || p.Name == "" || p.Price.IsNegative() || p.Stock < 0 {
		return ErrInvalidProduct
	}
	p.Price = domain.RoundMoney(p.Price)

	if err := s.repo.SaveProduct(ctx, p); err != nil {
		return persistence("save product", err)
	}
	slog.InfoContext(ctx, "product saved",
		"product_id", p.ID,
		"stock", p.Stock,
		"active", p.IsActive,
		"actor", actor.ProfileID)
	return nil
}
