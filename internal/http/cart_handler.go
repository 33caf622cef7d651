package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

type CartService interface {
	GetCart(ctx context.Context, profileID string) (*domain.Cart, error)
	AddLine(ctx context.Context, profileID string, productID int64, qty int) (*domain.CartLine, error)
	SetLineQuantity(ctx context.Context, profileID, lineID string, qty int) (*domain.CartLine, error)
	RemoveLine(ctx context.Context, profileID, lineID string) error
	Clear(ctx context.Context, profileID string) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type cartLineDTO struct {
	domain.CartLine
	Subtotal string `json:"subtotal"`
}

type cartDTO struct {
	ID        string        `json:"id,omitempty"`
	ProfileID string        `json:"profile_id"`
	Lines     []cartLineDTO `json:"lines"`
	Total     string        `json:"total"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func toCartDTO(c *domain.Cart) cartDTO {
	lines := make([]cartLineDTO, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = toLineDTO(l)
	}
	return cartDTO{
		ID:        c.ID,
		ProfileID: c.ProfileID,
		Lines:     lines,
		Total:     c.Total().StringFixed(domain.MoneyScale),
		UpdatedAt: c.UpdatedAt,
	}
}

func toLineDTO(l domain.CartLine) cartLineDTO {
	return cartLineDTO{CartLine: l, Subtotal: l.Subtotal().StringFixed(domain.MoneyScale)}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, actorFromContext(r.Context()).ProfileID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(cart))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	line, err := h.carts.AddLine(ctx, actorFromContext(r.Context()).ProfileID, req.ProductID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toLineDTO(*line))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	line, err := h.carts.SetLineQuantity(ctx, actorFromContext(r.Context()).ProfileID, chi.URLParam(r, "line_id"), req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if line == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, toLineDTO(*line))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.RemoveLine(ctx, actorFromContext(r.Context()).ProfileID, chi.URLParam(r, "line_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.Clear(ctx, actorFromContext(r.Context()).ProfileID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
