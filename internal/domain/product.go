package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	IsActive  bool            `json:"is_active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Purchasable reports whether at least one unit can be put in a cart.
func (p *Product) Purchasable() bool {
	return p != nil && p.IsActive && p.Stock > 0
}

// CanFulfil reports whether quantity units can be reserved right now.
func (p *Product) CanFulfil(quantity int) bool {
	return p != nil && p.IsActive && p.Stock >= quantity
}

// ClampQuantity bounds a requested quantity to [0, stock]. Zero means the line must not exist.
func (p *Product) ClampQuantity(requested int) int {
	if !p.Purchasable() || requested < 1 {
		return 0
	}
	if requested > p.Stock {
		return p.Stock
	}
	return requested
}
