package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        string     `json:"id"`
	ProfileID string     `json:"profile_id"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartLine holds the unit price captured when the product was first added.
type CartLine struct {
	ID           string          `json:"id"`
	CartID       string          `json:"cart_id"`
	ProductID    int64           `json:"product_id"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	StockCeiling int             `json:"stock_ceiling"`
	AddedAt      time.Time       `json:"added_at"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return LineAmount(l.UnitPrice, l.Quantity)
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}
	for _, line := range c.Lines {
		total = total.Add(line.Subtotal())
	}
	return RoundMoney(total)
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

func (c *Cart) ProductIDs() []int64 {
	if c == nil {
		return nil
	}
	ids := make([]int64, 0, len(c.Lines))
	for _, line := range c.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}
