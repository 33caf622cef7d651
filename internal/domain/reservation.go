package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrItemTarget = errors.New("reservation item must reference exactly one of product_id or pack_id")

type ContactMethod string

const (
	ContactMethodPhone    ContactMethod = "phone"
	ContactMethodEmail    ContactMethod = "email"
	ContactMethodWhatsApp ContactMethod = "whatsapp"
	ContactMethodInPerson ContactMethod = "in_person"
)

// ParseContactMethod maps an empty value to phone.
func ParseContactMethod(s string) (ContactMethod, bool) {
	switch ContactMethod(s) {
	case "":
		return ContactMethodPhone, true
	case ContactMethodPhone, ContactMethodEmail, ContactMethodWhatsApp, ContactMethodInPerson:
		return ContactMethod(s), true
	}
	return "", false
}

// Reservation is immutable after creation except for Status, Notes, Version and UpdatedAt.
type Reservation struct {
	ID            string            `json:"id"`
	ProfileID     string            `json:"user_profile_id"`
	ConsultantID  *string           `json:"consultant_id,omitempty"`
	Status        ReservationStatus `json:"status"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	Notes         string            `json:"notes"`
	ContactMethod ContactMethod     `json:"contact_method"`
	Version       int               `json:"version"`
	Items         []ReservationItem `json:"items,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type ReservationItem struct {
	ID            string          `json:"id"`
	ReservationID string          `json:"reservation_id"`
	ProductID     *int64          `json:"product_id,omitempty"`
	PackID        *int64          `json:"pack_id,omitempty"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

func (i ReservationItem) Validate() error {
	if (i.ProductID == nil) == (i.PackID == nil) {
		return ErrItemTarget
	}
	return nil
}

// ItemsTotal sums the item subtotals at currency precision.
func ItemsTotal(items []ReservationItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal)
	}
	return RoundMoney(total)
}
