package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnauthenticated      = errors.New("no authenticated profile")
	ErrForbidden            = errors.New("operation not permitted for this profile")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrProductNotFound      = errors.New("product not found")
	ErrInvalidProduct       = errors.New("product needs a name, a non-negative price and stock")
	ErrProductUnavailable   = errors.New("product is inactive or out of stock")
	ErrLineNotFound         = errors.New("cart line not found")
	ErrCartNotFound         = errors.New("cart not found")
	ErrEmptyCart            = errors.New("cart is empty, nothing to reserve")
	ErrStockChanged         = errors.New("stock changed since the items were added")
	ErrPersistence          = errors.New("persistence failure")
	ErrInvalidContactMethod = errors.New("unknown contact method")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrInvalidStatus        = errors.New("unknown reservation status")
	ErrTransitionDenied     = errors.New("status transition not allowed for this profile")
	ErrIllegalTransition    = errors.New("illegal transition of reservation status")
	ErrConcurrentUpdate     = errors.New("reservation was modified concurrently")
	ErrNotesTooLong         = errors.New("notes exceed the maximum length")
	ErrInvalidNotification  = errors.New("invalid notification")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrFeedClosed           = errors.New("notification feed closed")
)

// StockChangedError lists the products whose availability no longer covers the cart.
type StockChangedError struct {
	ProductIDs []int64
}

func (e *StockChangedError) Error() string {
	ids := make([]string, len(e.ProductIDs))
	for i, id := range e.ProductIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%s: products [%s]", ErrStockChanged, strings.Join(ids, ", "))
}

func (e *StockChangedError) Is(target error) bool {
	return target == ErrStockChanged
}

// PersistenceError wraps a failed store call with the step that issued it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
