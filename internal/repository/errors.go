package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrCartNotFound        = errors.New("cart not found")
	ErrLineNotFound        = errors.New("cart line not found")
	ErrDuplicateLine       = errors.New("cart already has a line for this product")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrVersionConflict     = errors.New("reservation version does not match")
	ErrNotInTransaction    = errors.New("operation requires a transaction")
	ErrTransaction         = errors.New("transaction failed")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
