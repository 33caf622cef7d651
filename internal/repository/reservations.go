package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const reservationColumns = `id, profile_id, consultant_id, status, total_amount, notes, contact_method, version, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (*domain.Reservation, error) {
	var (
		r          domain.Reservation
		consultant sql.NullString
	)
	err := row.Scan(
		&r.ID,
		&r.ProfileID,
		&consultant,
		&r.Status,
		&r.TotalAmount,
		&r.Notes,
		&r.ContactMethod,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if consultant.Valid {
		r.ConsultantID = &consultant.String
	}
	return &r, nil
}

func (q *queries) InsertReservation(ctx context.Context, r *domain.Reservation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	query := `INSERT INTO reservations (id, profile_id, consultant_id, status, total_amount, notes, contact_method, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	          RETURNING created_at, updated_at`

	err := q.db.QueryRowContext(ctx, query,
		r.ID,
		r.ProfileID,
		r.ConsultantID,
		r.Status,
		r.TotalAmount,
		r.Notes,
		r.ContactMethod,
		r.Version).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// InsertReservationItems streams the items with COPY, which is only valid inside a transaction.
func (q *queries) InsertReservationItems(ctx context.Context, items []domain.ReservationItem) error {
	if !q.inTx {
		return ErrNotInTransaction
	}
	if len(items) == 0 {
		return nil
	}

	stmt, err := q.db.PrepareContext(ctx, pq.CopyIn("reservation_items",
		"id", "reservation_id", "position", "product_id", "pack_id", "quantity", "unit_price", "subtotal"))
	if err != nil {
		return fmt.Errorf("prepare item copy: %w", err)
	}
	defer stmt.Close()

	for i := range items {
		item := &items[i]
		if err := item.Validate(); err != nil {
			return err
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx,
			item.ID,
			item.ReservationID,
			i,
			item.ProductID,
			item.PackID,
			item.Quantity,
			item.UnitPrice,
			item.Subtotal); err != nil {
			return fmt.Errorf("copy item: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush item copy: %w", err)
	}
	return nil
}

func (q *queries) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	r, err := q.getReservation(ctx, id, false)
	if err != nil {
		return nil, err
	}

	items, err := q.listItems(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Items = items
	return r, nil
}

// GetReservationForUpdate locks the reservation row. Items are not loaded.
func (q *queries) GetReservationForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	return q.getReservation(ctx, id, q.inTx)
}

func (q *queries) getReservation(ctx context.Context, id string, lock bool) (*domain.Reservation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrReservationNotFound
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	r, err := scanReservation(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	return r, nil
}

func (q *queries) listItems(ctx context.Context, reservationID string) ([]domain.ReservationItem, error) {
	query := `SELECT id, reservation_id, product_id, pack_id, quantity, unit_price, subtotal
	          FROM reservation_items WHERE reservation_id = $1 ORDER BY position`

	rows, err := q.db.QueryContext(ctx, query, reservationID)
	if err != nil {
		return nil, fmt.Errorf("query reservation items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ReservationItem, 0)
	for rows.Next() {
		var (
			item      domain.ReservationItem
			productID sql.NullInt64
			packID    sql.NullInt64
		)
		if err := rows.Scan(
			&item.ID,
			&item.ReservationID,
			&productID,
			&packID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("scan reservation item: %w", err)
		}
		if productID.Valid {
			item.ProductID = &productID.Int64
		}
		if packID.Valid {
			item.PackID = &packID.Int64
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation items: %w", err)
	}
	return items, nil
}

func (q *queries) ListReservationsByProfile(ctx context.Context, profileID string, limit int) ([]*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
	          WHERE profile_id = $1 ORDER BY created_at DESC, id LIMIT $2`

	rows, err := q.db.QueryContext(ctx, query, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reservations by profile: %w", err)
	}
	defer rows.Close()

	reservations := make([]*domain.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return reservations, nil
}

// UpdateReservationStatus applies the change only if the row is still at version.
func (q *queries) UpdateReservationStatus(ctx context.Context, id string, status domain.ReservationStatus, version int) (*domain.Reservation, error) {
	query := `UPDATE reservations
	          SET status = $2, version = version + 1, updated_at = NOW()
	          WHERE id = $1 AND version = $3
	          RETURNING ` + reservationColumns
	return q.updateReservation(ctx, query, id, status, version)
}

func (q *queries) UpdateReservationNotes(ctx context.Context, id, notes string, version int) (*domain.Reservation, error) {
	query := `UPDATE reservations
	          SET notes = $2, version = version + 1, updated_at = NOW()
	          WHERE id = $1 AND version = $3
	          RETURNING ` + reservationColumns
	return q.updateReservation(ctx, query, id, notes, version)
}

func (q *queries) updateReservation(ctx context.Context, query, id string, value any, version int) (*domain.Reservation, error) {
	r, err := scanReservation(q.db.QueryRowContext(ctx, query, id, value, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update reservation: %w", err)
	}
	return r, nil
}

// DeleteOrphanReservations removes reservations that never received items and returns their ids.
func (q *queries) DeleteOrphanReservations(ctx context.Context, createdBefore time.Time) ([]string, error) {
	query := `DELETE FROM reservations r
	          WHERE r.created_at < $1
	            AND NOT EXISTS (SELECT 1 FROM reservation_items i WHERE i.reservation_id = r.id)
	          RETURNING r.id`

	rows, err := q.db.QueryContext(ctx, query, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("delete orphan reservations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
