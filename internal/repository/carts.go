package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/google/uuid"
)

const lineColumns = `id, cart_id, product_id, unit_price, quantity, stock_ceiling, added_at`

func scanLine(row interface{ Scan(...any) error }) (*domain.CartLine, error) {
	var l domain.CartLine
	if err := row.Scan(&l.ID, &l.CartID, &l.ProductID, &l.UnitPrice, &l.Quantity, &l.StockCeiling, &l.AddedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (q *queries) GetCartByProfile(ctx context.Context, profileID string) (*domain.Cart, error) {
	query := `SELECT id, profile_id, created_at, updated_at FROM carts WHERE profile_id = $1`

	var c domain.Cart
	err := q.db.QueryRowContext(ctx, query, profileID).Scan(&c.ID, &c.ProfileID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	lines, err := q.listLines(ctx, c.ID, false)
	if err != nil {
		return nil, err
	}
	c.Lines = lines
	return &c, nil
}

// EnsureCart creates the profile's cart on first use. The upsert leaves the cart row locked
// for the rest of the transaction, so mutations of one cart are serialized. Lines are not loaded.
func (q *queries) EnsureCart(ctx context.Context, profileID string) (*domain.Cart, error) {
	query := `INSERT INTO carts (id, profile_id, created_at, updated_at)
	          VALUES ($1, $2, NOW(), NOW())
	          ON CONFLICT (profile_id) DO UPDATE SET updated_at = NOW()
	          RETURNING id, profile_id, created_at, updated_at`

	var c domain.Cart
	err := q.db.QueryRowContext(ctx, query, uuid.NewString(), profileID).
		Scan(&c.ID, &c.ProfileID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert cart: %w", err)
	}
	return &c, nil
}

func (q *queries) ListLinesForUpdate(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	return q.listLines(ctx, cartID, q.inTx)
}

func (q *queries) listLines(ctx context.Context, cartID string, lock bool) ([]domain.CartLine, error) {
	query := `SELECT ` + lineColumns + ` FROM cart_lines WHERE cart_id = $1 ORDER BY added_at, id`
	if lock {
		query += ` FOR UPDATE`
	}

	rows, err := q.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (q *queries) GetLineByProductForUpdate(ctx context.Context, cartID string, productID int64) (*domain.CartLine, error) {
	query := `SELECT ` + lineColumns + ` FROM cart_lines WHERE cart_id = $1 AND product_id = $2`
	return q.getLine(ctx, query, cartID, productID)
}

func (q *queries) GetLineForUpdate(ctx context.Context, cartID, lineID string) (*domain.CartLine, error) {
	if _, err := uuid.Parse(lineID); err != nil {
		return nil, ErrLineNotFound
	}
	query := `SELECT ` + lineColumns + ` FROM cart_lines WHERE cart_id = $1 AND id = $2`
	return q.getLine(ctx, query, cartID, lineID)
}

func (q *queries) getLine(ctx context.Context, query string, args ...any) (*domain.CartLine, error) {
	if q.inTx {
		query += ` FOR UPDATE`
	}
	l, err := scanLine(q.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart line: %w", err)
	}
	return l, nil
}

func (q *queries) InsertLine(ctx context.Context, line *domain.CartLine) error {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	query := `INSERT INTO cart_lines (id, cart_id, product_id, unit_price, quantity, stock_ceiling, added_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NOW())
	          RETURNING added_at`

	err := q.db.QueryRowContext(ctx, query,
		line.ID,
		line.CartID,
		line.ProductID,
		line.UnitPrice,
		line.Quantity,
		line.StockCeiling).Scan(&line.AddedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLine
		}
		return fmt.Errorf("insert cart line: %w", err)
	}
	return nil
}

func (q *queries) UpdateLineQuantity(ctx context.Context, lineID string, quantity, stockCeiling int) error {
	query := `UPDATE cart_lines SET quantity = $2, stock_ceiling = $3 WHERE id = $1`

	res, err := q.db.ExecContext(ctx, query, lineID, quantity, stockCeiling)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	if n == 0 {
		return ErrLineNotFound
	}
	return nil
}

// DeleteLine reports whether a row was removed. A missing line is not an error.
func (q *queries) DeleteLine(ctx context.Context, cartID, lineID string) (bool, error) {
	if _, err := uuid.Parse(lineID); err != nil {
		return false, nil
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1 AND id = $2`, cartID, lineID)
	if err != nil {
		return false, fmt.Errorf("delete cart line: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cart line: %w", err)
	}
	return n > 0, nil
}

func (q *queries) ClearLines(ctx context.Context, cartID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, fmt.Errorf("clear cart lines: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear cart lines: %w", err)
	}
	return n, nil
}
