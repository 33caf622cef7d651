package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/lib/pq"
)

const productColumns = `id, name, price, stock, is_active, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.IsActive, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

// LockProducts share-locks the given products until the surrounding transaction ends.
// Ids with no row are absent from the result.
func (q *queries) LockProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`
	if q.inTx {
		query += ` ORDER BY id FOR SHARE`
	}

	rows, err := q.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]*domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (q *queries) SaveProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (id, name, price, stock, is_active, updated_at)
	          VALUES ($1, $2, $3, $4, $5, NOW())
	          ON CONFLICT (id) DO UPDATE
	          SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
	              is_active = EXCLUDED.is_active, updated_at = NOW()
	          RETURNING updated_at`

	err := q.db.QueryRowContext(ctx, query,
		p.ID,
		p.Name,
		domain.RoundMoney(p.Price),
		p.Stock,
		p.IsActive).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
