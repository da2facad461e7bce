package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// ProductStore keeps the catalogue of tradable products. Orders, trades
// and allocations reference it.
type ProductStore struct {
	db *sql.DB
}

func NewProductStore(db *sql.DB) *ProductStore {
	return &ProductStore{db: db}
}

func (s *ProductStore) Create(ctx context.Context, p models.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, term)
		VALUES ($1, $2, $3)
	`, p.ID, p.Name, p.Term)
	if err != nil {
		return fmt.Errorf("create product %s: %w", p.ID, err)
	}
	return nil
}

func (s *ProductStore) Exists(ctx context.Context, id models.ProductID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *ProductStore) List(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, term FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Term); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SeedProducts inserts the configured products that are not stored yet
// and returns how many were added.
func (s *ProductStore) SeedProducts(ctx context.Context, products []models.Product) (int, error) {
	seeded := 0
	for _, p := range products {
		exists, err := s.Exists(ctx, p.ID)
		if err != nil {
			return seeded, fmt.Errorf("check product %s: %w", p.ID, err)
		}
		if exists {
			continue
		}
		if err := s.Create(ctx, p); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
