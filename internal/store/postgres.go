package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// PostgresStore is the durable sink for engine state. The engine never
// reads from it; it records what the books already committed.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// SaveOrder inserts an order or updates its mutable fields.
func (s *PostgresStore) SaveOrder(ctx context.Context, o models.Order) error {
	return s.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.UpsertOrderTx(ctx, tx, o)
	})
}

// SaveExecution records a trade with its allocation and match event.
func (s *PostgresStore) SaveExecution(ctx context.Context, e engine.Execution) error {
	return s.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.SaveTradeTx(ctx, tx, e.Trade); err != nil {
			return fmt.Errorf("save trade %s: %w", e.Trade.ID, err)
		}
		if err := s.SaveAllocationTx(ctx, tx, e.Allocation); err != nil {
			return fmt.Errorf("save allocation %s: %w", e.Allocation.ID, err)
		}
		if err := s.SaveMatchEventTx(ctx, tx, e.Event); err != nil {
			return fmt.Errorf("save match event %s: %w", e.Event.ID, err)
		}
		return nil
	})
}

// SaveSettlement records a settlement outcome. A failed trade also
// terminates its allocation.
func (s *PostgresStore) SaveSettlement(ctx context.Context, t models.Trade) error {
	return s.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.UpdateSettlementTx(ctx, tx, t); err != nil {
			return fmt.Errorf("update trade %s: %w", t.ID, err)
		}
		if t.Settlement == models.SettlementFailed {
			if err := s.UpdateAllocationStateTx(ctx, tx, t.ID, models.AllocationTerminated); err != nil {
				return fmt.Errorf("terminate allocation of %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// AllocationsByWallet reads persisted allocations for a wallet, newest first.
func (s *PostgresStore) AllocationsByWallet(ctx context.Context, wallet string) ([]models.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trade_id, product, buyer_wallet, seller_wallet, price_cents, quantity, state, created_at
		FROM allocations
		WHERE buyer_wallet = $1 OR seller_wallet = $1
		ORDER BY created_at DESC
	`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Allocation
	for rows.Next() {
		var a models.Allocation
		if err := rows.Scan(&a.ID, &a.TradeID, &a.Product, &a.BuyerWallet, &a.SellerWallet,
			&a.Price, &a.Quantity, &a.State, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetDB() *sql.DB {
	return s.db
}
