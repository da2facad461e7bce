package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

type TxFunc func(ctx context.Context, tx *sql.Tx) error

func (s *PostgresStore) WithTransaction(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %v, rollback failed: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpsertOrderTx writes an order. Only the fields the engine mutates are
// updated on conflict.
func (s *PostgresStore) UpsertOrderTx(ctx context.Context, tx *sql.Tx, o models.Order) error {
	query := `
		INSERT INTO orders (id, product, side, price_cents, quantity, remaining, status, actor,
			wallet, external_ref, seq, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE
		SET remaining = EXCLUDED.remaining,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		WHERE orders.updated_at <= EXCLUDED.updated_at
	`
	_, err := tx.ExecContext(ctx, query,
		o.ID, o.Product, o.Side, int64(o.Price), o.Quantity, o.Remaining, o.Status, o.Actor,
		o.Wallet, o.ExternalRef, int64(o.Seq), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) SaveTradeTx(ctx context.Context, tx *sql.Tx, t models.Trade) error {
	query := `
		INSERT INTO trades (id, product, buy_order_id, sell_order_id, price_cents, quantity,
			lock_ref, settlement, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := tx.ExecContext(ctx, query,
		t.ID, t.Product, t.BuyOrderID, t.SellOrderID, int64(t.Price), t.Quantity,
		t.LockRef, t.Settlement, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) SaveAllocationTx(ctx context.Context, tx *sql.Tx, a models.Allocation) error {
	query := `
		INSERT INTO allocations (id, trade_id, product, buyer_wallet, seller_wallet, price_cents,
			quantity, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := tx.ExecContext(ctx, query,
		a.ID, a.TradeID, a.Product, a.BuyerWallet, a.SellerWallet, int64(a.Price),
		a.Quantity, a.State, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) SaveMatchEventTx(ctx context.Context, tx *sql.Tx, e models.MatchEvent) error {
	query := `
		INSERT INTO match_events (id, product, trade_id, bid_order_id, offer_order_id, price_cents,
			quantity, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := tx.ExecContext(ctx, query,
		e.ID, e.Product, e.TradeID, e.BidOrderID, e.OfferOrderID, int64(e.Price),
		e.Quantity, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateSettlementTx(ctx context.Context, tx *sql.Tx, t models.Trade) error {
	query := `
		UPDATE trades
		SET settlement = $1, lock_ref = $2
		WHERE id = $3
	`
	_, err := tx.ExecContext(ctx, query, t.Settlement, t.LockRef, t.ID)
	return err
}

func (s *PostgresStore) UpdateAllocationStateTx(ctx context.Context, tx *sql.Tx, tradeID string, state models.AllocationState) error {
	query := `
		UPDATE allocations
		SET state = $1
		WHERE trade_id = $2
	`
	_, err := tx.ExecContext(ctx, query, state, tradeID)
	return err
}
