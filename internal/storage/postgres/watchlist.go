package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shakerg/ShopperPlus/internal/domain"
)

type WatchlistStore struct {
	db *sqlx.DB
}

func NewWatchlistStore(db *sqlx.DB) *WatchlistStore {
	return &WatchlistStore{db: db}
}

// Upsert is the sync path: one row per (user, product), updated_at
// bumped on conflict.
func (s *WatchlistStore) Upsert(ctx context.Context, entry *domain.WatchlistEntry) error {
	query := `
		INSERT INTO watchlist (user_id, product_id, target_price, currency, notify_enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			target_price = EXCLUDED.target_price,
			currency = EXCLUDED.currency,
			notify_enabled = EXCLUDED.notify_enabled,
			updated_at = now()`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		entry.UserID, entry.ProductID, entry.TargetPrice, entry.Currency, entry.NotifyEnabled,
	)
	if err != nil {
		return fmt.Errorf("upsert watchlist entry: %w", err)
	}
	return nil
}

// EligibleWatchers returns entries whose target condition is met by the
// current price: notifications enabled, a target price set, and the
// price at or below it.
func (s *WatchlistStore) EligibleWatchers(ctx context.Context, productID int64, currentPrice float64) ([]domain.WatchlistEntry, error) {
	query := `
		SELECT id, user_id, product_id, target_price, currency, notify_enabled,
		       created_at, updated_at
		FROM watchlist
		WHERE product_id = $1
		  AND notify_enabled
		  AND target_price IS NOT NULL
		  AND target_price >= $2`

	var entries []domain.WatchlistEntry
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &entries, query, productID, currentPrice)
	if err != nil {
		return nil, fmt.Errorf("eligible watchers for product %d: %w", productID, err)
	}
	return entries, nil
}
