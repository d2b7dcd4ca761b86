package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shakerg/ShopperPlus/internal/domain"
)

type PriceHistoryStore struct {
	db *sqlx.DB
}

func NewPriceHistoryStore(db *sqlx.DB) *PriceHistoryStore {
	return &PriceHistoryStore{db: db}
}

// Append records one observed price. History only ever records known
// prices: non-positive values are rejected.
func (s *PriceHistoryStore) Append(ctx context.Context, entry *domain.PriceHistoryEntry) error {
	if entry.Price <= 0 {
		return fmt.Errorf("price history entry for product %d: price must be positive, got %v",
			entry.ProductID, entry.Price)
	}

	query := `
		INSERT INTO price_history (product_id, price, currency, source, scraped_at)
		VALUES ($1, $2, $3, $4, $5)`

	scrapedAt := entry.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		entry.ProductID, entry.Price, entry.Currency, entry.Source, scrapedAt,
	)
	if err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return nil
}

func (s *PriceHistoryStore) ListByProduct(ctx context.Context, productID int64, limit int) ([]domain.PriceHistoryEntry, error) {
	query := `
		SELECT id, product_id, price, currency, source, scraped_at
		FROM price_history
		WHERE product_id = $1
		ORDER BY scraped_at DESC
		LIMIT $2`

	var entries []domain.PriceHistoryEntry
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &entries, query, productID, limit)
	return entries, err
}

// DeleteOlderThan is the bulk retention cleanup.
func (s *PriceHistoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM price_history WHERE scraped_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old price history: %w", err)
	}
	return res.RowsAffected()
}
