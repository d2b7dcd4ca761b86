package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shakerg/ShopperPlus/internal/domain"
)

type ProductStore struct {
	db *sqlx.DB
}

func NewProductStore(db *sqlx.DB) *ProductStore {
	return &ProductStore{db: db}
}

// GetOrCreate resolves a product by canonical URL, inserting a bare row
// on first reference.
func (s *ProductStore) GetOrCreate(ctx context.Context, url string) (*domain.Product, error) {
	query := `
		INSERT INTO products (url)
		VALUES ($1)
		ON CONFLICT (url) DO UPDATE SET updated_at = now()
		RETURNING id, url, title, image_url, current_price, currency,
		          last_checked, created_at, updated_at`

	var p domain.Product
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &p, query, url); err != nil {
		return nil, fmt.Errorf("get or create product: %w", err)
	}
	return &p, nil
}

func (s *ProductStore) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	query := `
		SELECT id, url, title, image_url, current_price, currency,
		       last_checked, created_at, updated_at
		FROM products
		WHERE id = $1`

	var p domain.Product
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// ApplyScrape applies a completed scrape. Title, image and currency are
// coalesced so a partial extraction never clobbers prior good data;
// price is authoritative on every scrape and overwrites even with NULL.
func (s *ProductStore) ApplyScrape(ctx context.Context, id int64, upd domain.ProductUpdate) error {
	query := `
		UPDATE products SET
			title = COALESCE($2, title),
			image_url = COALESCE($3, image_url),
			currency = COALESCE($4, currency),
			current_price = $5,
			last_checked = now(),
			updated_at = now()
		WHERE id = $1`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		id, upd.Title, upd.ImageURL, upd.Currency, upd.Price,
	)
	if err != nil {
		return fmt.Errorf("apply scrape to product %d: %w", id, err)
	}
	return nil
}
