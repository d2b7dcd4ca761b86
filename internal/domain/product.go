package domain

import "time"

// Price history source tags.
const (
	SourceScraper = "scraper"
	SourceBackend = "backend"
	SourceManual  = "manual"
	SourceLocal   = "local"
)

// Product is identified by its canonical URL. It is created on first
// reference and mutated only by a completed scrape; this service never
// deletes products.
type Product struct {
	ID           int64      `db:"id"`
	URL          string     `db:"url"`
	Title        *string    `db:"title"`
	ImageURL     *string    `db:"image_url"`
	CurrentPrice *float64   `db:"current_price"`
	Currency     string     `db:"currency"`
	LastChecked  *time.Time `db:"last_checked"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// PriceHistoryEntry is append-only; rows are only removed by the bulk
// retention cleanup. Entries with a nil or non-positive price are never
// recorded.
type PriceHistoryEntry struct {
	ID        int64     `db:"id"`
	ProductID int64     `db:"product_id"`
	Price     float64   `db:"price"`
	Currency  string    `db:"currency"`
	Source    string    `db:"source"`
	ScrapedAt time.Time `db:"scraped_at"`
}

// WatchlistEntry joins a user identity to a product with an optional
// target price and a notification toggle.
type WatchlistEntry struct {
	ID            int64     `db:"id"`
	UserID        string    `db:"user_id"`
	ProductID     int64     `db:"product_id"`
	TargetPrice   *float64  `db:"target_price"`
	Currency      string    `db:"currency"`
	NotifyEnabled bool      `db:"notify_enabled"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ProductUpdate carries the extracted fields applied to a product after a
// completed scrape. Nil Title/ImageURL/Currency keep the stored value
// (coalesce); Price is authoritative on every scrape and overwrites even
// when nil.
type ProductUpdate struct {
	Title    *string
	ImageURL *string
	Price    *float64
	Currency *string
}
