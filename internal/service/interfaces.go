package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/shakerg/ShopperPlus/internal/cache"
	"github.com/shakerg/ShopperPlus/internal/domain"
	"github.com/shakerg/ShopperPlus/internal/extract"
	"github.com/shakerg/ShopperPlus/internal/fetcher"
	"github.com/shakerg/ShopperPlus/internal/notify"
)

type ProductStore interface {
	GetOrCreate(ctx context.Context, url string) (*domain.Product, error)
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	ApplyScrape(ctx context.Context, id int64, upd domain.ProductUpdate) error
}

type PriceHistoryStore interface {
	Append(ctx context.Context, entry *domain.PriceHistoryEntry) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type JobStore interface {
	Enqueue(ctx context.Context, productID int64, retryCount int) (int64, error)
	SelectPending(ctx context.Context, limit, maxRetries int) ([]domain.ScrapeJob, error)
	MarkRunning(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type WatchlistStore interface {
	EligibleWatchers(ctx context.Context, productID int64, currentPrice float64) ([]domain.WatchlistEntry, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Page, error)
}

type Extractor interface {
	Extract(body []byte, pageURL string) *extract.Result
}

type ProductCache interface {
	SetPrice(ctx context.Context, productID int64, snap cache.PriceSnapshot)
	SetMeta(ctx context.Context, productID int64, snap cache.MetaSnapshot)
}

type Notifier interface {
	NotifyPriceDrop(ctx context.Context, alert *notify.PriceAlert) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
