package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shakerg/ShopperPlus/internal/cache"
	"github.com/shakerg/ShopperPlus/internal/config"
	"github.com/shakerg/ShopperPlus/internal/domain"
	"github.com/shakerg/ShopperPlus/internal/notify"
)

// ErrEmptyExtraction marks an all-null extraction result. It is not an
// extractor error; the queue treats it as a recoverable job failure on
// the same retry path as a fetch failure.
var ErrEmptyExtraction = errors.New("extraction produced no usable data")

const maxErrorMessageLen = 1000

// ScrapeService drives the job queue: selection, chunked concurrent
// processing, retry bookkeeping, persistence and notification fan-out.
//
// A single instance is assumed to run ProcessQueue at a time; there is
// no distributed lock. The conditional claim in MarkRunning makes a
// second scheduler skip claimed jobs rather than double-process them,
// but selection itself is not isolated across processes.
type ScrapeService struct {
	jobs      JobStore
	products  ProductStore
	history   PriceHistoryStore
	watchlist WatchlistStore
	fetcher   PageFetcher
	extractor Extractor
	cache     ProductCache
	notifier  Notifier
	txManager TransactionManager
	logger    *slog.Logger
	cfg       config.ScrapeConfig
}

func NewScrapeService(
	jobs JobStore,
	products ProductStore,
	history PriceHistoryStore,
	watchlist WatchlistStore,
	pageFetcher PageFetcher,
	extractor Extractor,
	productCache ProductCache,
	notifier Notifier,
	txManager TransactionManager,
	logger *slog.Logger,
	cfg config.ScrapeConfig,
) *ScrapeService {
	return &ScrapeService{
		jobs:      jobs,
		products:  products,
		history:   history,
		watchlist: watchlist,
		fetcher:   pageFetcher,
		extractor: extractor,
		cache:     productCache,
		notifier:  notifier,
		txManager: txManager,
		logger:    logger.With("component", "scraper"),
		cfg:       cfg,
	}
}

// jobOutcome is what one job contributes to the pass stats.
type jobOutcome struct {
	completed bool
	failed    bool
	retried   bool
	notified  int
}

// ProcessQueue runs one queue pass: select up to 2×maxConcurrency
// pending jobs oldest-first, process them in sequential chunks of
// maxConcurrency with a fixed delay between chunks. Jobs within a chunk
// run concurrently; one job's failure never cancels its siblings. Only
// a systemic failure (the selection query itself) aborts the pass —
// chunks already settled stay committed.
func (s *ScrapeService) ProcessQueue(ctx context.Context) (*domain.ScrapeStats, error) {
	start := time.Now()

	jobs, err := s.jobs.SelectPending(ctx, 2*s.cfg.MaxConcurrency, s.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("select pending jobs: %w", err)
	}

	stats := &domain.ScrapeStats{Selected: len(jobs)}
	if len(jobs) == 0 {
		s.logger.Debug("queue pass: nothing pending")
		return stats, nil
	}

	s.logger.Info("queue pass started",
		"selected", len(jobs),
		"max_concurrency", s.cfg.MaxConcurrency,
	)

	for chunkStart := 0; chunkStart < len(jobs); chunkStart += s.cfg.MaxConcurrency {
		chunkEnd := chunkStart + s.cfg.MaxConcurrency
		if chunkEnd > len(jobs) {
			chunkEnd = len(jobs)
		}
		chunk := jobs[chunkStart:chunkEnd]

		var wg sync.WaitGroup
		var mu sync.Mutex

		for i := range chunk {
			job := chunk[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome := s.processJob(ctx, job)

				mu.Lock()
				defer mu.Unlock()
				if outcome.completed {
					stats.Completed++
				}
				if outcome.failed {
					stats.Failed++
				}
				if outcome.retried {
					stats.Retried++
				}
				stats.Notified += outcome.notified
			}()
		}
		wg.Wait()

		// Fixed inter-chunk delay: a deliberate, simple backpressure cap
		// on sustained throughput.
		if chunkEnd < len(jobs) {
			select {
			case <-ctx.Done():
				stats.Duration = time.Since(start)
				return stats, ctx.Err()
			case <-time.After(s.cfg.ChunkDelay):
			}
		}
	}

	stats.Duration = time.Since(start)
	s.logger.Info("queue pass completed",
		"completed", stats.Completed,
		"failed", stats.Failed,
		"retried", stats.Retried,
		"notified", stats.Notified,
		"duration", stats.Duration,
	)

	return stats, nil
}

// processJob runs the full lifecycle for one claimed job. Every error is
// converted into the failed state here; nothing escapes to the chunk.
func (s *ScrapeService) processJob(ctx context.Context, job domain.ScrapeJob) jobOutcome {
	claimed, err := s.jobs.MarkRunning(ctx, job.ID)
	if err != nil {
		s.logger.Error("claim failed", "job_id", job.ID, "error", err)
		return jobOutcome{}
	}
	if !claimed {
		s.logger.Debug("job no longer pending, skipping", "job_id", job.ID)
		return jobOutcome{}
	}

	page, err := s.fetcher.Fetch(ctx, job.ProductURL)
	if err != nil {
		return s.failJob(ctx, job, err)
	}

	res := s.extractor.Extract(page.Body, page.FinalURL)
	if res.Empty() {
		return s.failJob(ctx, job, ErrEmptyExtraction)
	}

	upd := domain.ProductUpdate{
		Title:    res.Title,
		ImageURL: res.ImageURL,
		Price:    res.Price,
	}
	if res.Currency != "" {
		upd.Currency = &res.Currency
	}

	if err := s.persist(ctx, job.ProductID, upd); err != nil {
		// The scrape itself succeeded; keep enough detail to replay the
		// write by hand before the job goes down the retry path.
		s.logger.Error("persist failed after successful extraction",
			"job_id", job.ID,
			"product_id", job.ProductID,
			"title", res.Title,
			"price", res.Price,
			"image_url", res.ImageURL,
			"error", err,
		)
		return s.failJob(ctx, job, fmt.Errorf("persist extraction: %w", err))
	}

	if err := s.jobs.MarkCompleted(ctx, job.ID); err != nil {
		s.logger.Error("mark completed failed", "job_id", job.ID, "error", err)
	}

	notified := s.finishScrape(ctx, job)

	s.logger.Info("job completed",
		"job_id", job.ID,
		"product_id", job.ProductID,
		"price", res.Price,
		"notified", notified,
	)

	return jobOutcome{completed: true, notified: notified}
}

// persist applies the product update and the history append in one
// transaction. History only records known prices: a nil price appends
// nothing.
func (s *ScrapeService) persist(ctx context.Context, productID int64, upd domain.ProductUpdate) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.products.ApplyScrape(txCtx, productID, upd); err != nil {
			return err
		}

		if upd.Price != nil {
			currency := "USD"
			if upd.Currency != nil {
				currency = *upd.Currency
			}
			entry := &domain.PriceHistoryEntry{
				ProductID: productID,
				Price:     *upd.Price,
				Currency:  currency,
				Source:    domain.SourceScraper,
				ScrapedAt: time.Now(),
			}
			if err := s.history.Append(txCtx, entry); err != nil {
				return err
			}
		}

		return nil
	})
}

// finishScrape refreshes the write-through cache from the stored row and
// fans out price alerts. Both are side effects of an already-completed
// job: their failures are logged, never propagated.
func (s *ScrapeService) finishScrape(ctx context.Context, job domain.ScrapeJob) int {
	product, err := s.products.GetByID(ctx, job.ProductID)
	if err != nil {
		s.logger.Warn("post-scrape product read failed, skipping cache and alerts",
			"product_id", job.ProductID,
			"error", err,
		)
		return 0
	}

	s.cache.SetMeta(ctx, product.ID, cache.MetaSnapshot{
		Title:    product.Title,
		ImageURL: product.ImageURL,
		URL:      product.URL,
	})
	checkedAt := time.Now()
	if product.LastChecked != nil {
		checkedAt = *product.LastChecked
	}
	s.cache.SetPrice(ctx, product.ID, cache.PriceSnapshot{
		Price:     product.CurrentPrice,
		Currency:  product.Currency,
		CheckedAt: checkedAt,
	})

	if product.CurrentPrice == nil {
		return 0
	}

	return s.notifyWatchers(ctx, product)
}

// notifyWatchers fires one alert per eligible watchlist entry. This is
// fan-out with no suppression window: every scrape that still satisfies
// the target condition re-fires.
func (s *ScrapeService) notifyWatchers(ctx context.Context, product *domain.Product) int {
	watchers, err := s.watchlist.EligibleWatchers(ctx, product.ID, *product.CurrentPrice)
	if err != nil {
		s.logger.Error("watchlist query failed", "product_id", product.ID, "error", err)
		return 0
	}

	title := product.URL
	if product.Title != nil {
		title = *product.Title
	}

	notified := 0
	for _, w := range watchers {
		alert := &notify.PriceAlert{
			UserID:       w.UserID,
			ProductTitle: title,
			ProductURL:   product.URL,
			CurrentPrice: *product.CurrentPrice,
			TargetPrice:  *w.TargetPrice,
			Currency:     product.Currency,
		}
		if err := s.notifier.NotifyPriceDrop(ctx, alert); err != nil {
			// Fire-and-forget: log, do not retry, do not fail the job.
			s.logger.Error("price alert publish failed",
				"user_id", w.UserID,
				"product_id", product.ID,
				"error", err,
			)
			continue
		}
		notified++
	}

	return notified
}

// failJob records the failure and, while the carried retry count stays
// below the maximum, spawns a fresh pending job with the incremented
// count. The failed row itself is terminal.
func (s *ScrapeService) failJob(ctx context.Context, job domain.ScrapeJob, cause error) jobOutcome {
	newCount := job.RetryCount + 1

	msg := cause.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}

	if err := s.jobs.MarkFailed(ctx, job.ID, newCount, msg); err != nil {
		s.logger.Error("mark failed failed", "job_id", job.ID, "error", err)
	}

	outcome := jobOutcome{failed: true}

	if newCount < s.cfg.MaxRetries {
		if _, err := s.jobs.Enqueue(ctx, job.ProductID, newCount); err != nil {
			s.logger.Error("retry enqueue failed",
				"job_id", job.ID,
				"product_id", job.ProductID,
				"error", err,
			)
		} else {
			outcome.retried = true
		}
	}

	s.logger.Warn("job failed",
		"job_id", job.ID,
		"product_id", job.ProductID,
		"retry_count", newCount,
		"retried", outcome.retried,
		"error", cause,
	)

	return outcome
}

// EnqueueProduct resolves the product by URL, enqueues a fresh pending
// job, then kicks an asynchronous queue pass. The trigger is an explicit
// goroutine whose failure is logged, not a silently dropped background
// call.
func (s *ScrapeService) EnqueueProduct(ctx context.Context, url string) (int64, error) {
	product, err := s.products.GetOrCreate(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("resolve product: %w", err)
	}

	jobID, err := s.jobs.Enqueue(ctx, product.ID, 0)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}

	go func() {
		passCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.ProcessQueue(passCtx); err != nil {
			s.logger.Error("queue pass after enqueue failed", "error", err)
		}
	}()

	return jobID, nil
}

// ReclaimStale resets jobs orphaned in running (crashed or torn-down
// mid-chunk) back to pending.
func (s *ScrapeService) ReclaimStale(ctx context.Context) error {
	n, err := s.jobs.ReclaimStale(ctx, s.cfg.StaleAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("reclaimed stale running jobs", "count", n)
	}
	return nil
}

// CleanupHistory applies the price-history retention window.
func (s *ScrapeService) CleanupHistory(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.HistoryRetention)
	n, err := s.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("price history cleanup", "deleted", n, "cutoff", cutoff)
	}
	return nil
}
