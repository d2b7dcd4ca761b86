package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shakerg/ShopperPlus/internal/domain"
)

type ScrapeJobStore struct {
	db *sqlx.DB
}

func NewScrapeJobStore(db *sqlx.DB) *ScrapeJobStore {
	return &ScrapeJobStore{db: db}
}

// Enqueue inserts a pending job. retryCount carries the attempt budget
// forward on retry rows; zero for fresh jobs.
func (s *ScrapeJobStore) Enqueue(ctx context.Context, productID int64, retryCount int) (int64, error) {
	query := `
		INSERT INTO scrape_jobs (product_id, status, retry_count)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query,
		productID, domain.JobPending, retryCount,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue scrape job: %w", err)
	}
	return id, nil
}

// SelectPending returns the oldest pending jobs still within their retry
// budget, with the product URL joined in.
func (s *ScrapeJobStore) SelectPending(ctx context.Context, limit, maxRetries int) ([]domain.ScrapeJob, error) {
	query := `
		SELECT j.id, j.product_id, p.url AS product_url, j.status, j.retry_count,
		       j.error_message, j.created_at, j.started_at, j.completed_at
		FROM scrape_jobs j
		JOIN products p ON p.id = j.product_id
		WHERE j.status = $1 AND j.retry_count < $2
		ORDER BY j.created_at ASC
		LIMIT $3`

	var jobs []domain.ScrapeJob
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &jobs, query,
		domain.JobPending, maxRetries, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning claims the job. The status guard means a job already
// claimed elsewhere reports false instead of being processed twice.
func (s *ScrapeJobStore) MarkRunning(ctx context.Context, id int64) (bool, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE scrape_jobs SET status = $2, started_at = now()
		 WHERE id = $1 AND status = $3`,
		id, domain.JobRunning, domain.JobPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %d running: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *ScrapeJobStore) MarkCompleted(ctx context.Context, id int64) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE scrape_jobs SET status = $2, completed_at = now()
		 WHERE id = $1`,
		id, domain.JobCompleted,
	)
	if err != nil {
		return fmt.Errorf("mark job %d completed: %w", id, err)
	}
	return nil
}

// MarkFailed records the failure and the incremented retry count. The
// row stays failed; any retry is a fresh pending row.
func (s *ScrapeJobStore) MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE scrape_jobs SET status = $2, retry_count = $3,
		        error_message = $4, completed_at = now()
		 WHERE id = $1`,
		id, domain.JobFailed, retryCount, errMsg,
	)
	if err != nil {
		return fmt.Errorf("mark job %d failed: %w", id, err)
	}
	return nil
}

// ReclaimStale resets jobs stuck in running past the timeout back to
// pending (crash recovery; a process killed mid-chunk orphans its
// running rows).
func (s *ScrapeJobStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE scrape_jobs SET status = $1, started_at = NULL
		 WHERE status = $2 AND started_at < $3`,
		domain.JobPending, domain.JobRunning, time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}
