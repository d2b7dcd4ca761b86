package domain

import "time"

// Scrape job states.
//
//	pending -> running -> completed
//	pending -> running -> failed (retry spawns a fresh pending row while
//	the carried retry count stays below the configured maximum)
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ScrapeJob is one attempt at scraping a product. A failed attempt stays
// failed; retries are new rows carrying the incremented retry count.
type ScrapeJob struct {
	ID           int64      `db:"id"`
	ProductID    int64      `db:"product_id"`
	ProductURL   string     `db:"product_url"`
	Status       string     `db:"status"`
	RetryCount   int        `db:"retry_count"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

// ScrapeStats summarises one ProcessQueue pass.
type ScrapeStats struct {
	Selected  int
	Completed int
	Failed    int
	Retried   int
	Notified  int
	Duration  time.Duration
}
