// Package scheduler wires up the cron entries that periodically trigger
// queue passes, the stale-job sweep and the history retention cleanup.
// The scrape core does not self-schedule; this is its external trigger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shakerg/ShopperPlus/internal/domain"
)

// QueueProcessor is the scrape core's inbound surface.
type QueueProcessor interface {
	ProcessQueue(ctx context.Context) (*domain.ScrapeStats, error)
	ReclaimStale(ctx context.Context) error
	CleanupHistory(ctx context.Context) error
}

type Config struct {
	QueueInterval time.Duration
	SweepInterval time.Duration
}

type Scheduler struct {
	cron      *cron.Cron
	processor QueueProcessor
	cfg       Config
	logger    *slog.Logger
}

func New(processor QueueProcessor, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		processor: processor,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start registers the entries and starts the cron runner. One queue pass
// runs immediately so a restart does not wait a full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(every(s.cfg.QueueInterval), func() {
		s.runQueuePass(ctx)
	})
	if err != nil {
		return fmt.Errorf("register queue pass: %w", err)
	}

	_, err = s.cron.AddFunc(every(s.cfg.SweepInterval), func() {
		if err := s.processor.ReclaimStale(ctx); err != nil {
			s.logger.Error("stale job sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register stale sweep: %w", err)
	}

	_, err = s.cron.AddFunc("@daily", func() {
		if err := s.processor.CleanupHistory(ctx); err != nil {
			s.logger.Error("history cleanup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register history cleanup: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"queue_interval", s.cfg.QueueInterval,
		"sweep_interval", s.cfg.SweepInterval,
	)

	go s.runQueuePass(ctx)

	return nil
}

// Stop halts scheduling and blocks until running entries finish, so an
// in-flight chunk drains before shared connections are closed.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// runQueuePass bounds one pass to the queue interval so passes within
// one process never stack up behind a slow predecessor.
func (s *Scheduler) runQueuePass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.cfg.QueueInterval)
	defer cancel()

	if _, err := s.processor.ProcessQueue(passCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("queue pass failed", "error", err)
	}
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}
