package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"geoattend/internal/domain"
	"geoattend/internal/metrics"
)

// SweepLocker provides cross-process exclusion so only one sweeper instance
// runs a pass at a time. Implemented by the redis cache.
type SweepLocker interface {
	AcquireSweepLock(ctx context.Context, ttl time.Duration) (release func(), acquired bool, err error)
}

// Sweeper is the safety net behind the live monitor: it force-closes
// attendance records that are still open after their event ended. Records
// already closed by the monitor or a previous pass are no-ops, so running
// the sweep twice never produces a second check-out.
type Sweeper struct {
	repo     domain.AttendanceRepository
	engine   domain.AttendanceService
	locker   SweepLocker
	clock    domain.Clock
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(
	repo domain.AttendanceRepository,
	engine domain.AttendanceService,
	locker SweepLocker,
	clock domain.Clock,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		repo:     repo,
		engine:   engine,
		locker:   locker,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Run executes RunOnce on the configured interval until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep pass failed", "err", err)
			}
		}
	}
}

// RunOnce performs a single sweep pass. Returns the error of the pass as a
// whole; individual record failures are logged and skipped so one bad row
// cannot stall the rest of the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		release, acquired, err := s.locker.AcquireSweepLock(ctx, s.interval)
		if err != nil {
			return fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !acquired {
			s.logger.Debug("sweep already running elsewhere, skipping pass")
			return nil
		}
		defer release()
	}

	now := s.clock.Now()
	stale, err := s.repo.ListOpenEndedBefore(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list stale open records: %w", err)
	}

	metrics.SweepRuns.Inc()
	closed := 0
	for _, rec := range stale {
		settled, err := s.engine.CheckOut(ctx, rec.ID, domain.CheckOutAuto)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			s.logger.Error("sweep check-out failed", "record_id", rec.ID, "err", err)
			continue
		}
		if settled.State == domain.StateCheckedOut && settled.CheckOutReason == domain.CheckOutAuto {
			closed++
			metrics.SweepCheckouts.Inc()
		}
	}

	if len(stale) > 0 || closed > 0 {
		s.logger.Info("sweep pass complete", "stale", len(stale), "closed", closed)
	}
	return nil
}
