package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/observability"
)

// SweepLockKey guards the sweep so one instance runs it per interval.
const SweepLockKey = "settlement:sweep"

// Finalizer is the part of SettlementService the sweeper drives.
type Finalizer interface {
	Finalize(ctx context.Context, ref string) (FinalizeResult, error)
}

// SweepStats counts the outcome of one sweep.
type SweepStats struct {
	Pending   int
	Finalized int
	Skipped   int
	Failed    int
}

// FinalizeSweeper periodically finalizes ledger markets that have ended.
type FinalizeSweeper struct {
	ledger    domain.Ledger
	finalizer Finalizer
	locks     domain.LockManager
	interval  time.Duration
	lockTTL   time.Duration
	batch     int
	metrics   *observability.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewFinalizeSweeper returns a sweeper ticking every interval. locks may be
// nil for a single instance deployment.
func NewFinalizeSweeper(
	ledger domain.Ledger,
	finalizer Finalizer,
	locks domain.LockManager,
	interval, lockTTL time.Duration,
	logger *slog.Logger,
) *FinalizeSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 || lockTTL > interval {
		lockTTL = interval
	}
	return &FinalizeSweeper{
		ledger:    ledger,
		finalizer: finalizer,
		locks:     locks,
		interval:  interval,
		lockTTL:   lockTTL,
		batch:     100,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "finalize_sweeper")),
	}
}

func (f *FinalizeSweeper) WithMetrics(m *observability.Metrics) *FinalizeSweeper {
	f.metrics = m
	return f
}

// WithBatch sets how many pending markets are read per page.
func (f *FinalizeSweeper) WithBatch(n int) *FinalizeSweeper {
	if n > 0 {
		f.batch = n
	}
	return f
}

func (f *FinalizeSweeper) WithClock(now func() time.Time) *FinalizeSweeper {
	f.now = now
	return f
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (f *FinalizeSweeper) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "finalize sweeper started", slog.Duration("interval", f.interval))
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		if _, err := f.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			f.logger.ErrorContext(ctx, "finalize sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce finalizes every pending market. When another instance holds the
// sweep lock it returns zero stats and no error. The lease is refreshed after
// each market; once it is lost the pass stops and the rest is left to the new
// holder.
func (f *FinalizeSweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var lease domain.Lease
	if f.locks != nil {
		var err error
		lease, err = f.locks.Acquire(ctx, SweepLockKey, f.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			f.metrics.ObserveSweep("locked")
			return SweepStats{}, nil
		}
		if err != nil {
			f.metrics.ObserveSweep("error")
			return SweepStats{}, fmt.Errorf("finalize_sweeper: acquire lock: %w", err)
		}
		defer lease.Release()
	}

	// Markets this instance cannot finalize stay pending forever, so the pass
	// pages past them instead of re-reading the head of the list.
	now := f.now()
	var (
		stats  SweepStats
		cursor domain.PendingCursor
	)
	for ctx.Err() == nil {
		pending, err := f.ledger.ListPendingFinalize(ctx, now, cursor, f.batch)
		if err != nil {
			f.metrics.ObserveSweep("error")
			return stats, fmt.Errorf("finalize_sweeper: list pending: %w", err)
		}
		stats.Pending += len(pending)

		for _, m := range pending {
			if ctx.Err() != nil {
				break
			}
			f.finalizeOne(ctx, m.MarketID, &stats)

			if lease != nil {
				if err := lease.Refresh(ctx); err != nil {
					f.logger.WarnContext(ctx, "sweep lock lost, stopping pass",
						slog.String("error", err.Error()),
					)
					f.metrics.ObserveSweep("lock_lost")
					return stats, nil
				}
			}
		}

		if len(pending) < f.batch {
			break
		}
		cursor = domain.CursorAt(pending[len(pending)-1])
	}

	f.metrics.ObserveSweep("ok")
	if stats.Pending > 0 {
		f.logger.InfoContext(ctx, "finalize sweep done",
			slog.Int("pending", stats.Pending),
			slog.Int("finalized", stats.Finalized),
			slog.Int("skipped", stats.Skipped),
			slog.Int("failed", stats.Failed),
		)
	}
	return stats, nil
}

func (f *FinalizeSweeper) finalizeOne(ctx context.Context, marketID string, stats *SweepStats) {
	res, err := f.finalizer.Finalize(ctx, marketID)
	switch {
	case err == nil && !res.AlreadyFinalized:
		stats.Finalized++
	case err == nil, errors.Is(err, domain.ErrPrecondition), errors.Is(err, domain.ErrNotFound):
		// Finalized elsewhere, not ended by our clock, or no key registered here.
		stats.Skipped++
		if err != nil {
			f.logger.DebugContext(ctx, "market skipped",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	default:
		stats.Failed++
		f.logger.ErrorContext(ctx, "market finalize failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
