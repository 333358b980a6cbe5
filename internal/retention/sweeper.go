package retention

import (
	"context"
	"log/slog"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/storage"
)

// Sweeper refreshes rollup aggregates on a short cadence and applies the
// retention policy on a long one. Rollups therefore lag raw ingestion by
// at most the refresh interval.
type Sweeper struct {
	store  storage.Store
	cfg    *config.Manager
	logger *slog.Logger
}

func NewSweeper(store storage.Store, cfg *config.Manager, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, cfg: cfg, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) {
	go s.rollupLoop(ctx)
	go s.retentionLoop(ctx)
}

func (s *Sweeper) rollupLoop(ctx context.Context) {
	interval := s.cfg.Get().Retention.RollupInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Recompute two intervals back so buckets straddling the
			// previous refresh converge.
			since := time.Now().UTC().Add(-2 * interval)
			if err := s.store.RefreshRollups(ctx, since); err != nil {
				if s.logger != nil {
					s.logger.Error("rollup refresh failed", "err", err)
				}
				continue
			}
			if s.logger != nil {
				s.logger.Debug("rollups refreshed", "since", since)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) retentionLoop(ctx context.Context) {
	cfg := s.cfg.Get().Retention
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.store.ApplyRetention(ctx, s.cfg.Get().Retention); err != nil {
				if s.logger != nil {
					s.logger.Error("retention sweep failed", "err", err)
				}
				continue
			}
			if s.logger != nil {
				s.logger.Info("retention applied",
					"raw_days", cfg.RawDays,
					"hourly_days", cfg.HourlyDays,
					"daily_days", cfg.DailyDays)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RefreshNow forces a rollup refresh covering the given span, used at
// startup and by admin calls.
func (s *Sweeper) RefreshNow(ctx context.Context, span time.Duration) error {
	return s.store.RefreshRollups(ctx, time.Now().UTC().Add(-span))
}
