// Package sweeper hosts the periodic maintenance loop: stuck-job
// recovery and expired row eviction.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	jobsvc "github.com/hrygo/constellation/server/service/job"
	"github.com/hrygo/constellation/store"
)

// sweepInterval is how often maintenance runs.
const sweepInterval = time.Minute

// Runner performs periodic queue and cache maintenance.
type Runner struct {
	store  *store.Store
	jobs   *jobsvc.Service
	logger *slog.Logger
}

// NewRunner creates a sweeper.
func NewRunner(st *store.Store, jobs *jobsvc.Service, logger *slog.Logger) *Runner {
	return &Runner{
		store:  st,
		jobs:   jobs,
		logger: logger,
	}
}

// Run sweeps until the context is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance round.
func (r *Runner) RunOnce(ctx context.Context) {
	if _, err := r.jobs.ResetStuck(ctx); err != nil {
		r.logger.Error("failed to reset stuck jobs", slog.Any("error", err))
	}

	now := time.Now()
	shortCutoff := now.Add(-store.TTLShort.Duration()).Unix()

	if n, err := r.store.DeleteExpiredAccounts(ctx, shortCutoff); err != nil {
		r.logger.Error("failed to delete expired accounts", slog.Any("error", err))
	} else if n > 0 {
		r.logger.Debug("deleted expired accounts", slog.Int64("count", n))
	}

	if n, err := r.store.DeleteExpiredConnectionSets(ctx, shortCutoff); err != nil {
		r.logger.Error("failed to delete expired connection sets", slog.Any("error", err))
	} else if n > 0 {
		r.logger.Debug("deleted expired connection sets", slog.Int64("count", n))
	}

	if n, err := r.store.DeleteExpiredAnalyses(ctx, now.Unix()); err != nil {
		r.logger.Error("failed to delete expired analyses", slog.Any("error", err))
	} else if n > 0 {
		r.logger.Debug("deleted expired analyses", slog.Int64("count", n))
	}
}
