// Package analysis hosts the background worker loop that claims and
// processes analysis jobs.
package analysis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/constellation/internal/observability"
	"github.com/hrygo/constellation/internal/profile"
	analysissvc "github.com/hrygo/constellation/server/service/analysis"
	jobsvc "github.com/hrygo/constellation/server/service/job"
	"github.com/hrygo/constellation/store"
)

// Runner polls the queue and processes claimed jobs, at most
// MaxConcurrent at a time.
type Runner struct {
	jobs     *jobsvc.Service
	pipeline *analysissvc.Service
	profile  *profile.Profile
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[int32]struct{}
	wg       sync.WaitGroup
}

// NewRunner creates a job runner.
func NewRunner(jobs *jobsvc.Service, pipeline *analysissvc.Service, profile *profile.Profile, logger *slog.Logger) *Runner {
	return &Runner{
		jobs:     jobs,
		pipeline: pipeline,
		profile:  profile,
		logger:   logger,
		inflight: make(map[int32]struct{}),
	}
}

// Run polls until the context is canceled, then waits for in-flight
// jobs to finish. Interrupted jobs are recovered later by the
// stuck-job sweep.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.profile.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims at most one due job and starts processing it.
func (r *Runner) RunOnce(ctx context.Context) {
	r.mu.Lock()
	slots := r.profile.MaxConcurrent - len(r.inflight)
	r.mu.Unlock()
	if slots <= 0 {
		return
	}

	claimed, err := r.jobs.ClaimNext(ctx)
	if err != nil {
		r.logger.Error("failed to claim job", slog.Any("error", err))
		return
	}
	if claimed == nil {
		return
	}

	r.mu.Lock()
	r.inflight[claimed.ID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func(j *store.Job) {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, j.ID)
			r.mu.Unlock()
		}()
		r.process(ctx, j)
	}(claimed)
}

func (r *Runner) process(ctx context.Context, j *store.Job) {
	jc := observability.NewJobContext(r.logger, j.UID, j.Handle)
	jc.Info("processing job", slog.Int("attempt", int(j.Attempts)))

	if err := r.pipeline.Process(ctx, j); err != nil {
		jc.Error("job handler failed", err)
		if failErr := r.jobs.Fail(ctx, j, err); failErr != nil {
			jc.Error("failed to record job failure", failErr)
		}
		return
	}

	jc.Info("job processed", slog.Int64(observability.LogFieldDuration, jc.DurationMs()))
}
