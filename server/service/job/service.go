// Package job implements the persistent analysis work queue: creation
// with dedupe and daily quotas, atomic claiming, retry with backoff,
// stuck-job recovery and progress publication.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	apperrors "github.com/hrygo/constellation/internal/errors"
	"github.com/hrygo/constellation/internal/profile"
	"github.com/hrygo/constellation/server/service/progress"
	"github.com/hrygo/constellation/store"
)

const (
	// DefaultMaxAttempts is how often a job is tried before terminal failure.
	DefaultMaxAttempts = 3
	// priorityHandleWeight sorts configured priority-handle jobs above
	// every caller-supplied priority.
	priorityHandleWeight = 100
	// claimBatchSize bounds how many due jobs one claim round inspects.
	claimBatchSize = 10
	// refreshDateLayout is the UTC calendar day used for quota bookkeeping.
	refreshDateLayout = "2006-01-02"
)

// Stage names, in pipeline order.
const (
	StageInitializing = "initializing"
	StageCollecting   = "collecting"
	StageAnalyzing    = "analyzing"
	StageProcessing   = "processing"
	StageCompleted    = "completed"
	StageError        = "error"
)

// Store is the subset of the storage layer the job service needs.
// Satisfied by *store.Store; tests substitute a fake.
type Store interface {
	CreateJob(ctx context.Context, create *store.Job) (*store.Job, error)
	ListJobs(ctx context.Context, find *store.FindJob) ([]*store.Job, error)
	GetJob(ctx context.Context, find *store.FindJob) (*store.Job, error)
	UpdateJob(ctx context.Context, update *store.UpdateJob) error
	ClaimJob(ctx context.Context, id int32, nowTs int64) (bool, error)
	ResetStuckJobs(ctx context.Context, beforeTs int64, nowTs int64) (int64, error)
}

// Service manages job lifecycle.
type Service struct {
	store   Store
	broker  *progress.Broker
	profile *profile.Profile
	logger  *slog.Logger

	// Overridable in tests.
	now func() time.Time
}

// NewService creates a job service.
func NewService(st Store, broker *progress.Broker, profile *profile.Profile, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		broker:  broker,
		profile: profile,
		logger:  logger,
		now:     time.Now,
	}
}

// Create registers an analysis job for the handle. If an active
// (pending or in-progress) job already exists it is returned instead of
// creating a duplicate. A handle over its daily refresh quota gets a
// terminal rate_limited job that is never enqueued; the configured
// priority handle bypasses the quota entirely.
func (s *Service) Create(ctx context.Context, handle string, force bool, priority int32) (*store.Job, error) {
	if handle == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidArgument, "handle is required")
	}

	active, err := s.store.GetJob(ctx, &store.FindJob{
		Handle:   &handle,
		Statuses: []store.JobStatus{store.JobPending, store.JobInProgress},
	})
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	isPriority := s.isPriorityHandle(handle)
	if isPriority && priority < priorityHandleWeight {
		priority = priorityHandleWeight
	}

	now := s.now().UTC()
	today := now.Format(refreshDateLayout)
	refreshesToday, err := s.refreshesOn(ctx, handle, today)
	if err != nil {
		return nil, err
	}

	create := &store.Job{
		UID:             shortuuid.New(),
		Handle:          handle,
		Status:          store.JobPending,
		Priority:        priority,
		Force:           force,
		MaxAttempts:     DefaultMaxAttempts,
		RefreshCount:    refreshesToday + 1,
		LastRefreshDate: today,
		Stage:           StageInitializing,
	}

	if !isPriority && int(refreshesToday) >= s.profile.DailyLimit {
		create.Status = store.JobRateLimited
		create.Stage = StageError
		create.RefreshCount = refreshesToday
		create.Message = fmt.Sprintf("daily refresh limit of %d reached for %s, try again tomorrow", s.profile.DailyLimit, handle)
	}

	created, err := s.store.CreateJob(ctx, create)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job created",
		slog.String("job_uid", created.UID),
		slog.String("handle", created.Handle),
		slog.String("status", string(created.Status)),
	)
	return created, nil
}

// GetByUID returns the job with the given UID, or nil.
func (s *Service) GetByUID(ctx context.Context, uid string) (*store.Job, error) {
	return s.store.GetJob(ctx, &store.FindJob{UID: &uid})
}

// ClaimNext atomically claims the next due pending job, or returns nil
// when the queue is empty. Ordering: configured priority handle first,
// then priority descending, then oldest first. Jobs with a future
// next_attempt_ts are not due yet.
func (s *Service) ClaimNext(ctx context.Context) (*store.Job, error) {
	nowTs := s.now().Unix()
	limit := claimBatchSize
	candidates, err := s.store.ListJobs(ctx, &store.FindJob{
		Statuses:          []store.JobStatus{store.JobPending},
		NextAttemptBefore: &nowTs,
		OrderByQueue:      true,
		Limit:             &limit,
	})
	if err != nil {
		return nil, err
	}

	ordered := make([]*store.Job, 0, len(candidates))
	for _, candidate := range candidates {
		if s.isPriorityHandle(candidate.Handle) {
			ordered = append(ordered, candidate)
		}
	}
	for _, candidate := range candidates {
		if !s.isPriorityHandle(candidate.Handle) {
			ordered = append(ordered, candidate)
		}
	}

	for _, candidate := range ordered {
		claimed, err := s.store.ClaimJob(ctx, candidate.ID, nowTs)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// Lost the race to a concurrent worker, try the next one.
			continue
		}
		return s.store.GetJob(ctx, &store.FindJob{ID: &candidate.ID})
	}
	return nil, nil
}

// Complete marks a job successfully finished and publishes the final
// progress update.
func (s *Service) Complete(ctx context.Context, job *store.Job, details *progress.UpdateDetails) error {
	status := store.JobCompleted
	stage := StageCompleted
	message := "analysis complete"
	detailsDoc, err := encodeDetails(details)
	if err != nil {
		return err
	}

	update := &store.UpdateJob{
		ID:               job.ID,
		Status:           &status,
		Stage:            &stage,
		Message:          &message,
		ClearNextAttempt: true,
		UpdatedTs:        s.now().Unix(),
	}
	if detailsDoc != "" {
		update.Details = &detailsDoc
	}
	if err := s.store.UpdateJob(ctx, update); err != nil {
		return err
	}

	s.broker.Publish(job.UID, progress.Update{
		JobUID:  job.UID,
		Status:  string(status),
		Stage:   stage,
		Current: job.ProgressTotal,
		Total:   job.ProgressTotal,
		Message: message,
		Details: details,
	})
	s.logger.Info("job completed", slog.String("job_uid", job.UID), slog.String("handle", job.Handle))
	return nil
}

// Fail records a handler failure. Retryable failures below the attempt
// limit return to pending with exponential backoff (2^attempts
// seconds); everything else is terminal.
func (s *Service) Fail(ctx context.Context, job *store.Job, jobErr error) error {
	nowTs := s.now().Unix()
	message := jobErr.Error()

	if job.Attempts < job.MaxAttempts && apperrors.IsRetryable(jobErr) {
		backoff := int64(1) << job.Attempts
		nextAttempt := nowTs + backoff
		status := store.JobPending
		if err := s.store.UpdateJob(ctx, &store.UpdateJob{
			ID:            job.ID,
			Status:        &status,
			NextAttemptTs: &nextAttempt,
			ErrorMessage:  &message,
			UpdatedTs:     nowTs,
		}); err != nil {
			return err
		}
		s.logger.Warn("job rescheduled",
			slog.String("job_uid", job.UID),
			slog.Int("attempt", int(job.Attempts)),
			slog.Int64("backoff_seconds", backoff),
			slog.String("error", message),
		)
		return nil
	}

	status := store.JobFailed
	stage := StageError
	if err := s.store.UpdateJob(ctx, &store.UpdateJob{
		ID:           job.ID,
		Status:       &status,
		Stage:        &stage,
		ErrorMessage: &message,
		UpdatedTs:    nowTs,
	}); err != nil {
		return err
	}

	s.broker.Publish(job.UID, progress.Update{
		JobUID:  job.UID,
		Status:  string(status),
		Stage:   stage,
		Message: message,
	})
	s.logger.Error("job failed terminally",
		slog.String("job_uid", job.UID),
		slog.String("handle", job.Handle),
		slog.String("error", message),
	)
	return nil
}

// UpdateProgress persists the progress tuple and publishes it to
// subscribers.
func (s *Service) UpdateProgress(ctx context.Context, job *store.Job, stage string, current, total int32, message string, details *progress.UpdateDetails) error {
	detailsDoc, err := encodeDetails(details)
	if err != nil {
		return err
	}

	update := &store.UpdateJob{
		ID:              job.ID,
		Stage:           &stage,
		ProgressCurrent: &current,
		ProgressTotal:   &total,
		Message:         &message,
		UpdatedTs:       s.now().Unix(),
	}
	if detailsDoc != "" {
		update.Details = &detailsDoc
	}
	if err := s.store.UpdateJob(ctx, update); err != nil {
		return err
	}
	job.Stage = stage
	job.ProgressCurrent = current
	job.ProgressTotal = total

	s.broker.Publish(job.UID, progress.Update{
		JobUID:  job.UID,
		Status:  string(store.JobInProgress),
		Stage:   stage,
		Current: current,
		Total:   total,
		Message: message,
		Details: details,
	})
	return nil
}

// ResetStuck returns in_progress jobs started before the staleness
// threshold to pending.
func (s *Service) ResetStuck(ctx context.Context) (int64, error) {
	now := s.now()
	cutoff := now.Add(-s.profile.StuckThreshold).Unix()
	reset, err := s.store.ResetStuckJobs(ctx, cutoff, now.Unix())
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		s.logger.Warn("reset stuck jobs", slog.Int64("count", reset))
	}
	return reset, nil
}

func (s *Service) isPriorityHandle(handle string) bool {
	return s.profile.PriorityHandle != "" && handle == s.profile.PriorityHandle
}

// refreshesOn returns how many quota-counted refreshes the handle has
// used on the given UTC day, read off its most recent job.
func (s *Service) refreshesOn(ctx context.Context, handle, day string) (int32, error) {
	latest, err := s.store.GetJob(ctx, &store.FindJob{
		Handle:             &handle,
		OrderByCreatedDesc: true,
	})
	if err != nil {
		return 0, err
	}
	if latest == nil || latest.LastRefreshDate != day {
		return 0, nil
	}
	return latest.RefreshCount, nil
}

func encodeDetails(details *progress.UpdateDetails) (string, error) {
	if details == nil {
		return "", nil
	}
	doc, err := json.Marshal(details)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeValidation, "failed to encode progress details")
	}
	return string(doc), nil
}
