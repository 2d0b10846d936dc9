package store

import (
	"context"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	// JobPending means the job is waiting to be claimed.
	JobPending JobStatus = "pending"
	// JobInProgress means a worker has claimed the job.
	JobInProgress JobStatus = "in_progress"
	// JobCompleted is the successful terminal state.
	JobCompleted JobStatus = "completed"
	// JobFailed is the terminal state after exhausting attempts.
	JobFailed JobStatus = "failed"
	// JobRateLimited is the terminal state assigned at creation time when
	// the daily refresh quota is exceeded. Never dequeued.
	JobRateLimited JobStatus = "rate_limited"
)

// Job is the object representing one analysis job.
type Job struct {
	ID          int32
	UID         string
	Handle      string
	Status      JobStatus
	Priority    int32
	Force       bool
	Attempts    int32
	MaxAttempts int32
	// NextAttemptTs gates retried jobs; nil means immediately claimable.
	NextAttemptTs *int64
	RefreshCount  int32
	// LastRefreshDate is the UTC calendar day ("2006-01-02") of the last
	// quota-counted refresh for this handle.
	LastRefreshDate string

	// Progress
	Stage           string
	ProgressCurrent int32
	ProgressTotal   int32
	Message         string
	// Details is a JSON document: processedNodes, processedEdges,
	// discoveredCommunities.
	Details string

	ErrorMessage string
	CreatedTs    int64
	UpdatedTs    int64
	StartedTs    int64
}

// FindJob is the find condition for job.
type FindJob struct {
	ID       *int32
	UID      *string
	Handle   *string
	Statuses []JobStatus

	// NextAttemptBefore selects jobs due for processing: next_attempt_ts
	// unset or at/before this timestamp.
	NextAttemptBefore *int64

	// OrderByQueue orders by priority descending then creation ascending.
	OrderByQueue bool
	// OrderByCreatedDesc orders newest first.
	OrderByCreatedDesc bool

	Limit *int
}

// UpdateJob is the update request for job.
type UpdateJob struct {
	ID               int32
	Status           *JobStatus
	NextAttemptTs    *int64
	ClearNextAttempt bool
	RefreshCount     *int32
	LastRefreshDate  *string
	Stage            *string
	ProgressCurrent  *int32
	ProgressTotal    *int32
	Message          *string
	Details          *string
	ErrorMessage     *string
	UpdatedTs        int64
}

// CreateJob creates a new job.
func (s *Store) CreateJob(ctx context.Context, create *Job) (*Job, error) {
	return s.driver.CreateJob(ctx, create)
}

// ListJobs lists jobs with filter.
func (s *Store) ListJobs(ctx context.Context, find *FindJob) ([]*Job, error) {
	return s.driver.ListJobs(ctx, find)
}

// GetJob gets one job with filter, or nil if absent.
func (s *Store) GetJob(ctx context.Context, find *FindJob) (*Job, error) {
	limit := 1
	find.Limit = &limit
	list, err := s.driver.ListJobs(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateJob updates a job.
func (s *Store) UpdateJob(ctx context.Context, update *UpdateJob) error {
	return s.driver.UpdateJob(ctx, update)
}

// ClaimJob atomically transitions a pending job to in_progress and
// increments its attempt counter. Returns false if the job was not in
// pending state (claimed by a concurrent worker or already terminal).
func (s *Store) ClaimJob(ctx context.Context, id int32, nowTs int64) (bool, error) {
	return s.driver.ClaimJob(ctx, id, nowTs)
}

// ResetStuckJobs returns in_progress jobs started before the cutoff to
// pending. Crash recovery for workers that died mid-job.
func (s *Store) ResetStuckJobs(ctx context.Context, beforeTs int64, nowTs int64) (int64, error) {
	return s.driver.ResetStuckJobs(ctx, beforeTs, nowTs)
}
