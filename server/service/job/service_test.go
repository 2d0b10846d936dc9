package job

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hrygo/constellation/internal/errors"
	"github.com/hrygo/constellation/internal/profile"
	"github.com/hrygo/constellation/server/service/progress"
	"github.com/hrygo/constellation/store"
)

// fakeStore is an in-memory Store implementation mirroring the SQL
// drivers' filtering and ordering semantics.
type fakeStore struct {
	mu     sync.Mutex
	jobs   []*store.Job
	nextID int32
}

func (f *fakeStore) CreateJob(_ context.Context, create *store.Job) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	create.ID = f.nextID
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	create.UpdatedTs = create.CreatedTs
	copied := *create
	f.jobs = append(f.jobs, &copied)
	return create, nil
}

func (f *fakeStore) ListJobs(_ context.Context, find *store.FindJob) ([]*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matched := []*store.Job{}
	for _, job := range f.jobs {
		if find.ID != nil && job.ID != *find.ID {
			continue
		}
		if find.UID != nil && job.UID != *find.UID {
			continue
		}
		if find.Handle != nil && job.Handle != *find.Handle {
			continue
		}
		if len(find.Statuses) > 0 && !containsStatus(find.Statuses, job.Status) {
			continue
		}
		if find.NextAttemptBefore != nil && job.NextAttemptTs != nil && *job.NextAttemptTs > *find.NextAttemptBefore {
			continue
		}
		copied := *job
		matched = append(matched, &copied)
	}

	if find.OrderByQueue {
		sort.SliceStable(matched, func(i, j int) bool {
			if matched[i].Priority != matched[j].Priority {
				return matched[i].Priority > matched[j].Priority
			}
			return matched[i].CreatedTs < matched[j].CreatedTs
		})
	} else if find.OrderByCreatedDesc {
		sort.SliceStable(matched, func(i, j int) bool {
			if matched[i].CreatedTs != matched[j].CreatedTs {
				return matched[i].CreatedTs > matched[j].CreatedTs
			}
			return matched[i].ID > matched[j].ID
		})
	} else {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].CreatedTs < matched[j].CreatedTs
		})
	}

	if find.Limit != nil && len(matched) > *find.Limit {
		matched = matched[:*find.Limit]
	}
	return matched, nil
}

func (f *fakeStore) GetJob(ctx context.Context, find *store.FindJob) (*store.Job, error) {
	limit := 1
	find.Limit = &limit
	list, err := f.ListJobs(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (f *fakeStore) UpdateJob(_ context.Context, update *store.UpdateJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ID != update.ID {
			continue
		}
		if update.Status != nil {
			job.Status = *update.Status
		}
		if update.ClearNextAttempt {
			job.NextAttemptTs = nil
		} else if update.NextAttemptTs != nil {
			job.NextAttemptTs = update.NextAttemptTs
		}
		if update.RefreshCount != nil {
			job.RefreshCount = *update.RefreshCount
		}
		if update.LastRefreshDate != nil {
			job.LastRefreshDate = *update.LastRefreshDate
		}
		if update.Stage != nil {
			job.Stage = *update.Stage
		}
		if update.ProgressCurrent != nil {
			job.ProgressCurrent = *update.ProgressCurrent
		}
		if update.ProgressTotal != nil {
			job.ProgressTotal = *update.ProgressTotal
		}
		if update.Message != nil {
			job.Message = *update.Message
		}
		if update.Details != nil {
			job.Details = *update.Details
		}
		if update.ErrorMessage != nil {
			job.ErrorMessage = *update.ErrorMessage
		}
		job.UpdatedTs = update.UpdatedTs
		return nil
	}
	return errors.Errorf("job %d not found", update.ID)
}

func (f *fakeStore) ClaimJob(_ context.Context, id int32, nowTs int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ID != id {
			continue
		}
		if job.Status != store.JobPending {
			return false, nil
		}
		job.Status = store.JobInProgress
		job.Attempts++
		job.StartedTs = nowTs
		job.UpdatedTs = nowTs
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) ResetStuckJobs(_ context.Context, beforeTs int64, nowTs int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var reset int64
	for _, job := range f.jobs {
		if job.Status == store.JobInProgress && job.StartedTs < beforeTs {
			job.Status = store.JobPending
			job.UpdatedTs = nowTs
			reset++
		}
	}
	return reset, nil
}

func (f *fakeStore) setStatus(t *testing.T, id int32, status store.JobStatus) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ID == id {
			job.Status = status
			return
		}
	}
	t.Fatalf("job %d not found", id)
}

func containsStatus(statuses []store.JobStatus, status store.JobStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type fixture struct {
	store   *fakeStore
	broker  *progress.Broker
	service *Service
	clock   time.Time
}

func newFixture(t *testing.T, p *profile.Profile) *fixture {
	t.Helper()
	require.NoError(t, p.Validate())

	f := &fixture{
		store:  &fakeStore{},
		broker: progress.NewBroker(),
		clock:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewService(f.store, f.broker, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.service.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestCreateDedupesActiveJob(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir()})
	ctx := context.Background()

	first, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)
	require.Equal(t, store.JobPending, first.Status)

	second, err := f.service.Create(ctx, "alice.example", true, 0)
	require.NoError(t, err)
	require.Equal(t, first.UID, second.UID, "active job must be reused")
}

func TestCreateDailyQuota(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir(), DailyLimit: 5})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		created, err := f.service.Create(ctx, "alice.example", false, 0)
		require.NoError(t, err)
		require.Equal(t, store.JobPending, created.Status)
		require.EqualValues(t, i+1, created.RefreshCount)
		f.store.setStatus(t, created.ID, store.JobCompleted)
		f.advance(time.Minute)
	}

	over, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)
	require.Equal(t, store.JobRateLimited, over.Status)
	require.NotEmpty(t, over.Message)

	// Other handles keep their own budget.
	other, err := f.service.Create(ctx, "bob.example", false, 0)
	require.NoError(t, err)
	require.Equal(t, store.JobPending, other.Status)
}

func TestCreateQuotaResetsAtUTCMidnight(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir(), DailyLimit: 1})
	ctx := context.Background()

	first, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)
	require.Equal(t, store.JobPending, first.Status)
	f.store.setStatus(t, first.ID, store.JobCompleted)

	over, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)
	require.Equal(t, store.JobRateLimited, over.Status)

	// Clock starts at 12:00 UTC; crossing midnight resets the budget.
	f.advance(13 * time.Hour)
	fresh, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)
	require.Equal(t, store.JobPending, fresh.Status)
	require.EqualValues(t, 1, fresh.RefreshCount)
}

func TestPriorityHandleBypassesQuota(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir(), DailyLimit: 1, PriorityHandle: "p.example"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		created, err := f.service.Create(ctx, "p.example", false, 0)
		require.NoError(t, err)
		require.Equal(t, store.JobPending, created.Status)
		require.EqualValues(t, priorityHandleWeight, created.Priority)
		f.store.setStatus(t, created.ID, store.JobCompleted)
		f.advance(time.Minute)
	}
}

func TestClaimNextQueueOrder(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir(), PriorityHandle: "p.example"})
	ctx := context.Background()

	_, err := f.service.Create(ctx, "first.example", false, 0)
	require.NoError(t, err)
	f.advance(time.Second)
	_, err = f.service.Create(ctx, "boosted.example", false, 5)
	require.NoError(t, err)
	f.advance(time.Second)
	_, err = f.service.Create(ctx, "p.example", false, 0)
	require.NoError(t, err)

	want := []string{"p.example", "boosted.example", "first.example"}
	for _, handle := range want {
		claimed, err := f.service.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.Equal(t, handle, claimed.Handle)
		require.Equal(t, store.JobInProgress, claimed.Status)
		require.EqualValues(t, 1, claimed.Attempts)
	}

	empty, err := f.service.ClaimNext(ctx)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestClaimNextHonorsBackoffSchedule(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir()})
	ctx := context.Background()

	created, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)

	future := f.clock.Add(time.Hour).Unix()
	require.NoError(t, f.store.UpdateJob(ctx, &store.UpdateJob{
		ID:            created.ID,
		NextAttemptTs: &future,
		UpdatedTs:     f.clock.Unix(),
	}))

	claimed, err := f.service.ClaimNext(ctx)
	require.NoError(t, err)
	require.Nil(t, claimed, "job is not due yet")

	f.advance(2 * time.Hour)
	claimed, err = f.service.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
}

func TestRetryBackoffThenSuccess(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir()})
	ctx := context.Background()

	created, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)

	transient := apperrors.Transport(errors.New("connection reset"), "provider request failed")

	var delays []int64
	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := f.service.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.EqualValues(t, attempt, claimed.Attempts)

		require.NoError(t, f.service.Fail(ctx, claimed, transient))

		rescheduled, err := f.service.GetByUID(ctx, created.UID)
		require.NoError(t, err)
		require.Equal(t, store.JobPending, rescheduled.Status)
		require.NotNil(t, rescheduled.NextAttemptTs)
		delays = append(delays, *rescheduled.NextAttemptTs-f.clock.Unix())

		f.advance(time.Duration(delays[len(delays)-1]+1) * time.Second)
	}

	// 2^1 then 2^2 seconds, strictly increasing.
	require.Equal(t, []int64{2, 4}, delays)

	claimed, err := f.service.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.EqualValues(t, 3, claimed.Attempts)
	require.NoError(t, f.service.Complete(ctx, claimed, nil))

	final, err := f.service.GetByUID(ctx, created.UID)
	require.NoError(t, err)
	require.Equal(t, store.JobCompleted, final.Status)
	require.Nil(t, final.NextAttemptTs)
}

func TestFailTerminalAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir()})
	ctx := context.Background()

	created, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)

	transient := apperrors.Transport(errors.New("boom"), "provider request failed")
	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		claimed, err := f.service.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.NoError(t, f.service.Fail(ctx, claimed, transient))
		f.advance(time.Minute)
	}

	final, err := f.service.GetByUID(ctx, created.UID)
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, final.Status)
	require.NotEmpty(t, final.ErrorMessage)
}

func TestFailNonRetryableIsTerminal(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir()})
	ctx := context.Background()

	_, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)

	claimed, err := f.service.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, f.service.Fail(ctx, claimed, apperrors.Unauthorized("bad token")))

	final, err := f.service.GetByUID(ctx, claimed.UID)
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, final.Status, "auth errors must not be retried")
}

func TestResetStuck(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir()})
	ctx := context.Background()

	created, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)
	claimed, err := f.service.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Within the threshold nothing happens.
	reset, err := f.service.ResetStuck(ctx)
	require.NoError(t, err)
	require.Zero(t, reset)

	f.advance(6 * time.Minute)
	reset, err = f.service.ResetStuck(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, reset)

	recovered, err := f.service.GetByUID(ctx, created.UID)
	require.NoError(t, err)
	require.Equal(t, store.JobPending, recovered.Status)
}

func TestUpdateProgressPublishes(t *testing.T) {
	f := newFixture(t, &profile.Profile{Data: t.TempDir()})
	ctx := context.Background()

	created, err := f.service.Create(ctx, "alice.example", false, 0)
	require.NoError(t, err)

	ch, cancel := f.broker.Subscribe(created.UID)
	defer cancel()

	details := &progress.UpdateDetails{ProcessedNodes: 42, ProcessedEdges: 99, DiscoveredCommunities: 3}
	require.NoError(t, f.service.UpdateProgress(ctx, created, StageAnalyzing, 2, 4, "detecting communities", details))

	update := <-ch
	require.Equal(t, StageAnalyzing, update.Stage)
	require.EqualValues(t, 2, update.Current)
	require.EqualValues(t, 4, update.Total)
	require.Equal(t, 42, update.Details.ProcessedNodes)

	persisted, err := f.service.GetByUID(ctx, created.UID)
	require.NoError(t, err)
	require.Equal(t, StageAnalyzing, persisted.Stage)
	require.Contains(t, persisted.Details, "processedNodes")
}
