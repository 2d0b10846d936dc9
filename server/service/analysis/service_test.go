package analysis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/constellation/internal/profile"
	"github.com/hrygo/constellation/plugin/graph"
	"github.com/hrygo/constellation/server/service/job"
	"github.com/hrygo/constellation/server/service/progress"
	"github.com/hrygo/constellation/store"
)

type fakeSource struct {
	profiles  map[string]*store.Account
	followers map[string][]store.ConnectionRecord
	following map[string][]store.ConnectionRecord
}

func (f *fakeSource) Profile(_ context.Context, handle string, _ bool) (*store.Account, error) {
	return f.profiles[handle], nil
}

func (f *fakeSource) Followers(_ context.Context, handle string, _ bool) ([]store.ConnectionRecord, error) {
	return f.followers[handle], nil
}

func (f *fakeSource) Following(_ context.Context, handle string, _ bool) ([]store.ConnectionRecord, error) {
	return f.following[handle], nil
}

func (f *fakeSource) FollowingOf(ctx context.Context, handle string) ([]store.ConnectionRecord, error) {
	return f.Following(ctx, handle, false)
}

type fakeJobs struct {
	stages    []string
	completed bool
	details   *progress.UpdateDetails
}

func (f *fakeJobs) UpdateProgress(_ context.Context, _ *store.Job, stage string, _, _ int32, _ string, details *progress.UpdateDetails) error {
	f.stages = append(f.stages, stage)
	if details != nil {
		f.details = details
	}
	return nil
}

func (f *fakeJobs) Complete(_ context.Context, _ *store.Job, details *progress.UpdateDetails) error {
	f.completed = true
	f.details = details
	return nil
}

type fakeAnalysisStore struct {
	saved *store.Analysis
}

func (f *fakeAnalysisStore) UpsertAnalysis(_ context.Context, upsert *store.Analysis) (*store.Analysis, error) {
	f.saved = upsert
	return upsert, nil
}

func (f *fakeAnalysisStore) GetAnalysisByHandle(_ context.Context, handle string) (*store.Analysis, error) {
	if f.saved != nil && f.saved.Handle == handle {
		return f.saved, nil
	}
	return nil, nil
}

func record(did, handle string) store.ConnectionRecord {
	return store.ConnectionRecord{DID: did, Handle: handle}
}

func newTestService(src *fakeSource, deepScanLimit int) (*Service, *fakeJobs, *fakeAnalysisStore) {
	jobs := &fakeJobs{}
	st := &fakeAnalysisStore{}
	p := &profile.Profile{DeepScanLimit: deepScanLimit}
	svc := NewService(src, jobs, st, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, jobs, st
}

func TestProcessPipeline(t *testing.T) {
	alice := record("did:plc:alice", "alice.example")
	bob := record("did:plc:bob", "bob.example")
	carol := record("did:plc:carol", "carol.example")
	dave := record("did:plc:dave", "dave.example")

	src := &fakeSource{
		profiles: map[string]*store.Account{
			"subject.example": {DID: "did:plc:subject", Handle: "subject.example"},
		},
		followers: map[string][]store.ConnectionRecord{
			"subject.example": {alice, bob, carol},
		},
		following: map[string][]store.ConnectionRecord{
			// dave is followed but does not follow back.
			"subject.example": {alice, bob, dave},
			// alice and bob follow each other: a deep-scan mutual edge.
			"alice.example": {bob},
			"bob.example":   {alice},
		},
	}

	svc, jobs, st := newTestService(src, 10)

	j := &store.Job{ID: 1, UID: "job-uid", Handle: "subject.example"}
	require.NoError(t, svc.Process(context.Background(), j))

	require.True(t, jobs.completed)
	require.Equal(t, []string{
		job.StageInitializing,
		job.StageCollecting,
		job.StageAnalyzing,
		job.StageProcessing,
	}, jobs.stages)

	// Subject + 2 mutuals; 2 subject edges + 1 verified inter-mutual edge.
	require.NotNil(t, jobs.details)
	require.Equal(t, 3, jobs.details.ProcessedNodes)
	require.Equal(t, 3, jobs.details.ProcessedEdges)
	require.Equal(t, 1, jobs.details.DiscoveredCommunities)

	require.NotNil(t, st.saved)
	require.Equal(t, "did:plc:subject", st.saved.SubjectDID)
	require.EqualValues(t, 3, st.saved.FollowersCount)
	require.EqualValues(t, 3, st.saved.FollowingCount)
	require.EqualValues(t, 2, st.saved.MutualsCount)
	require.Greater(t, st.saved.ExpiresTs, st.saved.UpdatedTs)

	var communities []graph.Community
	require.NoError(t, json.Unmarshal([]byte(st.saved.Communities), &communities))
	require.Len(t, communities, 1)
	require.Equal(t, []string{"did:plc:subject", "did:plc:alice", "did:plc:bob"}, communities[0].Members)
}

func TestProcessNoMutuals(t *testing.T) {
	src := &fakeSource{
		profiles: map[string]*store.Account{
			"subject.example": {DID: "did:plc:subject", Handle: "subject.example"},
		},
		followers: map[string][]store.ConnectionRecord{
			"subject.example": {record("did:plc:alice", "alice.example")},
		},
		following: map[string][]store.ConnectionRecord{
			"subject.example": {record("did:plc:bob", "bob.example")},
		},
	}

	svc, jobs, st := newTestService(src, 0)

	j := &store.Job{ID: 1, UID: "job-uid", Handle: "subject.example"}
	require.NoError(t, svc.Process(context.Background(), j))

	require.True(t, jobs.completed)
	require.Equal(t, 1, jobs.details.ProcessedNodes, "only the subject node")
	require.Zero(t, jobs.details.ProcessedEdges)
	require.Zero(t, jobs.details.DiscoveredCommunities)
	require.EqualValues(t, 0, st.saved.MutualsCount)
	require.JSONEq(t, "[]", st.saved.Communities)
}

func TestLatestExpired(t *testing.T) {
	svc, _, st := newTestService(&fakeSource{}, 0)

	st.saved = &store.Analysis{
		Handle:    "subject.example",
		ExpiresTs: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
	}
	analysis, err := svc.Latest(context.Background(), "subject.example")
	require.NoError(t, err)
	require.Nil(t, analysis, "expired analyses are not served")

	st.saved.ExpiresTs = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	analysis, err = svc.Latest(context.Background(), "subject.example")
	require.NoError(t, err)
	require.NotNil(t, analysis)
}
