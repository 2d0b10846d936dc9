// Package analysis runs the end-to-end pipeline for one job: collect
// profile and connection lists, resolve mutuals, build the graph,
// detect communities and persist the result.
package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/hrygo/constellation/internal/errors"
	"github.com/hrygo/constellation/internal/profile"
	"github.com/hrygo/constellation/plugin/graph"
	"github.com/hrygo/constellation/server/service/job"
	"github.com/hrygo/constellation/server/service/progress"
	"github.com/hrygo/constellation/store"
)

// progressTotal is the number of reported pipeline steps.
const progressTotal = 4

// Source is the data accessor surface. Satisfied by *source.Service.
type Source interface {
	Profile(ctx context.Context, handle string, force bool) (*store.Account, error)
	Followers(ctx context.Context, handle string, force bool) ([]store.ConnectionRecord, error)
	Following(ctx context.Context, handle string, force bool) ([]store.ConnectionRecord, error)
	FollowingOf(ctx context.Context, handle string) ([]store.ConnectionRecord, error)
}

// Jobs is the job lifecycle surface the pipeline reports through.
// Satisfied by *job.Service.
type Jobs interface {
	UpdateProgress(ctx context.Context, job *store.Job, stage string, current, total int32, message string, details *progress.UpdateDetails) error
	Complete(ctx context.Context, job *store.Job, details *progress.UpdateDetails) error
}

// Store is the persistence subset for results. Satisfied by *store.Store.
type Store interface {
	UpsertAnalysis(ctx context.Context, upsert *store.Analysis) (*store.Analysis, error)
	GetAnalysisByHandle(ctx context.Context, handle string) (*store.Analysis, error)
}

// Service executes analysis jobs.
type Service struct {
	source  Source
	jobs    Jobs
	store   Store
	profile *profile.Profile
	logger  *slog.Logger

	// Overridable in tests.
	now func() time.Time
}

// NewService creates an analysis service.
func NewService(source Source, jobs Jobs, st Store, profile *profile.Profile, logger *slog.Logger) *Service {
	return &Service{
		source:  source,
		jobs:    jobs,
		store:   st,
		profile: profile,
		logger:  logger,
		now:     time.Now,
	}
}

// Process runs the full pipeline for a claimed job and completes it.
// Errors are returned to the caller, which owns the retry decision.
func (s *Service) Process(ctx context.Context, j *store.Job) error {
	if err := s.jobs.UpdateProgress(ctx, j, job.StageInitializing, 0, progressTotal, "starting analysis", nil); err != nil {
		return err
	}

	subject, err := s.source.Profile(ctx, j.Handle, j.Force)
	if err != nil {
		return err
	}

	if err := s.jobs.UpdateProgress(ctx, j, job.StageCollecting, 1, progressTotal, "collecting connections", nil); err != nil {
		return err
	}

	var followers, following []store.ConnectionRecord
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		followers, err = s.source.Followers(groupCtx, j.Handle, j.Force)
		return err
	})
	group.Go(func() error {
		var err error
		following, err = s.source.Following(groupCtx, j.Handle, j.Force)
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}

	if err := s.jobs.UpdateProgress(ctx, j, job.StageAnalyzing, 2, progressTotal, "resolving mutual connections", nil); err != nil {
		return err
	}

	mutuals := graph.ResolveMutuals(followers, following)
	connections := make([]graph.Connection, 0, len(mutuals))
	for _, mutual := range mutuals {
		connections = append(connections, graph.Connection{Record: mutual, Kind: graph.EdgeMutual})
	}

	extraEdges, err := s.deepScan(ctx, mutuals)
	if err != nil {
		return err
	}

	g := graph.Build(graph.Node{
		ID:          subject.DID,
		Handle:      subject.Handle,
		DisplayName: subject.DisplayName,
	}, connections, extraEdges)

	details := &progress.UpdateDetails{
		ProcessedNodes: g.NodeCount(),
		ProcessedEdges: g.EdgeCount(),
	}
	if err := s.jobs.UpdateProgress(ctx, j, job.StageProcessing, 3, progressTotal, "detecting communities", details); err != nil {
		return err
	}

	communities := graph.DetectCommunities(g)
	details.DiscoveredCommunities = len(communities)

	if err := s.persist(ctx, subject, followers, following, mutuals, communities); err != nil {
		return err
	}

	s.logger.Info("analysis finished",
		slog.String("handle", j.Handle),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("communities", len(communities)),
	)
	return s.jobs.Complete(ctx, j, details)
}

// Latest returns the stored analysis for a handle, or nil when absent
// or expired.
func (s *Service) Latest(ctx context.Context, handle string) (*store.Analysis, error) {
	analysis, err := s.store.GetAnalysisByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, nil
	}
	if analysis.ExpiresTs > 0 && analysis.ExpiresTs < s.now().Unix() {
		return nil, nil
	}
	return analysis, nil
}

// deepScan fetches following lists for up to DeepScanLimit mutuals and
// returns mutual edges between scanned pairs confirmed in both
// directions. Fetch failures abort the scan; the caller's retry policy
// decides what happens next.
func (s *Service) deepScan(ctx context.Context, mutuals []store.ConnectionRecord) ([]graph.Edge, error) {
	limit := s.profile.DeepScanLimit
	if limit <= 0 || len(mutuals) == 0 {
		return nil, nil
	}
	if limit > len(mutuals) {
		limit = len(mutuals)
	}

	scanned := mutuals[:limit]
	follows := make([]map[string]struct{}, limit)
	for i, mutual := range scanned {
		list, err := s.source.FollowingOf(ctx, mutual.Handle)
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(list))
		for _, record := range list {
			if record.DID != "" {
				set[record.DID] = struct{}{}
			}
		}
		follows[i] = set
	}

	edges := []graph.Edge{}
	for i := 0; i < limit; i++ {
		for k := i + 1; k < limit; k++ {
			_, forward := follows[i][scanned[k].DID]
			_, backward := follows[k][scanned[i].DID]
			if forward && backward {
				edges = append(edges, graph.Edge{
					Source: scanned[i].DID,
					Target: scanned[k].DID,
					Kind:   graph.EdgeMutual,
				})
			}
		}
	}
	return edges, nil
}

func (s *Service) persist(ctx context.Context, subject *store.Account, followers, following, mutuals []store.ConnectionRecord, communities []graph.Community) error {
	doc, err := json.Marshal(communities)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "failed to encode communities")
	}

	nowTs := s.now().Unix()
	_, err = s.store.UpsertAnalysis(ctx, &store.Analysis{
		UID:            shortuuid.New(),
		SubjectDID:     subject.DID,
		Handle:         subject.Handle,
		FollowersCount: int64(len(followers)),
		FollowingCount: int64(len(following)),
		MutualsCount:   int64(len(mutuals)),
		Communities:    string(doc),
		CreatedTs:      nowTs,
		UpdatedTs:      nowTs,
		ExpiresTs:      nowTs + int64(store.TTLLong.Duration().Seconds()),
	})
	return err
}
