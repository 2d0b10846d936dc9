package store

import (
	"context"
	"fmt"
)

// Analysis is the persisted result of one completed analysis job.
// Superseded by later jobs for the same handle.
type Analysis struct {
	ID             int32
	UID            string
	SubjectDID     string
	Handle         string
	FollowersCount int64
	FollowingCount int64
	MutualsCount   int64
	// Communities is the JSON document of the community partition.
	Communities string
	CreatedTs   int64
	UpdatedTs   int64
	ExpiresTs   int64
}

// FindAnalysis is the find condition for analysis.
type FindAnalysis struct {
	ID     *int32
	UID    *string
	Handle *string

	Limit *int
}

// UpsertAnalysis creates or supersedes the analysis for its handle.
func (s *Store) UpsertAnalysis(ctx context.Context, upsert *Analysis) (*Analysis, error) {
	analysis, err := s.driver.UpsertAnalysis(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.analysisCache.Set(ctx, analysisCacheKey(analysis.Handle), analysis)
	return analysis, nil
}

// GetAnalysisByHandle returns the latest analysis for handle, or nil.
func (s *Store) GetAnalysisByHandle(ctx context.Context, handle string) (*Analysis, error) {
	if v, ok := s.analysisCache.Get(ctx, analysisCacheKey(handle)); ok {
		if analysis, ok := v.(*Analysis); ok {
			return analysis, nil
		}
	}

	list, err := s.driver.ListAnalyses(ctx, &FindAnalysis{Handle: &handle})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	analysis := list[0]
	s.analysisCache.Set(ctx, analysisCacheKey(handle), analysis)
	return analysis, nil
}

// DeleteExpiredAnalyses removes analyses past their expiration.
func (s *Store) DeleteExpiredAnalyses(ctx context.Context, beforeTs int64) (int64, error) {
	return s.driver.DeleteExpiredAnalyses(ctx, beforeTs)
}

func analysisCacheKey(handle string) string {
	return fmt.Sprintf("analysis:%s", handle)
}
