package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/constellation/plugin/graph"
	"github.com/hrygo/constellation/store"
)

// AnalysisResponse is the stored analysis shape returned to callers.
type AnalysisResponse struct {
	SubjectID   string            `json:"subjectId"`
	Handle      string            `json:"handle"`
	Stats       AnalysisStats     `json:"stats"`
	Communities []graph.Community `json:"communities"`
	LastUpdated int64             `json:"lastUpdated"`
}

// AnalysisStats are the headline connection counts.
type AnalysisStats struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
	Mutuals   int64 `json:"mutuals"`
}

// GetAnalysis returns the latest analysis for a handle.
// GET /api/v1/analyses/:handle
func (s *APIV1Service) GetAnalysis(c echo.Context) error {
	handle := c.Param("handle")
	analysis, err := s.analyses.Latest(c.Request().Context(), handle)
	if err != nil {
		s.logger.Error("failed to get analysis", slog.String("handle", handle), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get analysis"})
	}
	if analysis == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no analysis for handle"})
	}

	response, err := toAnalysisResponse(analysis)
	if err != nil {
		s.logger.Error("failed to decode analysis", slog.String("handle", handle), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to decode analysis"})
	}
	return c.JSON(http.StatusOK, response)
}

func toAnalysisResponse(analysis *store.Analysis) (*AnalysisResponse, error) {
	communities := []graph.Community{}
	if analysis.Communities != "" {
		if err := json.Unmarshal([]byte(analysis.Communities), &communities); err != nil {
			return nil, err
		}
	}
	return &AnalysisResponse{
		SubjectID: analysis.SubjectDID,
		Handle:    analysis.Handle,
		Stats: AnalysisStats{
			Followers: analysis.FollowersCount,
			Following: analysis.FollowingCount,
			Mutuals:   analysis.MutualsCount,
		},
		Communities: communities,
		LastUpdated: analysis.UpdatedTs,
	}, nil
}
