// Package v1 exposes the REST surface over the job pipeline and stored
// analyses.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/constellation/internal/profile"
	analysissvc "github.com/hrygo/constellation/server/service/analysis"
	jobsvc "github.com/hrygo/constellation/server/service/job"
	"github.com/hrygo/constellation/server/service/progress"
)

// APIV1Service registers and serves the v1 REST routes.
type APIV1Service struct {
	profile  *profile.Profile
	jobs     *jobsvc.Service
	analyses *analysissvc.Service
	broker   *progress.Broker
	logger   *slog.Logger
}

// NewAPIV1Service creates the v1 API surface.
func NewAPIV1Service(profile *profile.Profile, jobs *jobsvc.Service, analyses *analysissvc.Service, broker *progress.Broker, logger *slog.Logger) *APIV1Service {
	return &APIV1Service{
		profile:  profile,
		jobs:     jobs,
		analyses: analyses,
		broker:   broker,
		logger:   logger,
	}
}

// Register wires the routes onto the echo server.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	echoServer.GET("/healthz", s.GetHealth)

	group := echoServer.Group("/api/v1")
	group.POST("/analyses", s.CreateAnalysisJob)
	group.GET("/analyses/:handle", s.GetAnalysis)
	group.GET("/jobs/:uid", s.GetJob)
	group.GET("/jobs/:uid/events", s.StreamJobEvents)
}

// GetHealth reports liveness.
// GET /healthz
func (s *APIV1Service) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.profile.Version,
	})
}
