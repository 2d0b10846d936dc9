// Package server assembles the HTTP surface and the background runners.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/constellation/internal/profile"
	"github.com/hrygo/constellation/plugin/skynet"
	apiv1 "github.com/hrygo/constellation/server/router/api/v1"
	analysisrunner "github.com/hrygo/constellation/server/runner/analysis"
	"github.com/hrygo/constellation/server/runner/sweeper"
	analysissvc "github.com/hrygo/constellation/server/service/analysis"
	jobsvc "github.com/hrygo/constellation/server/service/job"
	"github.com/hrygo/constellation/server/service/progress"
	"github.com/hrygo/constellation/server/service/source"
	"github.com/hrygo/constellation/store"
)

// shutdownTimeout bounds the graceful HTTP drain.
const shutdownTimeout = 10 * time.Second

// Server is the assembled constellation process.
type Server struct {
	profile *profile.Profile
	store   *store.Store
	logger  *slog.Logger

	echoServer *echo.Echo
	jobRunner  *analysisrunner.Runner
	sweeper    *sweeper.Runner
}

// NewServer wires store, services, routes and runners.
func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store, logger *slog.Logger) (*Server, error) {
	if err := st.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORS())

	gateway := skynet.NewGateway(skynet.GatewayConfig{
		MaxInFlight: profile.MaxConcurrent,
	})
	client := skynet.NewClient(profile, gateway)

	broker := progress.NewBroker()
	sourceService := source.NewService(st, client, logger)
	jobService := jobsvc.NewService(st, broker, profile, logger)
	analysisService := analysissvc.NewService(sourceService, jobService, st, profile, logger)

	apiv1.NewAPIV1Service(profile, jobService, analysisService, broker, logger).Register(echoServer)

	return &Server{
		profile:    profile,
		store:      st,
		logger:     logger,
		echoServer: echoServer,
		jobRunner:  analysisrunner.NewRunner(jobService, analysisService, profile, logger),
		sweeper:    sweeper.NewRunner(st, jobService, logger),
	}, nil
}

// Start launches the runners and serves HTTP. Blocks until the listener
// stops.
func (s *Server) Start(ctx context.Context) error {
	go s.jobRunner.Run(ctx)
	go s.sweeper.Run(ctx)

	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	s.logger.Info("server started",
		slog.String("address", address),
		slog.String("mode", s.profile.Mode),
		slog.String("version", s.profile.Version),
	)
	return s.echoServer.Start(address)
}

// Shutdown drains HTTP and closes the store. In-flight jobs are left
// in_progress and recovered later by the stuck-job sweep.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shut down http server", slog.Any("error", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", slog.Any("error", err))
	}
	s.logger.Info("server shut down")
}
