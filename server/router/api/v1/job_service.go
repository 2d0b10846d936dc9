package v1

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/constellation/internal/errors"
	"github.com/hrygo/constellation/server/service/progress"
	"github.com/hrygo/constellation/store"
)

// CreateAnalysisJobRequest is the body of POST /api/v1/analyses.
type CreateAnalysisJobRequest struct {
	Handle string `json:"handle"`
	Force  bool   `json:"force"`
}

// JobResponse is the job status shape returned to callers.
type JobResponse struct {
	JobID    string       `json:"jobId"`
	Status   string       `json:"status"`
	Progress *JobProgress `json:"progress,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// JobProgress describes where a job is in the pipeline.
type JobProgress struct {
	Stage   string                  `json:"stage"`
	Current int32                   `json:"current"`
	Total   int32                   `json:"total"`
	Message string                  `json:"message,omitempty"`
	Details *progress.UpdateDetails `json:"details,omitempty"`
}

// CreateAnalysisJob registers an analysis job for a handle.
// POST /api/v1/analyses
func (s *APIV1Service) CreateAnalysisJob(c echo.Context) error {
	request := &CreateAnalysisJobRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}
	if request.Handle == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "handle is required"})
	}

	created, err := s.jobs.Create(c.Request().Context(), request.Handle, request.Force, 0)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeInvalidArgument {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		s.logger.Error("failed to create job", slog.String("handle", request.Handle), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
	}

	return c.JSON(http.StatusAccepted, toJobResponse(created))
}

// GetJob returns the status of one job.
// GET /api/v1/jobs/:uid
func (s *APIV1Service) GetJob(c echo.Context) error {
	uid := c.Param("uid")
	found, err := s.jobs.GetByUID(c.Request().Context(), uid)
	if err != nil {
		s.logger.Error("failed to get job", slog.String("job_uid", uid), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get job"})
	}
	if found == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, toJobResponse(found))
}

// StreamJobEvents streams progress updates for a job as server-sent
// events until the job reaches a terminal state or the client leaves.
// GET /api/v1/jobs/:uid/events
func (s *APIV1Service) StreamJobEvents(c echo.Context) error {
	uid := c.Param("uid")
	ctx := c.Request().Context()

	found, err := s.jobs.GetByUID(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get job"})
	}
	if found == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	updates, cancel := s.broker.Subscribe(uid)
	defer cancel()

	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set(echo.HeaderCacheControl, "no-cache")
	response.Header().Set(echo.HeaderConnection, "keep-alive")
	response.WriteHeader(http.StatusOK)

	// Current state first so late subscribers see where the job stands.
	if err := writeEvent(response, toUpdate(found)); err != nil {
		return nil
	}
	if isTerminal(found.Status) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(response, update); err != nil {
				return nil
			}
			if isTerminal(store.JobStatus(update.Status)) {
				return nil
			}
		}
	}
}

func writeEvent(response *echo.Response, update progress.Update) error {
	doc, err := json.Marshal(update)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(response, "data: %s\n\n", doc); err != nil {
		return err
	}
	response.Flush()
	return nil
}

func isTerminal(status store.JobStatus) bool {
	switch status {
	case store.JobCompleted, store.JobFailed, store.JobRateLimited:
		return true
	}
	return false
}

func toJobResponse(j *store.Job) *JobResponse {
	response := &JobResponse{
		JobID:  j.UID,
		Status: string(j.Status),
		Error:  j.ErrorMessage,
		Progress: &JobProgress{
			Stage:   j.Stage,
			Current: j.ProgressCurrent,
			Total:   j.ProgressTotal,
			Message: j.Message,
			Details: decodeDetails(j.Details),
		},
	}
	return response
}

func toUpdate(j *store.Job) progress.Update {
	return progress.Update{
		JobUID:  j.UID,
		Status:  string(j.Status),
		Stage:   j.Stage,
		Current: j.ProgressCurrent,
		Total:   j.ProgressTotal,
		Message: j.Message,
		Details: decodeDetails(j.Details),
	}
}

func decodeDetails(doc string) *progress.UpdateDetails {
	if doc == "" {
		return nil
	}
	details := &progress.UpdateDetails{}
	if err := json.Unmarshal([]byte(doc), details); err != nil {
		return nil
	}
	return details
}
