package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"audiobatch/internal/index"
	"audiobatch/internal/notify"
)

// Internal endpoints exist for operator tooling. They bypass owner scoping,
// so they sit behind the shared-secret middleware rather than bearer tokens.

type batchStatusRequest struct {
	BatchID string `json:"batch_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (s *Server) handleInternalBatchStatus(c echo.Context) error {
	var req batchStatusRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", "malformed JSON body")
	}
	if req.BatchID == "" {
		return writeError(c, http.StatusBadRequest, "invalid request", "batch_id is required")
	}
	from, err := index.ParseStatus(req.From)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", err.Error())
	}
	to, err := index.ParseStatus(req.To)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", err.Error())
	}

	if err := s.idx.SetStatus(c.Request().Context(), req.BatchID, from, to, req.Stage, req.Message); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type processingStagesRequest struct {
	BatchID string `json:"batch_id"`
	Stages  []struct {
		Stage           string  `json:"stage"`
		Attempt         int     `json:"attempt"`
		DurationSeconds float64 `json:"duration_seconds"`
		Success         bool    `json:"success"`
		ErrorMessage    string  `json:"error_message"`
	} `json:"stages"`
}

func (s *Server) handleInternalProcessingStages(c echo.Context) error {
	var req processingStagesRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", "malformed JSON body")
	}
	if req.BatchID == "" {
		return writeError(c, http.StatusBadRequest, "invalid request", "batch_id is required")
	}
	if len(req.Stages) == 0 {
		return writeError(c, http.StatusBadRequest, "invalid request", "stages must not be empty")
	}

	records := make([]index.StageRecord, 0, len(req.Stages))
	for _, stage := range req.Stages {
		if stage.Stage == "" || stage.Attempt < 1 {
			return writeError(c, http.StatusBadRequest, "invalid request", "each stage needs a name and a positive attempt")
		}
		records = append(records, index.StageRecord{
			BatchID:         req.BatchID,
			Stage:           stage.Stage,
			Attempt:         stage.Attempt,
			DurationSeconds: stage.DurationSeconds,
			Success:         stage.Success,
			ErrorMessage:    stage.ErrorMessage,
		})
	}
	if err := s.idx.RecordStages(c.Request().Context(), req.BatchID, records); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type publishEventRequest struct {
	BatchID string `json:"batch_id"`
}

// handleInternalPublishEvent replays the completion event for a terminal
// batch, for subscribers that missed the original delivery.
func (s *Server) handleInternalPublishEvent(c echo.Context) error {
	var req publishEventRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", "malformed JSON body")
	}
	if req.BatchID == "" {
		return writeError(c, http.StatusBadRequest, "invalid request", "batch_id is required")
	}

	ctx := c.Request().Context()
	batch, err := s.idx.Get(ctx, req.BatchID)
	if err != nil {
		return writeServiceError(c, err)
	}

	event := notify.Event{
		BatchID:            batch.ID,
		OwnerID:            batch.OwnerID,
		Status:             batch.Status,
		Artifacts:          batch.Artifacts,
		RecordingStartedAt: batch.RecordingStartedAt.UTC().Format(time.RFC3339),
		ErrorMessage:       batch.ErrorMessage,
	}
	switch batch.Status {
	case index.StatusCompleted:
		err = s.notifier.PublishCompleted(ctx, event)
	case index.StatusFailed:
		err = s.notifier.PublishFailed(ctx, event)
	default:
		return writeError(c, http.StatusConflict, "invalid state",
			"only completed or failed batches have events to publish")
	}
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
