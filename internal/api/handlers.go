package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"audiobatch/internal/artifact"
	"audiobatch/internal/index"
	"audiobatch/internal/ingest"
)

type uploadResponse struct {
	BatchID    string    `json:"batch_id"`
	Status     string    `json:"status"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func (s *Server) handleUpload(c echo.Context) error {
	limit := int64(s.cfg.Ingest.MaxUploadMiB) << 20
	if limit > 0 && c.Request().ContentLength > limit {
		return writeError(c, http.StatusRequestEntityTooLarge, "upload too large",
			fmt.Sprintf("declared size exceeds %d MiB", s.cfg.Ingest.MaxUploadMiB))
	}

	form, err := c.MultipartForm()
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", "malformed multipart body")
	}
	defer form.RemoveAll()

	audio := form.File["audio"]
	if len(audio) != 1 {
		return writeError(c, http.StatusBadRequest, "invalid request", "exactly one audio part is required")
	}
	metadata, err := formPart(form, "metadata")
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", "unreadable metadata part")
	}
	notes, err := formPart(form, "notes")
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", "unreadable notes part")
	}

	result, err := s.ingester.Ingest(c.Request().Context(), ingest.Request{
		OwnerID:     ownerID(c),
		Audio:       audio[0],
		Metadata:    metadata,
		Attachments: form.File["attachments"],
		Notes:       notes,
		Priority:    c.FormValue("priority"),
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, uploadResponse{
		BatchID:    result.BatchID,
		Status:     string(result.Status),
		UploadedAt: result.UploadedAt,
	})
}

// formPart fetches a named part that clients may send either as a value
// field or a file part.
func formPart(form *multipart.Form, name string) ([]byte, error) {
	if values := form.Value[name]; len(values) > 0 {
		return []byte(values[0]), nil
	}
	files := form.File[name]
	if len(files) == 0 {
		return nil, nil
	}
	file, err := files[0].Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

type stageView struct {
	Stage           string  `json:"stage"`
	Attempt         int     `json:"attempt"`
	DurationSeconds float64 `json:"duration_seconds"`
	Success         bool    `json:"success"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

type attachmentView struct {
	Kind      string `json:"kind"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

type metricsView struct {
	RawAudioDurationSeconds   float64 `json:"raw_audio_duration_seconds"`
	SpeechDurationSeconds     float64 `json:"speech_duration_seconds"`
	SpeechRatio               float64 `json:"speech_ratio"`
	RawAudioSizeBytes         int64   `json:"raw_audio_size_bytes"`
	CleanedAudioSizeBytes     int64   `json:"cleaned_audio_size_bytes"`
	ASRJobID                  string  `json:"asr_job_id,omitempty"`
	ASRCostEstimate           float64 `json:"asr_cost_estimate"`
	ProcessingWallTimeSeconds float64 `json:"processing_wall_time_seconds"`
	QueueWaitSeconds          float64 `json:"queue_wait_seconds"`
}

type batchDetail struct {
	BatchID            string            `json:"batch_id"`
	Status             string            `json:"status"`
	Priority           string            `json:"priority"`
	RetryCount         int               `json:"retry_count"`
	ErrorStage         string            `json:"error_stage,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	Artifacts          map[string]string `json:"artifacts"`
	Metrics            metricsView       `json:"metrics"`
	Attachments        []attachmentView  `json:"attachments"`
	Stages             []stageView       `json:"stages"`
	RecordingStartedAt time.Time         `json:"recording_started_at"`
	RecordingEndedAt   time.Time         `json:"recording_ended_at"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	batch, err := s.idx.GetOwned(ctx, ownerID(c), c.Param("batch_id"))
	if err != nil {
		return writeServiceError(c, err)
	}

	attachments, err := s.idx.Attachments(ctx, batch.ID)
	if err != nil {
		return writeServiceError(c, err)
	}
	stages, err := s.idx.StageRecords(ctx, batch.ID)
	if err != nil {
		return writeServiceError(c, err)
	}

	detail := batchDetail{
		BatchID:      batch.ID,
		Status:       string(batch.Status),
		Priority:     string(batch.Priority),
		RetryCount:   batch.RetryCount,
		ErrorStage:   batch.ErrorStage,
		ErrorMessage: batch.ErrorMessage,
		Artifacts:    map[string]string{},
		Metrics: metricsView{
			RawAudioDurationSeconds:   batch.Metrics.RawAudioDurationSeconds,
			SpeechDurationSeconds:     batch.Metrics.SpeechDurationSeconds,
			SpeechRatio:               batch.Metrics.SpeechRatio,
			RawAudioSizeBytes:         batch.Metrics.RawAudioSizeBytes,
			CleanedAudioSizeBytes:     batch.Metrics.CleanedAudioSizeBytes,
			ASRJobID:                  batch.Metrics.ASRJobID,
			ASRCostEstimate:           batch.Metrics.ASRCostEstimate,
			ProcessingWallTimeSeconds: batch.Metrics.ProcessingWallTimeSeconds,
			QueueWaitSeconds:          batch.Metrics.QueueWaitSeconds,
		},
		Attachments:        make([]attachmentView, 0, len(attachments)),
		Stages:             make([]stageView, 0, len(stages)),
		RecordingStartedAt: batch.RecordingStartedAt,
		RecordingEndedAt:   batch.RecordingEndedAt,
		CreatedAt:          batch.CreatedAt,
		UpdatedAt:          batch.UpdatedAt,
	}
	for typ, key := range batch.Artifacts {
		detail.Artifacts[string(typ)] = key
	}
	for _, attachment := range attachments {
		detail.Attachments = append(detail.Attachments, attachmentView{
			Kind:      string(attachment.Kind),
			Filename:  attachment.Filename,
			SizeBytes: attachment.SizeBytes,
		})
	}
	for _, record := range stages {
		detail.Stages = append(detail.Stages, stageView{
			Stage:           record.Stage,
			Attempt:         record.Attempt,
			DurationSeconds: record.DurationSeconds,
			Success:         record.Success,
			ErrorMessage:    record.ErrorMessage,
		})
	}
	return c.JSON(http.StatusOK, detail)
}

type summaryView struct {
	BatchID            string    `json:"batch_id"`
	Status             string    `json:"status"`
	RecordingStartedAt time.Time `json:"recording_started_at"`
	CreatedAt          time.Time `json:"created_at"`
}

type listResponse struct {
	Batches    []summaryView `json:"batches"`
	Pagination struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"pagination"`
}

func (s *Server) handleList(c echo.Context) error {
	filter, err := parseListFilter(c)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", err.Error())
	}

	summaries, total, err := s.idx.List(c.Request().Context(), ownerID(c), filter)
	if err != nil {
		return writeServiceError(c, err)
	}

	resp := listResponse{Batches: make([]summaryView, 0, len(summaries))}
	for _, summary := range summaries {
		resp.Batches = append(resp.Batches, summaryView{
			BatchID:            summary.ID,
			Status:             string(summary.Status),
			RecordingStartedAt: summary.RecordingStartedAt,
			CreatedAt:          summary.CreatedAt,
		})
	}
	resp.Pagination.Total = total
	resp.Pagination.Limit = filter.Limit
	resp.Pagination.Offset = filter.Offset
	return c.JSON(http.StatusOK, resp)
}

func parseListFilter(c echo.Context) (index.ListFilter, error) {
	filter := index.ListFilter{Limit: index.MaxListLimit}

	if raw := c.QueryParam("status"); raw != "" {
		status, err := index.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		if limit > index.MaxListLimit {
			limit = index.MaxListLimit
		}
		filter.Limit = limit
	}
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	var err error
	if filter.StartDate, err = parseDateParam(c.QueryParam("start_date")); err != nil {
		return filter, fmt.Errorf("start_date must be RFC3339 or YYYY-MM-DD")
	}
	if filter.EndDate, err = parseDateParam(c.QueryParam("end_date")); err != nil {
		return filter, fmt.Errorf("end_date must be RFC3339 or YYYY-MM-DD")
	}
	return filter, nil
}

func parseDateParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (s *Server) handleDownload(c echo.Context) error {
	typ, err := artifact.ParseType(c.Param("artifact_type"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request", err.Error())
	}

	batch, err := s.idx.GetOwned(c.Request().Context(), ownerID(c), c.Param("batch_id"))
	if err != nil {
		return writeServiceError(c, err)
	}
	key, ok := batch.Artifacts[typ]
	if !ok {
		return writeError(c, http.StatusNotFound, "not found",
			fmt.Sprintf("batch has no %s artifact", typ))
	}

	expiry := time.Duration(s.cfg.Store.PresignExpiryMinutes) * time.Minute
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	url, err := s.store.PresignGet(c.Request().Context(), key, expiry)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.Redirect(http.StatusFound, url)
}
