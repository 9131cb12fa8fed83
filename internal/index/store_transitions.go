package index

import (
	"context"
	"fmt"
	"time"

	"audiobatch/internal/artifact"
	"audiobatch/internal/services"
)

// MarkQueued advances a batch from uploaded to queued.
func (s *Store) MarkQueued(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusUploaded, StatusQueued,
		"UPDATE batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?")
}

// MarkProcessing advances a batch from queued to processing, recording the
// processing start time and how long the batch waited in the queue.
func (s *Store) MarkProcessing(ctx context.Context, id string) (*Batch, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE batches SET
            status = ?, processing_started_at = ?,
            queue_wait_seconds = (julianday(?) - julianday(created_at)) * 86400.0,
            updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusProcessing, timestamp, timestamp, timestamp, id, StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("mark processing %s: %w", id, err)
	}
	if err := s.checkTransition(ctx, result, id, StatusQueued, StatusProcessing); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Complete finishes a batch: persists the artifact key map and metrics, adds
// the transient retries the run consumed to retry_count, sets
// processing_completed_at and wall time, and clears any stale error fields.
// Only a processing batch carrying every mandatory artifact can complete.
func (s *Store) Complete(ctx context.Context, id string, artifacts map[artifact.Type]string, metrics Metrics, retries int) error {
	for _, typ := range artifact.Mandatory() {
		if artifacts[typ] == "" {
			return services.Wrap(services.ErrValidation, "", "index.complete",
				fmt.Sprintf("batch %s has no %s artifact, cannot complete", id, typ), nil)
		}
	}
	body, err := marshalArtifacts(artifacts)
	if err != nil {
		return err
	}
	if retries < 0 {
		retries = 0
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE batches SET
            status = ?, artifact_keys_json = ?, retry_count = retry_count + ?,
            raw_audio_duration_seconds = ?, speech_duration_seconds = ?, speech_ratio = ?,
            raw_audio_size_bytes = ?, cleaned_audio_size_bytes = ?,
            asr_job_id = ?, asr_cost_estimate = ?,
            processing_wall_time_seconds = (julianday(?) - julianday(processing_started_at)) * 86400.0,
            processing_completed_at = ?,
            error_stage = NULL, error_message = NULL,
            updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted, body, retries,
		metrics.RawAudioDurationSeconds, metrics.SpeechDurationSeconds, metrics.SpeechRatio,
		metrics.RawAudioSizeBytes, metrics.CleanedAudioSizeBytes,
		nullableString(metrics.ASRJobID), metrics.ASRCostEstimate,
		timestamp, timestamp, timestamp,
		id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete batch %s: %w", id, err)
	}
	return s.checkTransition(ctx, result, id, StatusProcessing, StatusCompleted)
}

// Fail moves a processing batch to failed with the offending stage and a
// sanitized error message, adding the transient retries the run consumed to
// retry_count.
func (s *Store) Fail(ctx context.Context, id, stage, message string, retries int) error {
	if retries < 0 {
		retries = 0
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE batches SET status = ?, error_stage = ?, error_message = ?,
            retry_count = retry_count + ?,
            processing_completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed, nullableString(stage), nullableString(message),
		retries,
		timestamp, timestamp,
		id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("fail batch %s: %w", id, err)
	}
	return s.checkTransition(ctx, result, id, StatusProcessing, StatusFailed)
}

// RetryFailed moves a failed batch back to queued, consuming one retry from
// the budget. It refuses once retry_count reaches maxRetries.
func (s *Store) RetryFailed(ctx context.Context, id string, maxRetries int) (*Batch, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE batches SET status = ?, retry_count = retry_count + 1,
            processing_started_at = NULL, processing_completed_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND retry_count < ?`,
		StatusQueued, timestamp, id, StatusFailed, maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("retry batch %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("retry batch %s: rows affected: %w", id, err)
	}
	if affected == 0 {
		batch, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if batch.Status != StatusFailed {
			return nil, services.Wrap(services.ErrValidation, "", "index.retry",
				fmt.Sprintf("batch %s is %s, only failed batches can be retried", id, batch.Status), nil)
		}
		return nil, services.Wrap(services.ErrValidation, "", "index.retry",
			fmt.Sprintf("batch %s exhausted its retry budget (%d)", id, maxRetries), nil)
	}
	return s.Get(ctx, id)
}

// ForceRetryFailed requeues a failed batch even when its retry budget is
// spent. Operator path; the attempt still counts against retry_count so
// stage attempt numbering stays monotonic across runs.
func (s *Store) ForceRetryFailed(ctx context.Context, id string) (*Batch, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE batches SET status = ?, retry_count = retry_count + 1,
            processing_started_at = NULL, processing_completed_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusQueued, timestamp, id, StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("force retry batch %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("force retry batch %s: rows affected: %w", id, err)
	}
	if affected == 0 {
		batch, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, services.Wrap(services.ErrValidation, "", "index.retry",
			fmt.Sprintf("batch %s is %s, only failed batches can be retried", id, batch.Status), nil)
	}
	return s.Get(ctx, id)
}

// RequeueStuck returns batches stuck in processing since before the cutoff
// to queued and reports their IDs. Used by the janitor; retry_count is left
// alone because a stuck batch never consumed its attempt.
func (s *Store) RequeueStuck(ctx context.Context, cutoff time.Time) ([]string, error) {
	limit := cutoff.UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(
		ctx,
		"SELECT id FROM batches WHERE status = ? AND processing_started_at < ?",
		StatusProcessing, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find stuck batches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stuck batch: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stuck batches: %w", err)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	requeued := make([]string, 0, len(ids))
	for _, id := range ids {
		result, err := s.db.ExecContext(
			ctx,
			`UPDATE batches SET status = ?, processing_started_at = NULL, updated_at = ?
             WHERE id = ? AND status = ? AND processing_started_at < ?`,
			StatusQueued, timestamp, id, StatusProcessing, limit,
		)
		if err != nil {
			return requeued, fmt.Errorf("requeue stuck batch %s: %w", id, err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			requeued = append(requeued, id)
		}
	}
	return requeued, nil
}

// SetArtifacts overwrites the artifact key map on a batch row without
// touching its status. The orchestrator uses it to persist progress so an
// interrupted run can skip already-produced artifacts.
func (s *Store) SetArtifacts(ctx context.Context, id string, artifacts map[artifact.Type]string) error {
	body, err := marshalArtifacts(artifacts)
	if err != nil {
		return err
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(
		ctx,
		"UPDATE batches SET artifact_keys_json = ?, updated_at = ? WHERE id = ?",
		body, timestamp, id,
	)
	if err != nil {
		return fmt.Errorf("set artifacts %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set artifacts %s: rows affected: %w", id, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "", "index.artifacts", id, nil)
	}
	return nil
}

// SetStatus applies a caller-supplied transition with a status precondition.
// The internal batch-status endpoint uses it for remote processors.
func (s *Store) SetStatus(ctx context.Context, id string, from, to Status, stage, message string) error {
	if _, err := ParseStatus(string(to)); err != nil {
		return services.Wrap(services.ErrValidation, "", "index.status", "", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE batches SET status = ?, error_stage = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		to, nullableString(stage), nullableString(message), timestamp, id, from,
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	return s.checkTransition(ctx, result, id, from, to)
}

func (s *Store) transition(ctx context.Context, id string, from, to Status, query string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, query, to, timestamp, id, from)
	if err != nil {
		return fmt.Errorf("transition batch %s to %s: %w", id, to, err)
	}
	return s.checkTransition(ctx, result, id, from, to)
}

func (s *Store) checkTransition(ctx context.Context, result resultRows, id string, from, to Status) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition batch %s: rows affected: %w", id, err)
	}
	if affected > 0 {
		return nil
	}
	batch, getErr := s.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return services.Wrap(services.ErrValidation, "", "index.status",
		fmt.Sprintf("batch %s is %s, expected %s for transition to %s", id, batch.Status, from, to), nil)
}

type resultRows interface {
	RowsAffected() (int64, error)
}
