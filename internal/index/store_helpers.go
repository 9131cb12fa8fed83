package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"audiobatch/internal/artifact"
)

const batchColumns = "id, owner_id, status, priority, retry_count, error_stage, error_message, artifact_keys_json, " +
	"raw_audio_duration_seconds, speech_duration_seconds, speech_ratio, raw_audio_size_bytes, cleaned_audio_size_bytes, " +
	"asr_job_id, asr_cost_estimate, processing_wall_time_seconds, queue_wait_seconds, " +
	"recording_started_at, recording_ended_at, created_at, processing_started_at, processing_completed_at, updated_at"

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		id               string
		ownerID          string
		statusStr        string
		priorityStr      string
		retryCount       int
		errorStage       sql.NullString
		errorMessage     sql.NullString
		artifactJSON     sql.NullString
		rawDuration      sql.NullFloat64
		speechDuration   sql.NullFloat64
		speechRatio      sql.NullFloat64
		rawSize          sql.NullInt64
		cleanedSize      sql.NullInt64
		asrJobID         sql.NullString
		asrCost          sql.NullFloat64
		wallTime         sql.NullFloat64
		queueWait        sql.NullFloat64
		recordingStarted sql.NullString
		recordingEnded   sql.NullString
		createdRaw       sql.NullString
		processingRaw    sql.NullString
		completedRaw     sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerID,
		&statusStr,
		&priorityStr,
		&retryCount,
		&errorStage,
		&errorMessage,
		&artifactJSON,
		&rawDuration,
		&speechDuration,
		&speechRatio,
		&rawSize,
		&cleanedSize,
		&asrJobID,
		&asrCost,
		&wallTime,
		&queueWait,
		&recordingStarted,
		&recordingEnded,
		&createdRaw,
		&processingRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:           id,
		OwnerID:      ownerID,
		Status:       Status(statusStr),
		Priority:     Priority(priorityStr),
		RetryCount:   retryCount,
		ErrorStage:   errorStage.String,
		ErrorMessage: errorMessage.String,
		Metrics: Metrics{
			RawAudioDurationSeconds:   rawDuration.Float64,
			SpeechDurationSeconds:     speechDuration.Float64,
			SpeechRatio:               speechRatio.Float64,
			RawAudioSizeBytes:         rawSize.Int64,
			CleanedAudioSizeBytes:     cleanedSize.Int64,
			ASRJobID:                  asrJobID.String,
			ASRCostEstimate:           asrCost.Float64,
			ProcessingWallTimeSeconds: wallTime.Float64,
			QueueWaitSeconds:          queueWait.Float64,
		},
	}

	artifacts, err := unmarshalArtifacts(artifactJSON.String)
	if err != nil {
		return nil, err
	}
	batch.Artifacts = artifacts

	if started, err := parseTimeString(recordingStarted.String); err == nil {
		batch.RecordingStartedAt = started
	}
	if ended, err := parseTimeString(recordingEnded.String); err == nil {
		batch.RecordingEndedAt = ended
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		batch.CreatedAt = created
	}
	if processingRaw.Valid {
		if started, err := parseTimeString(processingRaw.String); err == nil {
			batch.ProcessingStartedAt = started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			batch.ProcessingCompletedAt = completed
		}
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		batch.UpdatedAt = updated
	}

	return batch, nil
}

func unmarshalArtifacts(raw string) (map[artifact.Type]string, error) {
	artifacts := map[artifact.Type]string{}
	if raw == "" {
		return artifacts, nil
	}
	if err := json.Unmarshal([]byte(raw), &artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal artifact keys: %w", err)
	}
	return artifacts, nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
