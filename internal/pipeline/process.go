package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"audiobatch/internal/artifact"
	"audiobatch/internal/asr"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
	"audiobatch/internal/logging"
	"audiobatch/internal/notify"
	"audiobatch/internal/services"
)

// processJob drives one batch through the stage sequence. The job is acked
// on every terminal outcome; a redelivered job for an already-terminal batch
// is acked and dropped.
func (o *Orchestrator) processJob(ctx context.Context, logger *slog.Logger, job *jobqueue.Job) error {
	ctx = services.WithBatchID(ctx, job.BatchID)
	ctx = services.WithOwnerID(ctx, job.OwnerID)
	log := logging.WithContext(ctx, logger)

	batch, err := o.idx.MarkProcessing(ctx, job.BatchID)
	if err != nil {
		if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrNotFound) {
			// Duplicate delivery or a batch moved on without us.
			log.Warn("dropping stale job", logging.Error(err))
			return o.queue.Ack(ctx, job.ID)
		}
		if nackErr := o.queue.Nack(ctx, job.ID); nackErr != nil {
			log.Error("nack failed", logging.Error(nackErr))
		}
		return err
	}

	log.Info("batch processing started",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.Int("deliveries", job.Deliveries),
	)

	run := newStageRun(batch, o.cfg.Pipeline.MaxRetries)
	artifacts, metrics, stage, err := o.runStages(ctx, log, batch, run)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-batch: leave the row in processing, the lease
			// reclaim and janitor bring it back.
			return err
		}
		message := err.Error()
		if failErr := o.idx.Fail(ctx, batch.ID, stage, message, run.retries); failErr != nil {
			log.Error("failed to persist batch failure", logging.Error(failErr))
		}
		log.Error("batch failed",
			logging.String(logging.FieldEventType, "batch_failed"),
			logging.String(logging.FieldStage, stage),
			logging.Error(err),
		)
		o.publish(ctx, log, batch, index.StatusFailed, artifacts, message)
		return o.queue.Ack(ctx, job.ID)
	}

	if err := o.idx.Complete(ctx, batch.ID, artifacts, metrics, run.retries); err != nil {
		log.Error("failed to persist batch completion", logging.Error(err))
		if nackErr := o.queue.Nack(ctx, job.ID); nackErr != nil {
			log.Error("nack failed", logging.Error(nackErr))
		}
		return err
	}
	log.Info("batch completed",
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.Float64("speech_ratio", metrics.SpeechRatio),
		logging.Float64("raw_audio_duration_seconds", metrics.RawAudioDurationSeconds),
	)
	o.publish(ctx, log, batch, index.StatusCompleted, artifacts, "")
	return o.queue.Ack(ctx, job.ID)
}

// stageRun carries attempt accounting for one pass over a batch. Attempt
// numbers continue where earlier runs left off so rerun stage records never
// collide with the append-only log, and transient retries consumed by
// mandatory stages accumulate into the batch row's retry_count.
type stageRun struct {
	attemptBase int
	retries     int
}

func newStageRun(batch *index.Batch, maxRetries int) *stageRun {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &stageRun{attemptBase: batch.RetryCount * maxRetries}
}

// runStages executes transcode → trim → denoise → transcribe →
// analyze-emotion. Stages whose artifact already exists on the batch row are
// skipped, which keeps reprocessing idempotent. Returns the artifact map,
// metrics, and on failure the name of the offending stage.
func (o *Orchestrator) runStages(ctx context.Context, log *slog.Logger, batch *index.Batch, run *stageRun) (map[artifact.Type]string, index.Metrics, string, error) {
	artifacts := make(map[artifact.Type]string, len(batch.Artifacts))
	for typ, key := range batch.Artifacts {
		artifacts[typ] = key
	}
	metrics := batch.Metrics

	workDir := filepath.Join(o.cfg.Paths.StagingDir, batch.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return artifacts, metrics, "transcode", services.Wrap(services.ErrTransient, "transcode", "workdir", workDir, err)
	}
	defer os.RemoveAll(workDir)

	cleanedPath, err := o.runAudioStages(ctx, log, batch, workDir, artifacts, &metrics, run)
	if err != nil {
		return artifacts, metrics, stageOrDefault(err, "transcode"), err
	}

	transcript, err := o.runTranscribe(ctx, log, batch, cleanedPath, artifacts, &metrics, run)
	if err != nil {
		return artifacts, metrics, stageOrDefault(err, "transcribe"), err
	}

	// Best effort: an emotion failure is logged, never fatal.
	if _, done := artifacts[artifact.TypeEmotion]; !done {
		if err := o.runEmotion(ctx, log, batch, transcript, artifacts, run); err != nil {
			log.Warn("emotion analysis failed, continuing without it",
				logging.String(logging.FieldStage, "analyze-emotion"),
				logging.Error(err),
			)
		}
	}

	return artifacts, metrics, "", nil
}

// runAudioStages produces the cleaned audio artifact, or short-circuits by
// downloading it when a previous run already produced it.
func (o *Orchestrator) runAudioStages(ctx context.Context, log *slog.Logger, batch *index.Batch, workDir string, artifacts map[artifact.Type]string, metrics *index.Metrics, run *stageRun) (string, error) {
	if key, done := artifacts[artifact.TypeCleanedAudio]; done {
		log.Info("cleaned audio already present, skipping audio stages",
			logging.String(logging.FieldStoreKey, key))
		return o.download(ctx, key, filepath.Join(workDir, "cleaned.wav"))
	}

	rawKey, ok := artifacts[artifact.TypeRawAudio]
	if !ok {
		return "", services.Wrap(services.ErrPermanent, "transcode", "input", "batch has no raw audio artifact", nil)
	}
	rawPath, err := o.download(ctx, rawKey, filepath.Join(workDir, "raw"+filepath.Ext(rawKey)))
	if err != nil {
		return "", err
	}

	var transcodedPath string
	err = o.runStage(ctx, log, batch.ID, "transcode", run, func(stageCtx context.Context) error {
		result, err := o.engines.Transcode.Process(stageCtx, rawPath, workDir)
		if err != nil {
			return err
		}
		transcodedPath = result.OutputPath
		metrics.RawAudioDurationSeconds = result.InputDurationSeconds
		metrics.RawAudioSizeBytes = result.InputSizeBytes
		return nil
	})
	if err != nil {
		return "", err
	}

	var trimmedPath string
	err = o.runStage(ctx, log, batch.ID, "trim", run, func(stageCtx context.Context) error {
		result, err := o.engines.Trim.Process(stageCtx, transcodedPath, workDir)
		if err != nil {
			return err
		}
		trimmedPath = result.OutputPath
		metrics.SpeechDurationSeconds = result.SpeechDurationSeconds
		metrics.SpeechRatio = result.SpeechRatio
		return nil
	})
	if err != nil {
		return "", err
	}

	var cleanedPath string
	err = o.runStage(ctx, log, batch.ID, "denoise", run, func(stageCtx context.Context) error {
		result, err := o.engines.Denoise.Process(stageCtx, trimmedPath, workDir)
		if err != nil {
			return err
		}
		cleanedPath = result.OutputPath
		metrics.CleanedAudioSizeBytes = result.OutputSizeBytes
		return nil
	})
	if err != nil {
		return "", err
	}

	key, err := o.uploadFile(ctx, batch, artifact.TypeCleanedAudio, cleanedPath, "audio/wav")
	if err != nil {
		return "", wrapStage("denoise", err)
	}
	artifacts[artifact.TypeCleanedAudio] = key
	return cleanedPath, nil
}

func (o *Orchestrator) runTranscribe(ctx context.Context, log *slog.Logger, batch *index.Batch, cleanedPath string, artifacts map[artifact.Type]string, metrics *index.Metrics, run *stageRun) (asr.Transcript, error) {
	if key, done := artifacts[artifact.TypeTranscript]; done {
		log.Info("transcript already present, skipping transcription",
			logging.String(logging.FieldStoreKey, key))
		return o.downloadTranscript(ctx, key)
	}

	var transcript asr.Transcript
	err := o.runStage(ctx, log, batch.ID, "transcribe", run, func(stageCtx context.Context) error {
		result, err := o.engines.Transcribe.Transcribe(stageCtx, cleanedPath)
		if err != nil {
			return err
		}
		transcript = result
		return nil
	})
	if err != nil {
		return asr.Transcript{}, err
	}

	key, err := o.uploadJSON(ctx, batch, artifact.TypeTranscript, "transcript.json", transcript)
	if err != nil {
		return asr.Transcript{}, wrapStage("transcribe", err)
	}
	artifacts[artifact.TypeTranscript] = key
	metrics.ASRJobID = transcript.JobID
	metrics.ASRCostEstimate = transcript.CostEstimate
	return transcript, nil
}

func (o *Orchestrator) runEmotion(ctx context.Context, log *slog.Logger, batch *index.Batch, transcript asr.Transcript, artifacts map[artifact.Type]string, run *stageRun) error {
	// Best-effort retries must not count against the batch budget, so the
	// emotion stage gets a scratch tally at the same attempt offset.
	scratch := &stageRun{attemptBase: run.attemptBase}
	var result any
	err := o.runStage(ctx, log, batch.ID, "analyze-emotion", scratch, func(stageCtx context.Context) error {
		analysis, err := o.engines.Emotion.Analyze(stageCtx, batch.ID, transcript.Segments)
		if err != nil {
			return err
		}
		result = analysis
		return nil
	})
	if err != nil {
		return err
	}

	key, err := o.uploadJSON(ctx, batch, artifact.TypeEmotion, "emotion.json", result)
	if err != nil {
		return err
	}
	artifacts[artifact.TypeEmotion] = key
	if err := o.idx.SetArtifacts(ctx, batch.ID, artifacts); err != nil {
		log.Warn("failed to persist emotion artifact key", logging.Error(err))
	}
	return nil
}

// runStage executes one stage with a per-attempt timeout, appending a stage
// record for every attempt. Transient failures retry in place with
// exponential backoff until the budget runs out; permanent ones fail fast.
// Attempt numbers are offset by the run's base so reruns of a retried batch
// extend the attempt log instead of colliding with it.
func (o *Orchestrator) runStage(ctx context.Context, log *slog.Logger, batchID, stage string, run *stageRun, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, stage)
	timeout := time.Duration(o.cfg.Pipeline.StageTimeoutSeconds) * time.Second
	retry := services.NewRetry(o.cfg.Pipeline.MaxRetries, time.Duration(o.cfg.Pipeline.RetryBaseSeconds)*time.Second)

	for {
		retry = retry.Next()
		attempt := run.attemptBase + retry.Attempt
		start := time.Now()
		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(stageCtx)
		cancel()
		elapsed := time.Since(start)

		record := index.StageRecord{
			BatchID:         batchID,
			Stage:           stage,
			Attempt:         attempt,
			DurationSeconds: elapsed.Seconds(),
			Success:         err == nil,
		}
		if err != nil {
			record.ErrorMessage = err.Error()
		}
		if recordErr := o.idx.AppendStageRecord(ctx, record); recordErr != nil {
			log.Warn("failed to append stage record", logging.Error(recordErr))
		}

		if err == nil {
			log.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.String(logging.FieldStage, stage),
				logging.Int("attempt", attempt),
				logging.Duration("stage_duration", elapsed),
			)
			return nil
		}
		if ctx.Err() != nil {
			return wrapStage(stage, context.Canceled)
		}
		if !services.IsTransient(err) || retry.Exhausted() {
			return wrapStage(stage, fmt.Errorf("attempt %d: %w", attempt, err))
		}

		run.retries++
		log.Warn("stage failed, retrying",
			logging.String(logging.FieldStage, stage),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", retry.Delay()),
			logging.Error(err),
		)
		select {
		case <-ctx.Done():
			return wrapStage(stage, context.Canceled)
		case <-time.After(retry.Delay()):
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, log *slog.Logger, batch *index.Batch, status index.Status, artifacts map[artifact.Type]string, errorMessage string) {
	event := notify.Event{
		BatchID:            batch.ID,
		OwnerID:            batch.OwnerID,
		Status:             status,
		Artifacts:          artifacts,
		RecordingStartedAt: batch.RecordingStartedAt.UTC().Format(time.RFC3339),
		ErrorMessage:       errorMessage,
	}
	var err error
	if status == index.StatusCompleted {
		err = o.notifier.PublishCompleted(ctx, event)
	} else {
		err = o.notifier.PublishFailed(ctx, event)
	}
	if err != nil {
		log.Warn("event publish failed", logging.Error(err))
	}
}

func (o *Orchestrator) download(ctx context.Context, key, destPath string) (string, error) {
	reader, _, err := o.store.Get(ctx, key)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "", "store.get", key, err)
	}
	defer reader.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "", "store.get", destPath, err)
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		return "", services.Wrap(services.ErrTransient, "", "store.get", key, err)
	}
	if err := out.Close(); err != nil {
		return "", services.Wrap(services.ErrTransient, "", "store.get", destPath, err)
	}
	return destPath, nil
}

func (o *Orchestrator) downloadTranscript(ctx context.Context, key string) (asr.Transcript, error) {
	reader, _, err := o.store.Get(ctx, key)
	if err != nil {
		return asr.Transcript{}, services.Wrap(services.ErrTransient, "transcribe", "store.get", key, err)
	}
	defer reader.Close()

	var transcript asr.Transcript
	if err := json.NewDecoder(reader).Decode(&transcript); err != nil {
		return asr.Transcript{}, services.Wrap(services.ErrPermanent, "transcribe", "store.get",
			"stored transcript is not valid JSON", err)
	}
	return transcript, nil
}

func (o *Orchestrator) uploadFile(ctx context.Context, batch *index.Batch, typ artifact.Type, path, contentType string) (string, error) {
	key, err := artifact.BuildKey(batch.OwnerID, batch.ID, typ, filepath.Base(path))
	if err != nil {
		return "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "", "store.put", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "", "store.put", path, err)
	}
	if err := o.store.Put(ctx, key, file, info.Size(), contentType); err != nil {
		return "", services.Wrap(services.ErrTransient, "", "store.put", key, err)
	}
	return key, nil
}

func (o *Orchestrator) uploadJSON(ctx context.Context, batch *index.Batch, typ artifact.Type, filename string, body any) (string, error) {
	key, err := artifact.BuildKey(batch.OwnerID, batch.ID, typ, filename)
	if err != nil {
		return "", err
	}
	payload, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "", "store.put", key, err)
	}
	if err := o.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return "", services.Wrap(services.ErrTransient, "", "store.put", key, err)
	}
	return key, nil
}

// stageError carries which stage produced a failure up to the batch row.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func wrapStage(stage string, err error) error {
	var existing *stageError
	if errors.As(err, &existing) {
		return err
	}
	return &stageError{stage: stage, err: err}
}

func stageOrDefault(err error, fallback string) string {
	var se *stageError
	if errors.As(err, &se) && se.stage != "" {
		return se.stage
	}
	return fallback
}
