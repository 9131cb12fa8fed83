package index_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"audiobatch/internal/artifact"
	"audiobatch/internal/batchid"
	"audiobatch/internal/index"
	"audiobatch/internal/services"
)

func newStore(t *testing.T) *index.Store {
	t.Helper()
	store, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func newBatch(t *testing.T, owner string) *index.Batch {
	t.Helper()
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return &index.Batch{
		ID:                 batchid.New(started),
		OwnerID:            owner,
		Priority:           index.PriorityNormal,
		RecordingStartedAt: started,
		RecordingEndedAt:   started.Add(45 * time.Minute),
		Metrics:            index.Metrics{RawAudioSizeBytes: 1 << 20},
	}
}

func mandatoryArtifacts(owner, batchID string) map[artifact.Type]string {
	return map[artifact.Type]string{
		artifact.TypeRawAudio:     owner + "/" + batchID + "/raw-audio/a.m4a",
		artifact.TypeMetadata:     owner + "/" + batchID + "/metadata/metadata.json",
		artifact.TypeCleanedAudio: owner + "/" + batchID + "/cleaned-audio/cleaned.wav",
		artifact.TypeTranscript:   owner + "/" + batchID + "/transcript/transcript.json",
	}
}

func createQueued(t *testing.T, store *index.Store, owner string) *index.Batch {
	t.Helper()
	ctx := context.Background()
	batch := newBatch(t, owner)
	if err := store.CreateBatch(ctx, batch, nil); err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}
	if err := store.MarkQueued(ctx, batch.ID); err != nil {
		t.Fatalf("MarkQueued returned error: %v", err)
	}
	return batch
}

func TestCreateBatchPersistsAttachments(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	batch := newBatch(t, "field-team")
	attachments := []index.Attachment{
		{Kind: index.AttachmentImage, Filename: "site.jpg", StoreKey: "field-team/" + batch.ID + "/attachment/site.jpg", SizeBytes: 2048},
		{Kind: index.AttachmentNote, Filename: "notes.json", StoreKey: "field-team/" + batch.ID + "/notes/notes.json", SizeBytes: 128},
	}

	if err := store.CreateBatch(ctx, batch, attachments); err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}

	loaded, err := store.GetOwned(ctx, "field-team", batch.ID)
	if err != nil {
		t.Fatalf("GetOwned returned error: %v", err)
	}
	if loaded.Status != index.StatusUploaded {
		t.Fatalf("expected uploaded status, got %s", loaded.Status)
	}
	if loaded.Metrics.RawAudioSizeBytes != 1<<20 {
		t.Fatalf("expected raw size persisted, got %d", loaded.Metrics.RawAudioSizeBytes)
	}
	if !loaded.RecordingStartedAt.Equal(batch.RecordingStartedAt) {
		t.Fatalf("unexpected recording start: %v", loaded.RecordingStartedAt)
	}

	stored, err := store.Attachments(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Attachments returned error: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(stored))
	}
	if stored[0].Kind != index.AttachmentImage || stored[1].Kind != index.AttachmentNote {
		t.Fatalf("unexpected attachment kinds: %v %v", stored[0].Kind, stored[1].Kind)
	}
}

func TestGetOwnedSplitsNotFoundAndForbidden(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	batch := newBatch(t, "field-team")
	if err := store.CreateBatch(ctx, batch, nil); err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}

	if _, err := store.GetOwned(ctx, "field-team", "20260101T000000Z-deadbeef"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found for unknown id, got %v", err)
	}
	if _, err := store.GetOwned(ctx, "lab", batch.ID); !errors.Is(err, services.ErrForbidden) {
		t.Fatalf("expected forbidden for wrong owner, got %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	batch := createQueued(t, store, "field-team")

	processing, err := store.MarkProcessing(ctx, batch.ID)
	if err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}
	if processing.Status != index.StatusProcessing {
		t.Fatalf("expected processing status, got %s", processing.Status)
	}
	if processing.ProcessingStartedAt.IsZero() {
		t.Fatal("expected processing_started_at to be set")
	}
	if processing.Metrics.QueueWaitSeconds < 0 {
		t.Fatalf("expected non-negative queue wait, got %f", processing.Metrics.QueueWaitSeconds)
	}

	metrics := index.Metrics{
		RawAudioDurationSeconds: 2700,
		SpeechDurationSeconds:   1800,
		SpeechRatio:             0.667,
		RawAudioSizeBytes:       1 << 20,
		CleanedAudioSizeBytes:   1 << 19,
	}
	if err := store.Complete(ctx, batch.ID, mandatoryArtifacts("field-team", batch.ID), metrics, 1); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	completed, err := store.Get(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if completed.Status != index.StatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}
	if completed.Artifacts[artifact.TypeTranscript] == "" {
		t.Fatal("expected transcript artifact key")
	}
	if completed.Metrics.SpeechRatio != 0.667 {
		t.Fatalf("unexpected speech ratio: %f", completed.Metrics.SpeechRatio)
	}
	if completed.RetryCount != 1 {
		t.Fatalf("expected transient retries credited to retry_count, got %d", completed.RetryCount)
	}
	if completed.ProcessingCompletedAt.IsZero() {
		t.Fatal("expected processing_completed_at to be set")
	}
}

func TestTerminalStatusesDoNotRegress(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	batch := createQueued(t, store, "field-team")
	if _, err := store.MarkProcessing(ctx, batch.ID); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}
	if err := store.Complete(ctx, batch.ID, mandatoryArtifacts("field-team", batch.ID), index.Metrics{}, 0); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if err := store.MarkQueued(ctx, batch.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error re-queueing completed batch, got %v", err)
	}
	if _, err := store.MarkProcessing(ctx, batch.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error re-processing completed batch, got %v", err)
	}
	if err := store.Fail(ctx, batch.ID, "transcribe", "boom", 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error failing completed batch, got %v", err)
	}
}

func TestCompleteRequiresMandatoryArtifacts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	batch := createQueued(t, store, "field-team")
	if _, err := store.MarkProcessing(ctx, batch.ID); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}

	partial := mandatoryArtifacts("field-team", batch.ID)
	delete(partial, artifact.TypeTranscript)
	err := store.Complete(ctx, batch.ID, partial, index.Metrics{}, 0)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing transcript, got %v", err)
	}

	loaded, getErr := store.Get(ctx, batch.ID)
	if getErr != nil {
		t.Fatalf("Get returned error: %v", getErr)
	}
	if loaded.Status != index.StatusProcessing {
		t.Fatalf("refused completion must not change status, got %s", loaded.Status)
	}
}

func TestRetryFailedConsumesBudget(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	batch := createQueued(t, store, "field-team")

	failOnce := func() {
		t.Helper()
		if _, err := store.MarkProcessing(ctx, batch.ID); err != nil {
			t.Fatalf("MarkProcessing returned error: %v", err)
		}
		if err := store.Fail(ctx, batch.ID, "transcribe", "asr unavailable", 0); err != nil {
			t.Fatalf("Fail returned error: %v", err)
		}
	}

	failOnce()
	failed, err := store.Get(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if failed.ErrorStage != "transcribe" || failed.ErrorMessage != "asr unavailable" {
		t.Fatalf("unexpected error fields: %q %q", failed.ErrorStage, failed.ErrorMessage)
	}

	retried, err := store.RetryFailed(ctx, batch.ID, 2)
	if err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}
	if retried.Status != index.StatusQueued || retried.RetryCount != 1 {
		t.Fatalf("unexpected retry state: %s retry_count=%d", retried.Status, retried.RetryCount)
	}

	failOnce()
	if _, err := store.RetryFailed(ctx, batch.ID, 2); err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}
	failOnce()
	if _, err := store.RetryFailed(ctx, batch.ID, 2); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected exhausted retry budget, got %v", err)
	}

	// The operator override keeps an exhausted batch reprocessable.
	forced, err := store.ForceRetryFailed(ctx, batch.ID)
	if err != nil {
		t.Fatalf("ForceRetryFailed returned error: %v", err)
	}
	if forced.Status != index.StatusQueued || forced.RetryCount != 3 {
		t.Fatalf("unexpected forced retry state: %s retry_count=%d", forced.Status, forced.RetryCount)
	}
	if _, err := store.ForceRetryFailed(ctx, batch.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error forcing a queued batch, got %v", err)
	}
}

func TestListScopesAndPaginates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for range 3 {
		if err := store.CreateBatch(ctx, newBatch(t, "field-team"), nil); err != nil {
			t.Fatalf("CreateBatch returned error: %v", err)
		}
	}
	other := newBatch(t, "lab")
	if err := store.CreateBatch(ctx, other, nil); err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}

	summaries, total, err := store.List(ctx, "field-team", index.ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	for _, summary := range summaries {
		if summary.ID == other.ID {
			t.Fatal("list leaked a cross-owner row")
		}
	}

	page2, _, err := store.List(ctx, "field-team", index.ListFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("expected 1 summary on second page, got %d", len(page2))
	}

	queuedOnly, total, err := store.List(ctx, "field-team", index.ListFilter{Status: index.StatusQueued})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 0 || len(queuedOnly) != 0 {
		t.Fatalf("expected no queued batches, got %d/%d", len(queuedOnly), total)
	}
}

func TestRequeueStuckReturnsOnlyOldProcessing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	stuck := createQueued(t, store, "field-team")
	if _, err := store.MarkProcessing(ctx, stuck.ID); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}
	fresh := createQueued(t, store, "field-team")
	if _, err := store.MarkProcessing(ctx, fresh.ID); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}

	// Cutoff in the future catches both; cutoff in the past catches neither.
	none, err := store.RequeueStuck(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RequeueStuck returned error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no stuck batches, got %v", none)
	}

	requeued, err := store.RequeueStuck(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("RequeueStuck returned error: %v", err)
	}
	if len(requeued) != 2 {
		t.Fatalf("expected 2 requeued batches, got %v", requeued)
	}
	for _, id := range requeued {
		batch, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if batch.Status != index.StatusQueued {
			t.Fatalf("expected queued after requeue, got %s", batch.Status)
		}
		if batch.RetryCount != 0 {
			t.Fatalf("janitor requeue must not consume retry budget, got %d", batch.RetryCount)
		}
	}
}

func TestAppendStageRecordIsIdempotentPerAttempt(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	batch := createQueued(t, store, "field-team")

	record := index.StageRecord{
		BatchID:         batch.ID,
		Stage:           "transcode",
		Attempt:         1,
		DurationSeconds: 3.2,
		Success:         true,
	}
	for range 3 {
		if err := store.AppendStageRecord(ctx, record); err != nil {
			t.Fatalf("AppendStageRecord returned error: %v", err)
		}
	}
	record.Attempt = 2
	record.Success = false
	record.ErrorMessage = "timeout"
	if err := store.AppendStageRecord(ctx, record); err != nil {
		t.Fatalf("AppendStageRecord returned error: %v", err)
	}

	records, err := store.StageRecords(ctx, batch.ID)
	if err != nil {
		t.Fatalf("StageRecords returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Attempt != 2 || records[1].Success || records[1].ErrorMessage != "timeout" {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestSetArtifactsPersistsProgress(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	batch := createQueued(t, store, "field-team")

	artifacts := map[artifact.Type]string{
		artifact.TypeCleanedAudio: "field-team/" + batch.ID + "/cleaned-audio/cleaned.wav",
	}
	if err := store.SetArtifacts(ctx, batch.ID, artifacts); err != nil {
		t.Fatalf("SetArtifacts returned error: %v", err)
	}

	loaded, err := store.Get(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.Artifacts[artifact.TypeCleanedAudio] == "" {
		t.Fatal("expected cleaned-audio key persisted")
	}
	if loaded.Status != index.StatusQueued {
		t.Fatalf("SetArtifacts must not touch status, got %s", loaded.Status)
	}

	if err := store.SetArtifacts(ctx, "20260101T000000Z-deadbeef", artifacts); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
