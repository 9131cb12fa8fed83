package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"audiobatch/internal/artifact"
	"audiobatch/internal/batchid"
	"audiobatch/internal/blobstore"
	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/ingest"
	"audiobatch/internal/notify"
	"audiobatch/internal/testsupport"
)

type fixture struct {
	cfg    *config.Config
	idx    *index.Store
	store  blobstore.Store
	server *Server
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	idx := testsupport.MustOpenIndex(t, cfg)
	queue := testsupport.MustOpenQueue(t, cfg)
	store := testsupport.MustOpenBlobstore(t, cfg)

	ingester := ingest.NewService(store, idx, queue, cfg.Ingest, nil)
	server := NewServer(cfg, idx, store, ingester, notify.NewService(cfg.Notify), nil)
	return &fixture{cfg: cfg, idx: idx, store: store, server: server}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func metadataJSON(t *testing.T, start time.Time) string {
	t.Helper()
	return fmt.Sprintf(`{
		"recording": {"started_at": %q, "ended_at": %q},
		"duration_seconds": 2700,
		"size_bytes": 1024
	}`, start.Format(time.RFC3339), start.Add(45*time.Minute).Format(time.RFC3339))
}

type uploadParts struct {
	audioName string
	audioBody string
	metadata  string
	notes     string
	priority  string
}

func uploadRequest(t *testing.T, parts uploadParts) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if parts.audioName != "" {
		part, err := writer.CreateFormFile("audio", parts.audioName)
		if err != nil {
			t.Fatalf("create audio part: %v", err)
		}
		if _, err := part.Write([]byte(parts.audioBody)); err != nil {
			t.Fatalf("write audio part: %v", err)
		}
	}
	if parts.metadata != "" {
		if err := writer.WriteField("metadata", parts.metadata); err != nil {
			t.Fatalf("write metadata part: %v", err)
		}
	}
	if parts.notes != "" {
		if err := writer.WriteField("notes", parts.notes); err != nil {
			t.Fatalf("write notes part: %v", err)
		}
	}
	if parts.priority != "" {
		if err := writer.WriteField("priority", parts.priority); err != nil {
			t.Fatalf("write priority part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer test-token")
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(rec.Body.Bytes(), &value); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return value
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
}

func TestUploadAcceptsBatch(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	rec := f.do(t, uploadRequest(t, uploadParts{
		audioName: "recording.wav",
		audioBody: "fake audio bytes",
		metadata:  metadataJSON(t, start),
		notes:     `["check the second half"]`,
		priority:  "immediate",
	}))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload returned %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[uploadResponse](t, rec)
	if resp.BatchID == "" {
		t.Fatal("upload response missing batch_id")
	}
	if resp.Status != string(index.StatusQueued) {
		t.Fatalf("upload status = %q, want queued", resp.Status)
	}

	batch, err := f.idx.Get(context.Background(), resp.BatchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.OwnerID != "owner-1" {
		t.Fatalf("batch owner = %q", batch.OwnerID)
	}
	if batch.Priority != index.PriorityImmediate {
		t.Fatalf("batch priority = %q", batch.Priority)
	}
	if batch.Artifacts[artifact.TypeRawAudio] == "" {
		t.Fatalf("batch has no raw audio artifact: %+v", batch.Artifacts)
	}
}

func TestUploadRequiresBearerToken(t *testing.T) {
	f := newFixture(t)

	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"unknown":   "Bearer nope",
	} {
		t.Run(name, func(t *testing.T) {
			req := uploadRequest(t, uploadParts{audioName: "a.wav", audioBody: "x"})
			req.Header.Del("Authorization")
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := f.do(t, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("got %d, want 401", rec.Code)
			}
		})
	}
}

func TestUploadRejectsDeclaredOversize(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Ingest.MaxUploadMiB = 1
	})

	req := uploadRequest(t, uploadParts{audioName: "a.wav", audioBody: "x"})
	req.ContentLength = 2 << 20
	rec := f.do(t, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d, want 413: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadValidationErrorsNameTheProblem(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(-time.Hour)

	cases := []struct {
		name   string
		parts  uploadParts
		detail string
	}{
		{
			name:   "missing audio",
			parts:  uploadParts{metadata: metadataJSON(t, start)},
			detail: "exactly one audio part",
		},
		{
			name:   "bad audio extension",
			parts:  uploadParts{audioName: "slides.pdf", audioBody: "x", metadata: metadataJSON(t, start)},
			detail: "unsupported audio extension",
		},
		{
			name:   "missing metadata",
			parts:  uploadParts{audioName: "a.wav", audioBody: "x"},
			detail: "metadata part is required",
		},
		{
			name:   "bad notes",
			parts:  uploadParts{audioName: "a.wav", audioBody: "x", metadata: metadataJSON(t, start), notes: "plain text"},
			detail: "notes must be a JSON array",
		},
		{
			name:   "bad priority",
			parts:  uploadParts{audioName: "a.wav", audioBody: "x", metadata: metadataJSON(t, start), priority: "urgent"},
			detail: "unknown priority",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, uploadRequest(t, tc.parts))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("got %d, want 400: %s", rec.Code, rec.Body.String())
			}
			body := decodeBody[errorBody](t, rec)
			if !strings.Contains(body.Details, tc.detail) {
				t.Fatalf("details %q does not mention %q", body.Details, tc.detail)
			}
		})
	}
}

// seedBatch inserts a completed-shape batch row directly, bypassing ingest.
func seedBatch(t *testing.T, f *fixture, ownerID string, start time.Time) *index.Batch {
	t.Helper()

	id := batchid.New(start)
	rawKey, err := artifact.BuildKey(ownerID, id, artifact.TypeRawAudio, "recording.wav")
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	batch := &index.Batch{
		ID:                 id,
		OwnerID:            ownerID,
		Priority:           index.PriorityNormal,
		Artifacts:          map[artifact.Type]string{artifact.TypeRawAudio: rawKey},
		RecordingStartedAt: start,
		RecordingEndedAt:   start.Add(30 * time.Minute),
	}
	if err := f.idx.CreateBatch(context.Background(), batch, nil); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return batch
}

func TestStatusEnforcesOwnership(t *testing.T) {
	f := newFixture(t, testsupport.WithTokens(map[string]string{
		"test-token":  "owner-1",
		"other-token": "owner-2",
	}))
	batch := seedBatch(t, f, "owner-1", time.Now().UTC().Add(-time.Hour))

	get := func(token, id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/status/"+id, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return f.do(t, req)
	}

	rec := get("test-token", batch.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status returned %d: %s", rec.Code, rec.Body.String())
	}
	detail := decodeBody[batchDetail](t, rec)
	if detail.BatchID != batch.ID || detail.Status != string(index.StatusUploaded) {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if detail.Artifacts[string(artifact.TypeRawAudio)] == "" {
		t.Fatalf("detail missing raw audio key: %+v", detail.Artifacts)
	}

	if rec := get("other-token", batch.ID); rec.Code != http.StatusForbidden {
		t.Fatalf("cross-owner status returned %d, want 403", rec.Code)
	}
	if rec := get("test-token", "20260101-000000-ffffffff"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown batch returned %d, want 404", rec.Code)
	}
}

func TestListScopesAndPaginates(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for day := 0; day < 3; day++ {
		seedBatch(t, f, "owner-1", base.AddDate(0, 0, day))
	}
	seedBatch(t, f, "owner-2", base)

	req := httptest.NewRequest(http.MethodGet, "/v1/batches?limit=2&start_date=2026-05-02", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[listResponse](t, rec)
	if resp.Pagination.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Pagination.Total)
	}
	if len(resp.Batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(resp.Batches))
	}
	for _, summary := range resp.Batches {
		if summary.RecordingStartedAt.Before(base.AddDate(0, 0, 1)) {
			t.Fatalf("summary %s predates start_date filter", summary.BatchID)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/batches?status=bogus", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	if rec := f.do(t, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus status filter returned %d, want 400", rec.Code)
	}
}

func TestDownloadRedirectsToPresignedURL(t *testing.T) {
	f := newFixture(t)
	batch := seedBatch(t, f, "owner-1", time.Now().UTC().Add(-time.Hour))

	rawKey := batch.Artifacts[artifact.TypeRawAudio]
	body := "fake audio bytes"
	if err := f.store.Put(context.Background(), rawKey, strings.NewReader(body), int64(len(body)), "audio/wav"); err != nil {
		t.Fatalf("seed store object: %v", err)
	}

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer test-token")
		return f.do(t, req)
	}

	rec := get("/v1/download/" + batch.ID + "/raw-audio")
	if rec.Code != http.StatusFound {
		t.Fatalf("download returned %d, want 302: %s", rec.Code, rec.Body.String())
	}
	location := rec.Header().Get("Location")
	if !strings.Contains(location, "signature=") {
		t.Fatalf("redirect location %q is not presigned", location)
	}

	if rec := get("/v1/download/" + batch.ID + "/thumbnail"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown artifact type returned %d, want 400", rec.Code)
	}
	if rec := get("/v1/download/" + batch.ID + "/transcript"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing artifact returned %d, want 404", rec.Code)
	}
}

func TestInternalEndpointsRequireSecret(t *testing.T) {
	f := newFixture(t)

	post := func(secret, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set("X-Internal-Secret", secret)
		}
		return f.do(t, req)
	}

	if rec := post("", "/internal/batch-status", "{}"); rec.Code != http.StatusForbidden {
		t.Fatalf("missing secret returned %d, want 403", rec.Code)
	}
	if rec := post("wrong", "/internal/batch-status", "not even json"); rec.Code != http.StatusForbidden {
		t.Fatalf("bad secret returned %d, want 403", rec.Code)
	}

	batch := seedBatch(t, f, "owner-1", time.Now().UTC().Add(-time.Hour))
	body := fmt.Sprintf(`{"batch_id": %q, "from": "uploaded", "to": "queued"}`, batch.ID)
	rec := post("internal-secret", "/internal/batch-status", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("batch-status returned %d: %s", rec.Code, rec.Body.String())
	}
	updated, err := f.idx.Get(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if updated.Status != index.StatusQueued {
		t.Fatalf("status = %q, want queued", updated.Status)
	}

	// Repeating the same transition fails its precondition.
	if rec := post("internal-secret", "/internal/batch-status", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("stale transition returned %d, want 400", rec.Code)
	}
}

func TestInternalProcessingStages(t *testing.T) {
	f := newFixture(t)
	batch := seedBatch(t, f, "owner-1", time.Now().UTC().Add(-time.Hour))

	body := fmt.Sprintf(`{"batch_id": %q, "stages": [
		{"stage": "transcode", "attempt": 1, "duration_seconds": 1.5, "success": true},
		{"stage": "transcribe", "attempt": 1, "duration_seconds": 40.2, "success": false, "error_message": "remote 503"}
	]}`, batch.ID)
	req := httptest.NewRequest(http.MethodPost, "/internal/processing-stages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", "internal-secret")
	rec := f.do(t, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("processing-stages returned %d: %s", rec.Code, rec.Body.String())
	}

	records, err := f.idx.StageRecords(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("stage records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d stage records, want 2", len(records))
	}
	if records[1].Stage != "transcribe" || records[1].Success {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestInternalPublishEventReplaysCompletion(t *testing.T) {
	received := make(chan notify.Event, 1)
	topic := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event notify.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Errorf("decode published event: %v", err)
		}
		received <- event
		w.WriteHeader(http.StatusAccepted)
	}))
	defer topic.Close()

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Notify.Enabled = true
		cfg.Notify.TopicURL = topic.URL
		cfg.Notify.Completed = true
		cfg.Notify.Failed = true
	})
	batch := seedBatch(t, f, "owner-1", time.Now().UTC().Add(-time.Hour))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/publish-event", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Internal-Secret", "internal-secret")
		return f.do(t, req)
	}

	body := fmt.Sprintf(`{"batch_id": %q}`, batch.ID)
	if rec := post(body); rec.Code != http.StatusConflict {
		t.Fatalf("non-terminal batch returned %d, want 409", rec.Code)
	}

	ctx := context.Background()
	if err := f.idx.MarkQueued(ctx, batch.ID); err != nil {
		t.Fatalf("mark queued: %v", err)
	}
	if _, err := f.idx.MarkProcessing(ctx, batch.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	finished := map[artifact.Type]string{}
	for typ, key := range batch.Artifacts {
		finished[typ] = key
	}
	for _, typ := range []artifact.Type{artifact.TypeMetadata, artifact.TypeCleanedAudio, artifact.TypeTranscript} {
		key, err := artifact.BuildKey(batch.OwnerID, batch.ID, typ, "artifact.bin")
		if err != nil {
			t.Fatalf("build key: %v", err)
		}
		finished[typ] = key
	}
	if err := f.idx.Complete(ctx, batch.ID, finished, index.Metrics{}, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if rec := post(body); rec.Code != http.StatusNoContent {
		t.Fatalf("publish-event returned %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case event := <-received:
		if event.BatchID != batch.ID || event.Status != index.StatusCompleted {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered to topic")
	}
}
