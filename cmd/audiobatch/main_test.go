package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"audiobatch/internal/batchid"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
)

type cliTestEnv struct {
	configPath string
	dataDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("create data dir: %v", err)
	}
	content := fmt.Sprintf(`[paths]
data_dir = %q
staging_dir = %q
log_dir = %q

[store]
backend = "local"
local_dir = %q
`,
		dataDir,
		filepath.Join(base, "staging"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "store"),
	)

	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{configPath: configPath, dataDir: dataDir}
}

func (env *cliTestEnv) openIndex(t *testing.T) *index.Store {
	t.Helper()
	idx, err := index.Open(filepath.Join(env.dataDir, "index.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func (env *cliTestEnv) openQueue(t *testing.T) *jobqueue.Queue {
	t.Helper()
	queue, err := jobqueue.Open(filepath.Join(env.dataDir, "queue.db"), time.Minute)
	if err != nil {
		t.Fatalf("jobqueue.Open: %v", err)
	}
	t.Cleanup(func() { queue.Close() })
	return queue
}

func seedFailedBatch(t *testing.T, idx *index.Store) *index.Batch {
	t.Helper()
	ctx := context.Background()

	start := time.Now().UTC().Add(-time.Hour)
	batch := &index.Batch{
		ID:                 batchid.New(start),
		OwnerID:            "owner-1",
		Priority:           index.PriorityNormal,
		RecordingStartedAt: start,
		RecordingEndedAt:   start.Add(30 * time.Minute),
	}
	if err := idx.CreateBatch(ctx, batch, nil); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if err := idx.MarkQueued(ctx, batch.ID); err != nil {
		t.Fatalf("mark queued: %v", err)
	}
	if _, err := idx.MarkProcessing(ctx, batch.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := idx.Fail(ctx, batch.ID, "transcribe", "remote job rejected", 0); err != nil {
		t.Fatalf("fail batch: %v", err)
	}
	return batch
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestStatusCommandRendersBatch(t *testing.T) {
	env := setupCLITestEnv(t)
	batch := seedFailedBatch(t, env.openIndex(t))

	out, _, err := runCLI(t, env.configPath, "status", batch.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, batch.ID)
	requireContains(t, out, "Failed")
	requireContains(t, out, "remote job rejected")
}

func TestStatusCommandUnknownBatch(t *testing.T) {
	env := setupCLITestEnv(t)
	env.openIndex(t)

	_, _, err := runCLI(t, env.configPath, "status", "20260101-000000-ffffffff")
	if err == nil {
		t.Fatal("expected error for unknown batch")
	}
}

func TestListCommandScopesToOwner(t *testing.T) {
	env := setupCLITestEnv(t)
	idx := env.openIndex(t)
	batch := seedFailedBatch(t, idx)

	out, _, err := runCLI(t, env.configPath, "list", "--owner", "owner-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, batch.ID)

	out, _, err = runCLI(t, env.configPath, "list", "--owner", "owner-2")
	if err != nil {
		t.Fatalf("list other owner: %v", err)
	}
	requireContains(t, out, "No batches for owner owner-2")
}

func TestReprocessRequeuesFailedBatch(t *testing.T) {
	env := setupCLITestEnv(t)
	idx := env.openIndex(t)
	queue := env.openQueue(t)
	batch := seedFailedBatch(t, idx)

	out, _, err := runCLI(t, env.configPath, "reprocess", batch.ID, "--immediate")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	requireContains(t, out, "Requeued "+batch.ID)

	ctx := context.Background()
	updated, err := idx.Get(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if updated.Status != index.StatusQueued {
		t.Fatalf("status = %q, want queued", updated.Status)
	}
	if updated.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", updated.RetryCount)
	}

	job, err := queue.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("dequeue after reprocess: job=%v err=%v", job, err)
	}
	if job.BatchID != batch.ID || job.Lane != jobqueue.LaneImmediate {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestReprocessForceBypassesExhaustedBudget(t *testing.T) {
	env := setupCLITestEnv(t)
	idx := env.openIndex(t)
	queue := env.openQueue(t)
	batch := seedFailedBatch(t, idx)

	ctx := context.Background()
	// Burn the whole budget so a plain reprocess is refused.
	for {
		if _, err := idx.RetryFailed(ctx, batch.ID, 3); err != nil {
			break
		}
		if _, err := idx.MarkProcessing(ctx, batch.ID); err != nil {
			t.Fatalf("mark processing: %v", err)
		}
		if err := idx.Fail(ctx, batch.ID, "transcribe", "remote job rejected", 0); err != nil {
			t.Fatalf("fail batch: %v", err)
		}
	}

	if _, _, err := runCLI(t, env.configPath, "reprocess", batch.ID); err == nil {
		t.Fatal("expected exhausted budget to refuse plain reprocess")
	}

	out, _, err := runCLI(t, env.configPath, "reprocess", batch.ID, "--force")
	if err != nil {
		t.Fatalf("reprocess --force: %v", err)
	}
	requireContains(t, out, "Requeued "+batch.ID)

	updated, err := idx.Get(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if updated.Status != index.StatusQueued {
		t.Fatalf("status = %q, want queued", updated.Status)
	}
	if job, err := queue.Dequeue(ctx); err != nil || job == nil || job.BatchID != batch.ID {
		t.Fatalf("dequeue after forced reprocess: job=%+v err=%v", job, err)
	}
}

func TestReprocessRefusesNonFailedBatch(t *testing.T) {
	env := setupCLITestEnv(t)
	idx := env.openIndex(t)

	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Hour)
	batch := &index.Batch{
		ID:                 batchid.New(start),
		OwnerID:            "owner-1",
		RecordingStartedAt: start,
		RecordingEndedAt:   start.Add(time.Minute),
	}
	if err := idx.CreateBatch(ctx, batch, nil); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	_, _, err := runCLI(t, env.configPath, "reprocess", batch.ID)
	if err == nil || !strings.Contains(err.Error(), "only failed batches") {
		t.Fatalf("expected only-failed error, got %v", err)
	}
}

func TestQueueDepthCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	queue := env.openQueue(t)

	if _, err := queue.Enqueue(context.Background(), jobqueue.Job{
		BatchID: batchid.New(time.Now().UTC()),
		OwnerID: "owner-1",
		Lane:    jobqueue.LaneNormal,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "queue", "depth")
	if err != nil {
		t.Fatalf("queue depth: %v", err)
	}
	requireContains(t, out, "pending")
}

func TestConfigInitCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, _, err := runCLI(t, env.configPath, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, env.configPath, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when target already exists")
	}
}
