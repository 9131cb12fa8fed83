package jobqueue_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"audiobatch/internal/jobqueue"
	"audiobatch/internal/services"
)

func newQueue(t *testing.T, lease time.Duration) *jobqueue.Queue {
	t.Helper()
	queue, err := jobqueue.Open(filepath.Join(t.TempDir(), "queue.db"), lease)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := queue.Close(); err != nil {
			t.Errorf("close queue: %v", err)
		}
	})
	return queue
}

func enqueue(t *testing.T, queue *jobqueue.Queue, batchID string, lane jobqueue.Lane) int64 {
	t.Helper()
	id, err := queue.Enqueue(context.Background(), jobqueue.Job{BatchID: batchID, OwnerID: "field-team", Lane: lane})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	return id
}

func TestDequeueDrainsImmediateLaneFirst(t *testing.T) {
	queue := newQueue(t, time.Minute)
	ctx := context.Background()

	enqueue(t, queue, "batch-normal-1", jobqueue.LaneNormal)
	enqueue(t, queue, "batch-normal-2", jobqueue.LaneNormal)
	enqueue(t, queue, "batch-urgent", jobqueue.LaneImmediate)

	order := make([]string, 0, 3)
	for range 3 {
		job, err := queue.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue returned error: %v", err)
		}
		if job == nil {
			t.Fatal("expected a job")
		}
		order = append(order, job.BatchID)
	}
	if order[0] != "batch-urgent" || order[1] != "batch-normal-1" || order[2] != "batch-normal-2" {
		t.Fatalf("unexpected delivery order: %v", order)
	}

	empty, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue returned error: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected empty queue, got %+v", empty)
	}
}

func TestLeasedJobsAreInvisibleUntilReclaimed(t *testing.T) {
	queue := newQueue(t, 10*time.Millisecond)
	ctx := context.Background()

	enqueue(t, queue, "batch-a", jobqueue.LaneNormal)

	first, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue returned error: %v", err)
	}
	if first == nil || first.Deliveries != 1 {
		t.Fatalf("unexpected first delivery: %+v", first)
	}

	hidden, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue returned error: %v", err)
	}
	if hidden != nil {
		t.Fatalf("leased job must be invisible, got %+v", hidden)
	}

	time.Sleep(20 * time.Millisecond)
	reclaimed, err := queue.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("ReclaimExpired returned error: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", reclaimed)
	}

	second, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue returned error: %v", err)
	}
	if second == nil || second.BatchID != "batch-a" {
		t.Fatalf("expected redelivery of batch-a, got %+v", second)
	}
	if second.Deliveries != 2 {
		t.Fatalf("expected delivery count 2, got %d", second.Deliveries)
	}
}

func TestAckRemovesAndNackReturns(t *testing.T) {
	queue := newQueue(t, time.Minute)
	ctx := context.Background()

	enqueue(t, queue, "batch-a", jobqueue.LaneNormal)
	job, err := queue.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("Dequeue: job=%+v err=%v", job, err)
	}

	if err := queue.Nack(ctx, job.ID); err != nil {
		t.Fatalf("Nack returned error: %v", err)
	}
	again, err := queue.Dequeue(ctx)
	if err != nil || again == nil {
		t.Fatalf("Dequeue after nack: job=%+v err=%v", again, err)
	}
	if again.Deliveries != 2 {
		t.Fatalf("expected delivery count 2 after nack, got %d", again.Deliveries)
	}

	if err := queue.Ack(ctx, again.ID); err != nil {
		t.Fatalf("Ack returned error: %v", err)
	}
	if err := queue.Ack(ctx, again.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found on double ack, got %v", err)
	}

	pending, leased, err := queue.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth returned error: %v", err)
	}
	if pending != 0 || leased != 0 {
		t.Fatalf("expected empty queue, got pending=%d leased=%d", pending, leased)
	}
}

func TestEnqueueValidatesJob(t *testing.T) {
	queue := newQueue(t, time.Minute)
	ctx := context.Background()

	if _, err := queue.Enqueue(ctx, jobqueue.Job{OwnerID: "x", Lane: jobqueue.LaneNormal}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing batch id, got %v", err)
	}
	if _, err := queue.Enqueue(ctx, jobqueue.Job{BatchID: "b", OwnerID: "x", Lane: "express"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown lane, got %v", err)
	}
	if _, err := queue.Enqueue(ctx, jobqueue.Job{BatchID: "b", OwnerID: "x"}); err != nil {
		t.Fatalf("expected empty lane to default to normal, got %v", err)
	}
}
