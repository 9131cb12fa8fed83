// Package janitor sweeps up the failure modes the happy path cannot see: a
// worker that died mid-batch leaves the row in processing forever, and a
// crashed worker leaves its queue lease dangling. The sweeper moves stuck
// batches back to queued and reclaims expired leases on a ticker.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
	"audiobatch/internal/logging"
)

// Janitor owns the sweep loop.
type Janitor struct {
	cfg    *config.Config
	idx    *index.Store
	queue  *jobqueue.Queue
	logger *slog.Logger

	interval time.Duration
	stuckAge time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg *config.Config, idx *index.Store, queue *jobqueue.Queue, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Janitor{
		cfg:      cfg,
		idx:      idx,
		queue:    queue,
		logger:   logging.NewComponentLogger(logger, "janitor"),
		interval: time.Duration(cfg.Janitor.IntervalSeconds) * time.Second,
		stuckAge: time.Duration(cfg.Janitor.StuckAgeMinutes) * time.Minute,
	}
}

// Start launches the sweep loop in the background.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return errors.New("janitor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.running = true
	j.wg.Add(1)
	go j.run(runCtx)
	return nil
}

// Stop halts the loop and waits for an in-flight sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	cancel := j.cancel
	j.running = false
	j.cancel = nil
	j.mu.Unlock()

	cancel()
	j.wg.Wait()
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: requeue stuck batches, then reclaim expired leases.
// Requeueing does not consume a retry from the batch's budget; the batch
// never got its attempt.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.stuckAge)
	ids, err := j.idx.RequeueStuck(ctx, cutoff)
	if err != nil {
		j.logger.Error("requeue stuck batches failed", logging.Error(err))
	}
	for _, id := range ids {
		j.requeueJob(ctx, id)
	}

	reclaimed, err := j.queue.ReclaimExpired(ctx)
	if err != nil {
		j.logger.Error("reclaim expired leases failed", logging.Error(err))
	} else if reclaimed > 0 {
		j.logger.Info("reclaimed expired leases", logging.Int("count", reclaimed))
	}
}

// requeueJob puts a fresh job on the queue for a batch the index just moved
// back to queued. The original job may still exist under an expired lease;
// duplicate deliveries are safe because terminal batches ack and drop.
func (j *Janitor) requeueJob(ctx context.Context, id string) {
	batch, err := j.idx.Get(ctx, id)
	if err != nil {
		j.logger.Error("stuck batch vanished before requeue",
			logging.String(logging.FieldBatchID, id), logging.Error(err))
		return
	}
	lane := jobqueue.LaneNormal
	if batch.Priority == index.PriorityImmediate {
		lane = jobqueue.LaneImmediate
	}
	if _, err := j.queue.Enqueue(ctx, jobqueue.Job{BatchID: id, OwnerID: batch.OwnerID, Lane: lane}); err != nil {
		j.logger.Error("failed to requeue stuck batch",
			logging.String(logging.FieldBatchID, id), logging.Error(err))
		return
	}
	j.logger.Info("requeued stuck batch",
		logging.String(logging.FieldEventType, "batch_requeued"),
		logging.String(logging.FieldBatchID, id),
	)
}
