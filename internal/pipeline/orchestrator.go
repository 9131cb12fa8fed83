// Package pipeline runs the asynchronous processing side of the daemon: a
// fixed pool of workers that drain the job queue and drive each batch
// through the stage sequence.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"audiobatch/internal/blobstore"
	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
	"audiobatch/internal/logging"
	"audiobatch/internal/notify"
)

// Orchestrator owns the worker pool.
type Orchestrator struct {
	cfg      *config.Config
	idx      *index.Store
	queue    *jobqueue.Queue
	store    blobstore.Store
	engines  Engines
	notifier notify.Service
	logger   *slog.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// New constructs an orchestrator. A nil logger disables logging.
func New(cfg *config.Config, idx *index.Store, queue *jobqueue.Queue, store blobstore.Store, engines Engines, notifier notify.Service, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewService(config.Notify{})
	}
	return &Orchestrator{
		cfg:          cfg,
		idx:          idx,
		queue:        queue,
		store:        store,
		engines:      engines,
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
	}
}

// Start launches the worker pool in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("pipeline already running")
	}

	workers := o.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go o.runWorker(runCtx, i)
	}
	o.logger.Info("workers started", logging.Int("workers", workers))
	return nil
}

// Stop cancels the pool and waits for in-flight batches. Stage contexts are
// canceled, so the wait is bounded by how fast engines honor cancellation.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
}

// LastError reports the most recent worker failure, for the health surface.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
}

func (o *Orchestrator) runWorker(ctx context.Context, id int) {
	defer o.wg.Done()
	logger := o.logger.With(logging.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := o.queue.Dequeue(ctx)
		if err != nil {
			o.setLastError(err)
			logger.Error("dequeue failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
			)
			o.sleep(ctx, time.Duration(o.cfg.Workflow.ErrorRetryInterval)*time.Second)
			continue
		}
		if job == nil {
			o.sleep(ctx, o.pollInterval)
			continue
		}

		if err := o.processJob(ctx, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			o.setLastError(err)
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
