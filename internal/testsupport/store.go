package testsupport

import (
	"testing"
	"time"

	"audiobatch/internal/blobstore"
	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
)

// MustOpenIndex opens the batch index for tests and registers cleanup.
func MustOpenIndex(t testing.TB, cfg *config.Config) *index.Store {
	t.Helper()

	store, err := index.Open(cfg.IndexPath())
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenQueue opens the job queue for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *jobqueue.Queue {
	t.Helper()

	queue, err := jobqueue.Open(cfg.QueuePath(), time.Duration(cfg.Workflow.LeaseSeconds)*time.Second)
	if err != nil {
		t.Fatalf("jobqueue.Open: %v", err)
	}
	t.Cleanup(func() {
		queue.Close()
	})
	return queue
}

// MustOpenBlobstore opens the configured local blobstore for tests.
func MustOpenBlobstore(t testing.TB, cfg *config.Config) blobstore.Store {
	t.Helper()

	store, err := blobstore.NewLocalStore(cfg.Store.LocalDir)
	if err != nil {
		t.Fatalf("blobstore.NewLocalStore: %v", err)
	}
	return store
}
