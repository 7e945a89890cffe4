package testsupport

import (
	"context"
	"testing"

	"scribe/internal/queue"
)

// MustOpenStore opens a queue.Store backed by a temp database and registers cleanup.
func MustOpenStore(t testing.TB) *queue.Store {
	t.Helper()

	cfg := NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a queued job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, url, videoID string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), url, videoID)
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
