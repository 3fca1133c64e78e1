package reqtracker

import (
	"context"
	"testing"
	"time"

	"github.com/weftsync/weft/internal/core"
)

func TestAwaitUnblocksOnResolve(t *testing.T) {
	tr := New()
	docID := core.NewDocumentID(core.NewRepoID())

	done := make(chan error, 1)
	go func() {
		done <- tr.Await(context.Background(), docID)
	}()

	time.Sleep(10 * time.Millisecond)
	tr.Resolve(docID)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Await to unblock")
	}
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	tr := New()
	docID := core.NewDocumentID(core.NewRepoID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := tr.Await(ctx, docID)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMultipleWaitersAllReleased(t *testing.T) {
	tr := New()
	docID := core.NewDocumentID(core.NewRepoID())

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { results <- tr.Await(context.Background(), docID) }()
	}

	time.Sleep(10 * time.Millisecond)
	tr.Resolve(docID)

	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for all waiters to release")
		}
	}
}

func TestCloseReleasesOutstandingWaitersWithErrClosed(t *testing.T) {
	tr := New()
	docID := core.NewDocumentID(core.NewRepoID())

	done := make(chan error, 1)
	go func() { done <- tr.Await(context.Background(), docID) }()

	time.Sleep(10 * time.Millisecond)
	tr.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("expected ErrClosed for a waiter released by Close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Close to release waiters")
	}

	if err := tr.Await(context.Background(), docID); err != ErrClosed {
		t.Fatalf("expected ErrClosed for Await after Close, got %v", err)
	}
}
