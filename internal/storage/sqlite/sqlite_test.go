package sqlite

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/storage"
)

func TestNew(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()
}

func TestNewWithFile(t *testing.T) {
	tmpFile := "/tmp/weft_test_" + uuid.New().String() + ".db"
	defer os.Remove(tmpFile)

	store, err := New(tmpFile)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	store.Close()

	if _, err := os.Stat(tmpFile); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestPutAndGet(t *testing.T) {
	store, _ := New(":memory:")
	defer store.Close()

	ctx := context.Background()
	key := storage.ChunkKey{Document: core.NewDocumentID(core.NewRepoID()), Tag: "snapshot"}

	if err := store.Put(ctx, key, []byte("test content")); err != nil {
		t.Fatalf("failed to put chunk: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("failed to get chunk: %v", err)
	}
	if string(got) != "test content" {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, _ := New(":memory:")
	defer store.Close()

	key := storage.ChunkKey{Document: core.NewDocumentID(core.NewRepoID()), Tag: "snapshot"}
	_, err := store.Get(context.Background(), key)
	if !storage.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutIsIdempotentUpsert(t *testing.T) {
	store, _ := New(":memory:")
	defer store.Close()

	ctx := context.Background()
	key := storage.ChunkKey{Document: core.NewDocumentID(core.NewRepoID()), Tag: "delta"}

	store.Put(ctx, key, []byte("v1"))
	store.Put(ctx, key, []byte("v2"))

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected upsert to replace value, got %q", got)
	}
}

func TestListTagsAndDocuments(t *testing.T) {
	store, _ := New(":memory:")
	defer store.Close()

	ctx := context.Background()
	docID := core.NewDocumentID(core.NewRepoID())
	store.Put(ctx, storage.ChunkKey{Document: docID, Tag: "snapshot"}, []byte("a"))
	store.Put(ctx, storage.ChunkKey{Document: docID, Tag: "delta"}, []byte("b"))

	tags, err := store.ListTags(ctx, docID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}

	docs, err := store.Documents(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0] != docID {
		t.Fatalf("expected exactly the one document, got %v", docs)
	}
}

func TestDeleteRemovesChunk(t *testing.T) {
	store, _ := New(":memory:")
	defer store.Close()

	ctx := context.Background()
	key := storage.ChunkKey{Document: core.NewDocumentID(core.NewRepoID()), Tag: "snapshot"}
	store.Put(ctx, key, []byte("a"))

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(ctx, key); !storage.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
