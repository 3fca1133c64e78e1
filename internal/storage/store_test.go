package storage

import (
	"context"
	"testing"

	"github.com/weftsync/weft/internal/core"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := ChunkKey{Document: core.NewDocumentID(core.NewRepoID()), Tag: "snapshot"}

	if _, err := s.Get(ctx, key); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound before any Put, got %v", err)
	}

	if err := s.Put(ctx, key, []byte("data")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil || string(got) != "data" {
		t.Fatalf("got %q, err %v", got, err)
	}

	s.Delete(ctx, key)
	if _, err := s.Get(ctx, key); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreListTagsAndDocuments(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	docID := core.NewDocumentID(core.NewRepoID())

	s.Put(ctx, ChunkKey{Document: docID, Tag: "snapshot"}, []byte("a"))
	s.Put(ctx, ChunkKey{Document: docID, Tag: "delta"}, []byte("b"))

	tags, _ := s.ListTags(ctx, docID)
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}

	docs, _ := s.Documents(ctx)
	if len(docs) != 1 || docs[0] != docID {
		t.Fatalf("expected the one document, got %v", docs)
	}
}
