package vaultcrypto

import (
	"context"
	"testing"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/storage"
)

func TestEncryptedStoreRoundTrips(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := NewEncryptedStore(storage.NewMemoryStore(), key)
	ctx := context.Background()
	chunkKey := storage.ChunkKey{Document: core.NewDocumentID(core.NewRepoID()), Tag: "snapshot"}

	if err := s.Put(ctx, chunkKey, []byte("plaintext")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Get(ctx, chunkKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "plaintext" {
		t.Fatalf("got %q", got)
	}
}

func TestEncryptedStoreRejectsWrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	inner := storage.NewMemoryStore()
	ctx := context.Background()
	chunkKey := storage.ChunkKey{Document: core.NewDocumentID(core.NewRepoID()), Tag: "snapshot"}

	NewEncryptedStore(inner, key1).Put(ctx, chunkKey, []byte("secret"))

	if _, err := NewEncryptedStore(inner, key2).Get(ctx, chunkKey); err != ErrDecrypt {
		t.Fatalf("expected ErrDecrypt with the wrong key, got %v", err)
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	salt, _ := GenerateSalt()
	k1 := DeriveKey([]byte("passphrase"), salt)
	k2 := DeriveKey([]byte("passphrase"), salt)
	if k1 != k2 {
		t.Fatal("expected DeriveKey to be deterministic for the same passphrase and salt")
	}
}
