package vaultcrypto

import (
	"context"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/storage"
)

// EncryptedStore wraps a storage.Store so every chunk is sealed with a
// single repo-wide key before it reaches the underlying store, and
// opened on the way back out. The document id and tag are bound as
// associated data, so a ciphertext can't be replayed under a different
// key.
type EncryptedStore struct {
	inner storage.Store
	key   Key
}

// NewEncryptedStore wraps inner with at-rest encryption under key.
func NewEncryptedStore(inner storage.Store, key Key) *EncryptedStore {
	return &EncryptedStore{inner: inner, key: key}
}

func aad(key storage.ChunkKey) []byte { return []byte(key.String()) }

func (s *EncryptedStore) Put(ctx context.Context, key storage.ChunkKey, data []byte) error {
	sealed, err := Encrypt(s.key, data, aad(key))
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, key, sealed)
}

func (s *EncryptedStore) Get(ctx context.Context, key storage.ChunkKey) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return Decrypt(s.key, sealed, aad(key))
}

func (s *EncryptedStore) Delete(ctx context.Context, key storage.ChunkKey) error {
	return s.inner.Delete(ctx, key)
}

func (s *EncryptedStore) ListTags(ctx context.Context, doc core.DocumentID) ([]string, error) {
	return s.inner.ListTags(ctx, doc)
}

func (s *EncryptedStore) Documents(ctx context.Context) ([]core.DocumentID, error) {
	return s.inner.Documents(ctx)
}

func (s *EncryptedStore) Close() error { return s.inner.Close() }
