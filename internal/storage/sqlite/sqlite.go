// Package sqlite provides a durable storage.Store backed by SQLite,
// adapted from the teacher's entry store (internal/storage/sqlite in
// the example pack) onto this module's (document, tag) chunk schema.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) a SQLite-backed store at path. Use
// ":memory:" for a throwaway in-process database that still exercises
// the SQL code path, as opposed to storage.MemoryStore.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS chunks (
			document TEXT NOT NULL,
			tag      TEXT NOT NULL,
			data     BLOB NOT NULL,
			PRIMARY KEY (document, tag)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Put(ctx context.Context, key storage.ChunkKey, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (document, tag, data) VALUES (?, ?, ?)
		ON CONFLICT(document, tag) DO UPDATE SET data = excluded.data
	`, key.Document.String(), key.Tag, data)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key storage.ChunkKey) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM chunks WHERE document = ? AND tag = ?",
		key.Document.String(), key.Tag,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key storage.ChunkKey) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE document = ? AND tag = ?",
		key.Document.String(), key.Tag)
	if err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListTags(ctx context.Context, doc core.DocumentID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tag FROM chunks WHERE document = ?", doc.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("sqlite: scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *Store) Documents(ctx context.Context) ([]core.DocumentID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT document FROM chunks")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list documents: %w", err)
	}
	defer rows.Close()

	var docs []core.DocumentID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan document: %w", err)
		}
		id, err := core.DocumentIDFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse document id %q: %w", raw, err)
		}
		docs = append(docs, id)
	}
	return docs, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
