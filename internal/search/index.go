// Package search maintains a full-text index over document content,
// fed by registry change notifications rather than driven explicitly by
// callers (spec §6's search collaborator), generalizing the teacher's
// uuid/entry-type Bleve index (internal/search) to index a document's
// register values keyed by core.DocumentID.
package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/doc"
	"github.com/weftsync/weft/internal/registry"
)

// Index wraps a Bleve index over document content.
type Index struct {
	index bleve.Index
	path  string
}

// indexedDocument is the Bleve-facing document shape: every non-deleted
// register value concatenated into one searchable content field, plus the
// originating repo for filtering.
type indexedDocument struct {
	Document string `json:"document"`
	Origin   string `json:"origin"`
	Content  string `json:"content"`
}

// New creates or opens a Bleve index at dataDir/search.bleve.
func New(dataDir string) (*Index, error) {
	path := filepath.Join(dataDir, "search.bleve")

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		mapping := bleve.NewIndexMapping()
		docMapping := bleve.NewDocumentMapping()

		contentField := bleve.NewTextFieldMapping()
		contentField.Analyzer = "standard"
		docMapping.AddFieldMappingsAt("content", contentField)

		originField := bleve.NewTextFieldMapping()
		originField.Analyzer = "keyword"
		docMapping.AddFieldMappingsAt("origin", originField)

		mapping.AddDocumentMapping("document", docMapping)

		idx, err = bleve.New(path, mapping)
		if err != nil {
			return nil, fmt.Errorf("search: create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("search: open index: %w", err)
	}

	return &Index{index: idx, path: path}, nil
}

// NewMemory creates an in-memory index, for tests.
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

// IndexDocument (re)indexes docID's current content.
func (i *Index) IndexDocument(docID core.DocumentID, d *doc.Document) error {
	var parts []string
	for _, key := range d.Keys() {
		if v, ok := d.Get(key); ok {
			parts = append(parts, string(v))
		}
	}
	body := indexedDocument{
		Document: docID.String(),
		Origin:   docID.RepoID().String(),
		Content:  strings.Join(parts, "\n"),
	}
	return i.index.Index(docID.String(), body)
}

// DeleteDocument removes docID from the index.
func (i *Index) DeleteDocument(docID core.DocumentID) error {
	return i.index.Delete(docID.String())
}

// SearchOptions configures a search query.
type SearchOptions struct {
	Origin string // filter to documents owned by this repo, if set
	Limit  int    // max results, default 50
}

// SearchResult is one search hit.
type SearchResult struct {
	Document core.DocumentID
	Score    float64
}

// Search runs a full-text query over indexed content.
func (i *Index) Search(query string, opts SearchOptions) ([]SearchResult, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("content")

	req := bleve.NewSearchRequest(q)
	req.Size = opts.Limit
	if req.Size <= 0 {
		req.Size = 50
	}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: query failed: %w", err)
	}

	results := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		docID, err := core.DocumentIDFromString(hit.ID)
		if err != nil {
			continue
		}
		if opts.Origin != "" && docID.RepoID().String() != opts.Origin {
			continue
		}
		results = append(results, SearchResult{Document: docID, Score: hit.Score})
	}
	return results, nil
}

// Close closes the index.
func (i *Index) Close() error { return i.index.Close() }

// Delete closes and removes the index from disk, if it was backed by one.
func (i *Index) Delete() error {
	i.index.Close()
	if i.path != "" {
		return os.RemoveAll(i.path)
	}
	return nil
}

// Follow subscribes to reg's change bus and keeps the index in sync with
// every created/updated/deleted document until the registry (and thus
// the subscription) is closed, or stop is closed. Run this in its own
// goroutine; it returns once the subscription's channel closes.
func Follow(idx *Index, reg *registry.Registry, stop <-chan struct{}) {
	sub := reg.Observe()
	defer sub.Close()
	for {
		select {
		case change, ok := <-sub.Changes():
			if !ok {
				return
			}
			if change.Type == registry.ChangeDeleted {
				_ = idx.DeleteDocument(change.Document)
				continue
			}
			_ = reg.WithDocument(change.Document, func(d *doc.Document) {
				_ = idx.IndexDocument(change.Document, d)
			})
		case <-stop:
			return
		}
	}
}
