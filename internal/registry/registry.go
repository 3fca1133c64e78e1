// Package registry owns the set of documents a repo instance knows
// about (spec §4.3): it is the only place a doc.Document is mutated, it
// hands out change notifications to the rest of the core, and it lets
// callers plug in content validators keyed by document.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/doc"
)

// Validator checks a proposed register value before it is committed.
// Registered per document key namespace (the "entry type" analogue from
// the teacher's schema registry); an unmatched key always passes.
type Validator func(key string, value []byte) error

// Registry owns every document local to this repo instance.
type Registry struct {
	mu         sync.RWMutex
	selfID     core.RepoID
	docs       map[core.DocumentID]*doc.Document
	validators map[string]Validator
	bus        eventBus
	now        func() time.Time
}

// New creates an empty registry for the repo identified by selfID. Every
// document it creates or hydrates stamps its own local writes with
// selfID, so concurrent same-time writes from different repos merge
// deterministically (core.Stamp.Less).
func New(selfID core.RepoID) *Registry {
	return &Registry{
		selfID:     selfID,
		docs:       make(map[core.DocumentID]*doc.Document),
		validators: make(map[string]Validator),
		now:        time.Now,
	}
}

// NewDocument creates and registers a brand new document owned by
// origin, returning its id.
func (r *Registry) NewDocument(origin core.RepoID) core.DocumentID {
	id := core.NewDocumentID(origin)
	r.mu.Lock()
	r.docs[id] = doc.New(r.selfID)
	r.mu.Unlock()
	r.bus.publish(Change{Type: ChangeCreated, Document: id, Timestamp: r.now()})
	return id
}

// Load registers an existing document under id, hydrated from storage
// or from the first sync payload seen for an id this repo didn't
// originate (spec §4.4 step 3). Load is a no-op if id is already known.
func (r *Registry) Load(id core.DocumentID, state doc.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[id]; exists {
		return false
	}
	d := doc.New(r.selfID)
	d.LoadState(state)
	r.docs[id] = d
	return true
}

// Has reports whether id is known to this registry.
func (r *Registry) Has(id core.DocumentID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.docs[id]
	return ok
}

// ErrUnknownDocument is returned by operations on a document id the
// registry has never created or loaded.
type ErrUnknownDocument struct{ ID core.DocumentID }

func (e ErrUnknownDocument) Error() string {
	return fmt.Sprintf("registry: unknown document %s", e.ID)
}

// WithDocument runs fn against a read-only clone of id's current state,
// so callers (sync session generation, the public read API) never hold
// the registry lock while doing their own work.
func (r *Registry) WithDocument(id core.DocumentID, fn func(*doc.Document)) error {
	r.mu.RLock()
	d, ok := r.docs[id]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownDocument{ID: id}
	}
	fn(d.Clone())
	return nil
}

// WithDocMut runs fn against id's live document under an exclusive lock,
// the only path through which a document's registers are mutated or a
// remote delta is applied. A Change is published after fn returns
// successfully.
func (r *Registry) WithDocMut(id core.DocumentID, change ChangeType, fn func(*doc.Document) error) error {
	r.mu.Lock()
	d, ok := r.docs[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownDocument{ID: id}
	}
	err := fn(d)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.bus.publish(Change{Type: change, Document: id, Timestamp: r.now()})
	return nil
}

// Delete drops a document from the registry (spec §9: document removal
// remains out of scope for v1, so this exists for local bookkeeping —
// e.g. storage eviction — only, and is never driven by sync traffic).
func (r *Registry) Delete(id core.DocumentID) {
	r.mu.Lock()
	_, ok := r.docs[id]
	delete(r.docs, id)
	r.mu.Unlock()
	if ok {
		r.bus.publish(Change{Type: ChangeDeleted, Document: id, Timestamp: r.now()})
	}
}

// Documents returns the ids of every document currently registered.
func (r *Registry) Documents() []core.DocumentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]core.DocumentID, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	return ids
}

// RegisterValidator installs a content validator for the given document
// key namespace. Validators are consulted by WithDocMut callers (the
// public Set API) before committing a write; the registry itself never
// calls a validator automatically, since sync-applied deltas from a peer
// that already accepted the write must not be re-validated and rejected
// on a downstream replica.
func (r *Registry) RegisterValidator(key string, v Validator) {
	r.mu.Lock()
	r.validators[key] = v
	r.mu.Unlock()
}

// Validate runs the validator registered for key, if any.
func (r *Registry) Validate(key string, value []byte) error {
	r.mu.RLock()
	v, ok := r.validators[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return v(key, value)
}

// Observe subscribes to document change notifications.
func (r *Registry) Observe() Subscription { return r.bus.subscribe() }

// Close shuts down all outstanding subscriptions.
func (r *Registry) Close() { r.bus.close() }
