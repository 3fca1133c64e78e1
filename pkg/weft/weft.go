// Package weft is the public handle layer around internal/repo: the
// thin collaborator types spec.md §1 treats as an external concern, built
// here concretely so this module ships standalone, modeled on the
// teacher's pkg/engine.Engine interface-over-implementation split.
package weft

import (
	"context"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/registry"
	"github.com/weftsync/weft/internal/repo"
	"github.com/weftsync/weft/internal/storage"
	"github.com/weftsync/weft/internal/transport"
	"github.com/weftsync/weft/pkg/logging"
)

// RepoID, DocumentID and the sentinel errors are re-exported so callers
// never need to import internal packages.
type (
	RepoID     = core.RepoID
	DocumentID = core.DocumentID
	Validator  = registry.Validator
)

var (
	ErrNotFound  = repo.ErrNotFound
	ErrCancelled = repo.ErrCancelled
)

// NewRepoID is exposed for callers that need to mint a repo id outside
// of a running Repo; document ids are minted by Repo.NewDocument.
func NewRepoID() RepoID { return core.NewRepoID() }

// Config configures a new Repo.
type Config struct {
	// ID is this repo's identity. A fresh one is minted if zero.
	ID RepoID
	// Store persists document chunks across restarts. Defaults to an
	// in-memory store, which loses everything on process exit.
	Store storage.Store
	// Logger receives diagnostic output. Defaults to a no-op; pass a
	// *logging.Zap (see pkg/logging) for structured output.
	Logger logging.Logger
}

// Repo is a running sync engine: a document registry, its sync table,
// and the peer connections driving it, all behind one event loop.
// Every method is safe to call from any goroutine.
type Repo struct {
	core *repo.Repo
}

// New constructs and starts a Repo. Call Stop when done with it.
func New(cfg Config) *Repo {
	var logger repo.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	r := repo.New(repo.Options{ID: cfg.ID, Store: cfg.Store, Logger: logger})
	r.Run()
	return &Repo{core: r}
}

// ID returns this repo's identity.
func (r *Repo) ID() RepoID { return r.core.ID() }

// NewDocument creates a fresh document owned by this repo.
func (r *Repo) NewDocument() DocumentID { return r.core.NewDocument() }

// Set writes key=value into a document, subject to any validator
// registered for key.
func (r *Repo) Set(doc DocumentID, key string, value []byte) error {
	return r.core.Set(doc, key, value)
}

// Delete tombstones key in a document.
func (r *Repo) Delete(doc DocumentID, key string) error {
	return r.core.Delete(doc, key)
}

// Get reads key from a document. ok is false if the key is absent or
// deleted.
func (r *Repo) Get(doc DocumentID, key string) (value []byte, ok bool, err error) {
	return r.core.Get(doc, key)
}

// Keys lists every live key in a document.
func (r *Repo) Keys(doc DocumentID) ([]string, error) {
	return r.core.Keys(doc)
}

// RegisterValidator installs a content validator consulted by Set.
func (r *Repo) RegisterValidator(key string, v Validator) {
	r.core.RegisterValidator(key, v)
}

// Has reports whether a document is known locally.
func (r *Repo) Has(doc DocumentID) bool { return r.core.Has(doc) }

// IsReady reports whether a document is present and has at least one
// applied register.
func (r *Repo) IsReady(doc DocumentID) bool { return r.core.IsReady(doc) }

// Documents lists every document this repo currently knows.
func (r *Repo) Documents() []DocumentID { return r.core.Documents() }

// Registry exposes the underlying document registry, for collaborators
// that need to observe document lifecycle changes directly (e.g. a
// search index follower) rather than polling through Repo's methods.
func (r *Repo) Registry() *registry.Registry { return r.core.Registry() }

// RequestDocument resolves once doc becomes locally ready, whether
// because it already was, because a connected peer supplied it, or
// because it was loaded from storage. It returns ErrNotFound once every
// peer asked has reported absence, ErrCancelled if the repo stops first,
// and ctx.Err() on caller-side cancellation/timeout.
func (r *Repo) RequestDocument(ctx context.Context, doc DocumentID) error {
	return r.core.RequestDocument(ctx, doc)
}

// Load hydrates a document from the configured Store if it isn't already
// known, reporting whether it was found there.
func (r *Repo) Load(ctx context.Context, doc DocumentID) (bool, error) {
	return r.core.Load(ctx, doc)
}

// ConnectStream runs the handshake over t in the given direction and, on
// success, installs the resulting channel as an active peer. It returns
// the remote repo's id once the handshake completes.
func (r *Repo) ConnectStream(t transport.Transport, direction transport.Direction) (RepoID, error) {
	return r.core.InstallPeer(t, direction)
}

// NewNetworkAdapter pairs two in-process transports and installs them as
// peer channels on a and b respectively, returning the remote id each
// side learned (aPeer is b's id, bPeer is a's), skipping a real socket
// entirely; used by tests and by any deployment
// that multiplexes peers over its own in-process wiring instead of a
// network.
func NewNetworkAdapter(a, b *Repo) (aPeer, bPeer RepoID, err error) {
	ta, tb := transport.NewPair(64)
	type result struct {
		id  RepoID
		err error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)
	go func() {
		id, err := a.ConnectStream(ta, transport.Outgoing)
		resA <- result{id, err}
	}()
	go func() {
		id, err := b.ConnectStream(tb, transport.Incoming)
		resB <- result{id, err}
	}()
	ra, rb := <-resA, <-resB
	if ra.err != nil {
		return RepoID{}, RepoID{}, ra.err
	}
	if rb.err != nil {
		return RepoID{}, RepoID{}, rb.err
	}
	return ra.id, rb.id, nil
}

// Stop closes every peer channel, cancels every outstanding request,
// waits for snapshot writes already in flight, closes storage and blocks
// until shutdown completes. Outbound queues are not drained first.
func (r *Repo) Stop() { r.core.Stop() }
