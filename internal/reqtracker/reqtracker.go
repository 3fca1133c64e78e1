// Package reqtracker resolves request_document calls (spec §4.5): a
// caller asks for a document it may not have locally yet, and the
// tracker holds that request open until the registry reports the
// document has become ready (doc.Document.IsReady), or the request
// times out / the repo stops.
package reqtracker

import (
	"context"
	"sync"

	"github.com/weftsync/weft/internal/core"
)

// Tracker holds outstanding document requests, keyed by DocumentID.
// Multiple concurrent requesters for the same document share one wait
// list and are all released together once it resolves.
type Tracker struct {
	mu      sync.Mutex
	waiters map[core.DocumentID][]chan struct{}
	closed  bool
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{waiters: make(map[core.DocumentID][]chan struct{})}
}

// Await blocks until docID is resolved (via Resolve), ctx is cancelled,
// or the tracker is closed (repo shutdown), in which case it returns
// ErrClosed. Await does not consult the registry itself, so a document
// that is already ready does not resolve on its own; callers check
// registry readiness before calling Await, and since readiness can
// change between that check and the call, Resolve is idempotent and
// safe to call redundantly to close this gap.
func (tr *Tracker) Await(ctx context.Context, docID core.DocumentID) error {
	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return ErrClosed
	}
	ch := make(chan struct{})
	tr.waiters[docID] = append(tr.waiters[docID], ch)
	tr.mu.Unlock()

	select {
	case <-ch:
		tr.mu.Lock()
		closed := tr.closed
		tr.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		tr.cancel(docID, ch)
		return ctx.Err()
	}
}

func (tr *Tracker) cancel(docID core.DocumentID, ch chan struct{}) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	waiters := tr.waiters[docID]
	for i, w := range waiters {
		if w == ch {
			tr.waiters[docID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(tr.waiters[docID]) == 0 {
		delete(tr.waiters, docID)
	}
}

// Resolve releases every waiter on docID. Called by the event loop
// whenever a document transitions into its ready state, whether because
// a sync delta just populated it or because it was just created
// locally.
func (tr *Tracker) Resolve(docID core.DocumentID) {
	tr.mu.Lock()
	waiters := tr.waiters[docID]
	delete(tr.waiters, docID)
	tr.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// Close releases every outstanding waiter across all documents with
// ErrClosed, and rejects any future Await calls. Called on repo Stop.
func (tr *Tracker) Close() {
	tr.mu.Lock()
	tr.closed = true
	all := tr.waiters
	tr.waiters = make(map[core.DocumentID][]chan struct{})
	tr.mu.Unlock()

	for _, waiters := range all {
		for _, ch := range waiters {
			close(ch)
		}
	}
}

// ErrClosed is returned by Await once the tracker has been closed.
var ErrClosed = closedError{}

type closedError struct{}

func (closedError) Error() string { return "reqtracker: closed" }
