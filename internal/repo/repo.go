// Package repo is the single-owner event loop that binds the document
// registry, the sync table, the request tracker, the peer set and the
// storage bridge into one reactor (spec §4.6): every state-changing API
// call and every peer message is processed as an event on this loop, one
// at a time. Read-only calls (Get, Has, IsReady, Keys, Documents) go
// straight to the registry, which guards its documents with its own lock.
package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/doc"
	"github.com/weftsync/weft/internal/handshake"
	"github.com/weftsync/weft/internal/peer"
	"github.com/weftsync/weft/internal/registry"
	"github.com/weftsync/weft/internal/reqtracker"
	"github.com/weftsync/weft/internal/storage"
	"github.com/weftsync/weft/internal/synctable"
	"github.com/weftsync/weft/internal/transport"
	"github.com/weftsync/weft/internal/wire"
)

// Logger is the minimal logging capability this package depends on; any
// Printf-style logger (including pkg/logging.Zap or a test no-op)
// satisfies it.
type Logger interface {
	Printf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}

// snapshotTag is the storage chunk tag for a document's full state; the
// core treats its contents as opaque bytes owned by internal/doc, per
// spec §6's "chunk semantics are defined by the CRDT library".
const snapshotTag = "snapshot"

// peerInbound is one message (or terminal error) arriving from an
// installed peer channel, fanned in from that peer's own forwarding
// goroutine onto the loop's single inbound channel (spec §4.6 multiplexes
// "one inbound stream per active peer" without needing a dynamic select).
type peerInbound struct {
	from   core.PeerID
	msg    wire.RepoMessage
	closed bool
	err    error
}

// requestState tracks the peers a request_document call has asked and
// which of them have already reported absence (spec §4.5).
type requestState struct {
	candidates map[core.PeerID]bool
	absent     map[core.PeerID]bool
}

// Repo is the event loop. Construct with New and start it with Run;
// every exported method is safe to call concurrently from any goroutine.
// Methods that change documents or the peer set hand a closure to the
// loop; read-only methods go through the registry's own lock.
type Repo struct {
	selfID  core.RepoID
	reg     *registry.Registry
	table   *synctable.Table
	tracker *reqtracker.Tracker
	store   storage.Store
	logger  Logger

	cmds   chan func()
	peerIn chan peerInbound
	wake   chan core.DocumentID

	mu       sync.Mutex // guards peers, requests and notFound
	peers    map[core.PeerID]*peer.Channel
	requests map[core.DocumentID]*requestState
	notFound map[core.DocumentID]bool

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
	flushes  sync.WaitGroup // in-flight snapshot writes, awaited by drain
}

// Options configures a new Repo.
type Options struct {
	// ID is this repo's identity. A fresh one is minted if zero.
	ID core.RepoID
	// Store persists document chunks. Defaults to storage.NewMemoryStore().
	Store storage.Store
	// Logger receives diagnostic output. Defaults to a no-op.
	Logger Logger
}

// New constructs a Repo. Call Run to start its event loop.
func New(opts Options) *Repo {
	if opts.ID.IsZero() {
		opts.ID = core.NewRepoID()
	}
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	reg := registry.New(opts.ID)
	r := &Repo{
		selfID:   opts.ID,
		reg:      reg,
		table:    synctable.New(reg),
		tracker:  reqtracker.New(),
		store:    opts.Store,
		logger:   opts.Logger,
		cmds:     make(chan func(), 64),
		peerIn:   make(chan peerInbound, 256),
		wake:     make(chan core.DocumentID, 256),
		peers:    make(map[core.PeerID]*peer.Channel),
		requests: make(map[core.DocumentID]*requestState),
		notFound: make(map[core.DocumentID]bool),
		stopped:  make(chan struct{}),
	}
	return r
}

// ID returns this repo's identity.
func (r *Repo) ID() core.RepoID { return r.selfID }

// Run starts the event loop in a background goroutine and subscribes to
// the registry's own change bus so that locally driven mutations (made
// through Set, or the public handle's With) wake the scheduler exactly
// like an inbound sync message would.
func (r *Repo) Run() {
	sub := r.reg.Observe()
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		for change := range sub.Changes() {
			select {
			case r.wake <- change.Document:
			case <-r.stopped:
				return
			}
		}
	}()
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
}

func (r *Repo) loop() {
	for {
		select {
		case cmd := <-r.cmds:
			cmd()
		case in := <-r.peerIn:
			r.handlePeerInbound(in)
		case docID := <-r.wake:
			r.settle(docID)
		case <-r.stopped:
			r.drain()
			return
		}
	}
}

// drain runs once, after Stop has closed r.stopped: it closes every
// peer, releases every outstanding request (RequestDocument then returns
// ErrCancelled), waits for snapshot writes already in flight and closes
// the store. Messages still queued on a peer's outbound side when its
// channel closes may be dropped rather than delivered. It does not read
// further off cmds or peerIn — those producers are expected to stop
// sending once stopped is closed.
func (r *Repo) drain() {
	r.mu.Lock()
	peers := make([]*peer.Channel, 0, len(r.peers))
	for _, ch := range r.peers {
		peers = append(peers, ch)
	}
	r.peers = make(map[core.PeerID]*peer.Channel)
	r.mu.Unlock()

	for _, ch := range peers {
		ch.Close()
	}
	r.tracker.Close()
	r.reg.Close()
	r.flushes.Wait()
	if err := r.store.Close(); err != nil {
		r.logger.Printf("repo: storage close: %v", err)
	}
}

// exec runs fn on the loop goroutine and waits for it to finish. Used by
// the exported methods that change documents, sync sessions or the peer
// set, so those changes all happen on one goroutine.
func (r *Repo) exec(fn func()) {
	done := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(done) }:
	case <-r.stopped:
		return
	}
	select {
	case <-done:
	case <-r.stopped:
	}
}

// NewDocument creates a fresh document owned by this repo and schedules
// its initial storage write (spec §4.3).
func (r *Repo) NewDocument() core.DocumentID {
	var id core.DocumentID
	r.exec(func() {
		id = r.reg.NewDocument(r.selfID)
	})
	return id
}

// Set writes key=value into docID's document, validating against any
// schema registered for key, and wakes the scheduler to advertise the
// change to every connected peer.
func (r *Repo) Set(docID core.DocumentID, key string, value []byte) error {
	if err := r.reg.Validate(key, value); err != nil {
		return err
	}
	var outerErr error
	r.exec(func() {
		outerErr = r.reg.WithDocMut(docID, registry.ChangeUpdated, func(d *doc.Document) error {
			d.Set(key, value)
			return nil
		})
	})
	return outerErr
}

// Delete tombstones key in docID's document.
func (r *Repo) Delete(docID core.DocumentID, key string) error {
	var outerErr error
	r.exec(func() {
		outerErr = r.reg.WithDocMut(docID, registry.ChangeUpdated, func(d *doc.Document) error {
			d.Delete(key)
			return nil
		})
	})
	return outerErr
}

// Get reads key from docID's document.
func (r *Repo) Get(docID core.DocumentID, key string) ([]byte, bool, error) {
	var value []byte
	var ok bool
	err := r.reg.WithDocument(docID, func(d *doc.Document) {
		value, ok = d.Get(key)
	})
	return value, ok, err
}

// RegisterValidator installs a content validator for key, consulted by
// Set before a write is committed (spec §4.3's added validation gate).
func (r *Repo) RegisterValidator(key string, v registry.Validator) {
	r.reg.RegisterValidator(key, v)
}

// Has reports whether docID is known locally, regardless of readiness.
func (r *Repo) Has(docID core.DocumentID) bool { return r.reg.Has(docID) }

// IsReady reports whether docID is present and "ready" per the CRDT
// library's predicate (spec §4.5).
func (r *Repo) IsReady(docID core.DocumentID) bool {
	if !r.reg.Has(docID) {
		return false
	}
	ready := false
	_ = r.reg.WithDocument(docID, func(d *doc.Document) { ready = d.IsReady() })
	return ready
}

// Documents lists every document id this repo currently knows.
func (r *Repo) Documents() []core.DocumentID { return r.reg.Documents() }

// Keys lists every live (non-deleted) key in docID's document.
func (r *Repo) Keys(docID core.DocumentID) ([]string, error) {
	var keys []string
	err := r.reg.WithDocument(docID, func(d *doc.Document) { keys = d.Keys() })
	return keys, err
}

// Registry exposes the underlying document registry so collaborators
// that live outside the event loop — a full-text index follower, a
// metrics exporter — can subscribe to change notifications via
// Registry().Observe() without the core needing to know they exist.
func (r *Repo) Registry() *registry.Registry { return r.reg }

// RequestDocument resolves once docID is locally present and ready,
// because it already was, because it was loaded from storage, or
// because some peer supplied it (spec §4.5). It returns ErrNotFound if
// every peer asked reports absence with no further candidates, and
// whatever ctx.Err() reports on cancellation/timeout.
func (r *Repo) RequestDocument(ctx context.Context, docID core.DocumentID) error {
	if r.IsReady(docID) {
		return nil
	}
	r.exec(func() { r.beginRequest(docID) })

	err := r.tracker.Await(ctx, docID)
	if err == reqtracker.ErrClosed {
		return ErrCancelled
	}
	if err != nil {
		return err
	}
	if r.takeNotFoundFlag(docID) {
		return ErrNotFound
	}
	return nil
}

// takeNotFoundFlag reports and clears whether docID was resolved because
// every candidate peer reported absence, as opposed to being resolved
// because the document actually became ready (spec §4.5 step 3).
func (r *Repo) takeNotFoundFlag(docID core.DocumentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notFound[docID] {
		delete(r.notFound, docID)
		return true
	}
	return false
}

// beginRequest runs on the loop goroutine: it records docID as wanted
// and asks every currently connected peer for it. Called again whenever
// a new peer connects while a request for docID is outstanding; peers
// already asked are not asked again.
func (r *Repo) beginRequest(docID core.DocumentID) {
	r.mu.Lock()
	st, ok := r.requests[docID]
	if !ok {
		st = &requestState{candidates: make(map[core.PeerID]bool), absent: make(map[core.PeerID]bool)}
		r.requests[docID] = st
	}
	peers := make(map[core.PeerID]*peer.Channel, len(r.peers))
	for id, ch := range r.peers {
		peers[id] = ch
	}
	r.mu.Unlock()

	for peerID, ch := range peers {
		r.table.Open(docID, peerID)
		r.mu.Lock()
		asked := st.candidates[peerID]
		if !asked {
			st.candidates[peerID] = true
		}
		r.mu.Unlock()
		if !asked {
			ch.TrySend(*wire.Request(r.selfID, peerID, docID).Repo)
		}
	}
}

// handlePeerInbound processes one message or terminal event from an
// installed peer (spec §4.4 steps 2-3, §4.5 step 3).
func (r *Repo) handlePeerInbound(in peerInbound) {
	if in.closed {
		r.mu.Lock()
		delete(r.peers, in.from)
		r.mu.Unlock()
		r.table.Close(in.from)
		if in.err != nil {
			r.logger.Printf("repo: peer %s disconnected: %v", in.from, in.err)
		}
		return
	}

	msg := in.msg
	if msg.To != r.selfID {
		r.logger.Printf("repo: dropping sync message addressed to %s, not me", msg.To)
		return
	}

	if len(msg.Payload) == 0 {
		r.handleEmptySync(in.from, msg.Document)
		return
	}

	if err := r.table.Receive(msg.Document, in.from, msg.Payload); err != nil {
		r.logger.Printf("repo: applying sync from %s for %s: %v", in.from, msg.Document, err)
		return
	}
	r.clearRequest(msg.Document)
	r.settle(msg.Document)
}

// handleEmptySync disambiguates spec §4.5's overloaded empty-Sync
// message: if we already hold the document, the sender is asking for it
// and we resend our full state; otherwise, if we ourselves have an
// outstanding request for the document with the sender as a candidate,
// this is that candidate reporting absence; failing both, it is a peer
// asking us for something neither of us has, and we answer in kind.
func (r *Repo) handleEmptySync(from core.PeerID, docID core.DocumentID) {
	if r.reg.Has(docID) {
		r.table.Open(docID, from) // force a full resend regardless of prior watermark
		r.generateTo(docID, from)
		return
	}

	r.mu.Lock()
	st, requesting := r.requests[docID]
	isCandidate := requesting && st.candidates[from]
	exhausted := false
	if isCandidate {
		st.absent[from] = true
		exhausted = len(st.candidates) > 0
		for p := range st.candidates {
			if !st.absent[p] {
				exhausted = false
				break
			}
		}
		if exhausted {
			delete(r.requests, docID)
			r.notFound[docID] = true
		}
	}
	r.mu.Unlock()

	if isCandidate {
		if exhausted {
			r.tracker.Resolve(docID)
		}
		return
	}

	r.mu.Lock()
	ch, ok := r.peers[from]
	r.mu.Unlock()
	if ok {
		ch.TrySend(*wire.Request(r.selfID, from, docID).Repo)
	}
}

func (r *Repo) clearRequest(docID core.DocumentID) {
	r.mu.Lock()
	delete(r.requests, docID)
	r.mu.Unlock()
}

// settle is the shared "a document's local state just changed" handler,
// reached either from the registry's change-bus forwarder (local Set or
// Delete, or a freshly created/loaded document) or directly after
// integrating an inbound sync delta. It advances sync sessions,
// fans the change out to every connected peer, persists a snapshot, and
// resolves any request_document future this change satisfies.
func (r *Repo) settle(docID core.DocumentID) {
	r.table.NotifyLocalChange(docID)

	r.mu.Lock()
	peers := make([]core.PeerID, 0, len(r.peers))
	for id := range r.peers {
		peers = append(peers, id)
	}
	r.mu.Unlock()
	for _, peerID := range peers {
		r.generateTo(docID, peerID)
	}

	if r.IsReady(docID) {
		r.clearRequest(docID)
		r.tracker.Resolve(docID)
	}

	r.flush(docID)
}

// generateTo asks the sync table for the next outbound delta for
// (docID, peerID) and, if there is one, enqueues it on that peer's
// outbound queue without blocking the loop. A full queue means the loop
// skips this turn's send rather than deadlocking, and resets the session
// so that the next generate for this pair resends the full state instead
// of losing the skipped delta.
func (r *Repo) generateTo(docID core.DocumentID, peerID core.PeerID) {
	r.mu.Lock()
	ch, ok := r.peers[peerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	msg, ok, err := r.table.Generate(docID, peerID, r.selfID)
	if err != nil {
		r.logger.Printf("repo: generating sync for %s/%s: %v", docID, peerID, err)
		return
	}
	if !ok {
		return
	}
	if !ch.TrySend(msg) {
		r.table.Open(docID, peerID)
		r.logger.Printf("repo: outbound queue full for peer %s, deferring %s", peerID, docID)
	}
}

// flush schedules an asynchronous storage write of docID's current
// snapshot. Storage is a durability optimization, not the source of
// truth (spec §4.6's storage bridge), so a failure here is logged and
// otherwise swallowed: the repo keeps serving the in-memory state.
func (r *Repo) flush(docID core.DocumentID) {
	if r.store == nil {
		return
	}
	var state doc.State
	if err := r.reg.WithDocument(docID, func(d *doc.Document) { state = d.State() }); err != nil {
		return
	}
	data, err := state.Marshal()
	if err != nil {
		r.logger.Printf("repo: marshal snapshot for %s: %v", docID, err)
		return
	}
	r.flushes.Add(1)
	go func() {
		defer r.flushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.Put(ctx, storage.ChunkKey{Document: docID, Tag: snapshotTag}, data); err != nil {
			r.logger.Printf("repo: storage put for %s: %v", docID, err)
		}
	}()
}

// Load hydrates docID from storage if it isn't already known, returning
// whether it was found (spec §4.3's load operation).
func (r *Repo) Load(ctx context.Context, docID core.DocumentID) (bool, error) {
	if r.reg.Has(docID) {
		return true, nil
	}
	data, err := r.store.Get(ctx, storage.ChunkKey{Document: docID, Tag: snapshotTag})
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repo: load %s: %w", docID, err)
	}
	state, err := doc.UnmarshalState(data)
	if err != nil {
		return false, fmt.Errorf("repo: decode snapshot for %s: %w", docID, err)
	}
	var loaded bool
	r.exec(func() {
		loaded = r.reg.Load(docID, state)
	})
	if loaded {
		select {
		case r.wake <- docID:
		case <-r.stopped:
		}
	}
	return true, nil
}

// InstallPeer runs the handshake over t in the given direction, and on
// success wraps it as a peer channel and installs it on the loop (spec
// §4.1, §4.2). It supersedes and closes any existing channel for the
// same remote id (spec §3's Peer invariant).
func (r *Repo) InstallPeer(t transport.Transport, direction transport.Direction) (core.PeerID, error) {
	result, err := handshake.Run(t, direction, r.selfID)
	if err != nil {
		t.Close()
		return core.PeerID{}, err
	}
	ch := peer.New(t, result.RemoteID, result.Selected)
	r.exec(func() { r.install(ch) })
	return result.RemoteID, nil
}

// install runs on the loop goroutine: it supersedes any prior channel
// for the same remote id, opens a fresh sync session for every document
// this repo currently knows, adds the new peer as a candidate for every
// outstanding request_document call, and starts the peer's inbound
// forwarder.
func (r *Repo) install(ch *peer.Channel) {
	r.mu.Lock()
	if old, ok := r.peers[ch.RemoteID]; ok {
		delete(r.peers, ch.RemoteID)
		r.mu.Unlock()
		old.Close()
		r.mu.Lock()
	}
	r.peers[ch.RemoteID] = ch
	r.mu.Unlock()

	for _, docID := range r.reg.Documents() {
		r.table.Open(docID, ch.RemoteID)
		r.generateTo(docID, ch.RemoteID)
	}
	r.refreshOutstandingRequests()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for in := range ch.Inbound() {
			ev := peerInbound{from: in.From, msg: in.Msg, err: in.Err, closed: in.Err != nil}
			select {
			case r.peerIn <- ev:
			case <-r.stopped:
				return
			}
		}
		select {
		case r.peerIn <- peerInbound{from: ch.RemoteID, closed: true}:
		case <-r.stopped:
		}
	}()
}

// refreshOutstandingRequests re-runs beginRequest for every
// request_document call still waiting, so a newly installed peer is
// asked too (spec §4.5: "new peers that connect while the request is
// outstanding are automatically added as candidates").
func (r *Repo) refreshOutstandingRequests() {
	r.mu.Lock()
	docIDs := make([]core.DocumentID, 0, len(r.requests))
	for docID := range r.requests {
		docIDs = append(docIDs, docID)
	}
	r.mu.Unlock()
	for _, docID := range docIDs {
		r.beginRequest(docID)
	}
}

// Stop closes every peer channel, resolves every outstanding request
// with ErrCancelled, waits for snapshot writes already in flight, closes
// storage and returns once the loop has exited. Outbound queues are not
// drained first: messages still queued for a peer when its channel
// closes may be lost.
func (r *Repo) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopped)
	})
	r.wg.Wait()
}
