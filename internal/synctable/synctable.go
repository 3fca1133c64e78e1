// Package synctable drives delta sync between this repo's documents and
// its connected peers (spec §4.4, "the engine's heart"): one SyncSession
// per (DocumentID, PeerID) pair, each progressing Fresh -> Syncing ->
// Idle, flipping back to Syncing whenever either side has new local
// changes or inbound deltas to fold in.
package synctable

import (
	"sync"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/doc"
	"github.com/weftsync/weft/internal/registry"
	"github.com/weftsync/weft/internal/wire"
)

// State is a sync session's place in its lifecycle.
type State int

const (
	// Fresh sessions have never exchanged a delta with their peer.
	Fresh State = iota
	// Syncing sessions have a delta outbound or just-applied and may
	// have more local changes to offer before going idle.
	Syncing
	// Idle sessions are caught up as of their last known peer clock;
	// they wake back to Syncing on local or remote activity.
	Idle
	// Closed sessions are no longer driven by the scheduler, because
	// their peer disconnected.
	Closed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Syncing:
		return "syncing"
	case Idle:
		return "idle"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// key identifies one sync session.
type key struct {
	Document core.DocumentID
	Peer     core.PeerID
}

// session is the mutable state of one (document, peer) sync pair.
type session struct {
	state State
	// sentUpTo is the local clock time this session has already
	// offered to its peer; the next generated delta starts here.
	sentUpTo uint64
	// receivedUpTo is the highest peer clock time folded into the
	// local document so far.
	receivedUpTo uint64
}

// Table tracks every active sync session for this repo instance.
type Table struct {
	mu       sync.Mutex
	sessions map[key]*session
	reg      *registry.Registry
}

// New creates an empty sync table bound to reg, the registry whose
// documents it will read deltas from and apply deltas into.
func New(reg *registry.Registry) *Table {
	return &Table{sessions: make(map[key]*session), reg: reg}
}

// Open creates (or resets) the session for (docID, peerID). The repo
// calls it for every known document when a peer channel comes up, when
// it asks a peer for a document, when a peer asks it for one, and after
// a send was skipped on a full queue. Creating a document while peers
// are connected does not open sessions for it.
func (t *Table) Open(docID core.DocumentID, peerID core.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[key{docID, peerID}] = &session{state: Fresh}
}

// Close marks every session for peerID as Closed, called when its peer
// channel disconnects. Sessions are left in the table (not deleted) so
// a reconnecting peer's diagnostics can see the last known state; Prune
// removes them explicitly.
func (t *Table) Close(peerID core.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, s := range t.sessions {
		if k.Peer == peerID {
			s.state = Closed
		}
	}
}

// Prune removes every Closed session belonging to peerID.
func (t *Table) Prune(peerID core.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, s := range t.sessions {
		if k.Peer == peerID && s.state == Closed {
			delete(t.sessions, k)
		}
	}
}

// NotifyLocalChange flips every non-Closed session for docID back to
// Syncing, so the scheduler offers the new local write to every peer
// that has this document open.
func (t *Table) NotifyLocalChange(docID core.DocumentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, s := range t.sessions {
		if k.Document == docID && s.state != Closed {
			s.state = Syncing
		}
	}
}

// PendingGenerate returns, once each, the ids of documents that have at
// least one Fresh or Syncing session. It does not check whether those
// documents have changes past what was already sent.
func (t *Table) PendingGenerate() []core.DocumentID {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[core.DocumentID]bool)
	var out []core.DocumentID
	for k, s := range t.sessions {
		if (s.state == Fresh || s.state == Syncing) && !seen[k.Document] {
			seen[k.Document] = true
			out = append(out, k.Document)
		}
	}
	return out
}

// Generate produces the next outbound Sync message for (docID, peerID),
// if the session has anything new to offer since it last sent. It
// returns ok=false when there is nothing to send right now.
func (t *Table) Generate(docID core.DocumentID, peerID core.PeerID, selfID core.RepoID) (wire.RepoMessage, bool, error) {
	t.mu.Lock()
	s, ok := t.sessions[key{docID, peerID}]
	t.mu.Unlock()
	if !ok || s.state == Closed {
		return wire.RepoMessage{}, false, nil
	}

	var payload []byte
	var currentClock uint64
	err := t.reg.WithDocument(docID, func(d *doc.Document) {
		currentClock = d.ClockTime()
		delta := d.DeltaSince(s.sentUpTo)
		if len(delta.Registers) == 0 {
			return
		}
		payload, _ = delta.Marshal()
	})
	if err != nil {
		return wire.RepoMessage{}, false, err
	}
	if payload == nil {
		t.mu.Lock()
		s.state = Idle
		t.mu.Unlock()
		return wire.RepoMessage{}, false, nil
	}

	t.mu.Lock()
	s.sentUpTo = currentClock
	t.mu.Unlock()

	return wire.RepoMessage{
		Tag:      wire.TagSync,
		From:     selfID,
		To:       peerID,
		Document: docID,
		Payload:  payload,
	}, true, nil
}

// Receive applies an inbound Sync payload from peerID to docID, loading
// the document fresh from the delta if it is not yet known locally
// (spec §4.4 step 3), and advances the session's receivedUpTo watermark.
func (t *Table) Receive(docID core.DocumentID, peerID core.PeerID, payload []byte) error {
	delta, err := doc.UnmarshalDelta(payload)
	if err != nil {
		return err
	}

	if !t.reg.Has(docID) {
		state := doc.State{Registers: delta.Registers, ClockTime: delta.ClockTime}
		t.reg.Load(docID, state)
	} else {
		err = t.reg.WithDocMut(docID, registry.ChangeUpdated, func(d *doc.Document) error {
			d.ApplyDelta(delta)
			return nil
		})
		if err != nil {
			return err
		}
	}

	t.mu.Lock()
	s, ok := t.sessions[key{docID, peerID}]
	if !ok {
		s = &session{}
		t.sessions[key{docID, peerID}] = s
	}
	if delta.ClockTime > s.receivedUpTo {
		s.receivedUpTo = delta.ClockTime
	}
	s.state = Syncing
	t.mu.Unlock()
	return nil
}

// StateOf reports a session's current state, for tests and diagnostics.
func (t *Table) StateOf(docID core.DocumentID, peerID core.PeerID) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key{docID, peerID}]
	if !ok {
		return Fresh, false
	}
	return s.state, true
}
