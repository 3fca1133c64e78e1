package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/doc"
	"github.com/weftsync/weft/internal/transport"
)

// connect wires a and b together over an in-process transport.Pair,
// running both sides of the handshake concurrently since each blocks
// until the other replies.
func connect(t *testing.T, a, b *Repo) {
	t.Helper()
	ta, tb := transport.NewPair(64)

	type result struct {
		id  core.PeerID
		err error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)
	go func() {
		id, err := a.InstallPeer(ta, transport.Outgoing)
		resA <- result{id, err}
	}()
	go func() {
		id, err := b.InstallPeer(tb, transport.Incoming)
		resB <- result{id, err}
	}()
	ra, rb := <-resA, <-resB
	if ra.err != nil {
		t.Fatalf("a.InstallPeer: %v", ra.err)
	}
	if rb.err != nil {
		t.Fatalf("b.InstallPeer: %v", rb.err)
	}
	if ra.id != b.ID() {
		t.Fatalf("a learned remote id %v, want %v", ra.id, b.ID())
	}
	if rb.id != a.ID() {
		t.Fatalf("b learned remote id %v, want %v", rb.id, a.ID())
	}
}

// Scenario 1: startup and stop (spec §8).
func TestStartupAndStop(t *testing.T) {
	r := New(Options{})
	r.Run()

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

// Scenario 3: request before connect (spec §8).
func TestRequestDocumentBeforeConnect(t *testing.T) {
	a := New(Options{})
	b := New(Options{})
	a.Run()
	b.Run()
	defer a.Stop()
	defer b.Stop()

	docID := a.NewDocument()
	if err := a.Set(docID, "title", []byte("hello")); err != nil {
		t.Fatalf("a.Set: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errc <- b.RequestDocument(ctx, docID)
	}()

	// Give the request a moment to register on b's loop before any peer
	// exists for it to ask.
	time.Sleep(20 * time.Millisecond)
	connect(t, a, b)

	if err := <-errc; err != nil {
		t.Fatalf("RequestDocument: %v", err)
	}
	value, ok, err := b.Get(docID, "title")
	if err != nil {
		t.Fatalf("b.Get: %v", err)
	}
	if !ok || string(value) != "hello" {
		t.Fatalf("expected title=hello on b, got %q ok=%v", value, ok)
	}
}

// Scenario 4: request after connect (spec §8).
func TestRequestDocumentAfterConnect(t *testing.T) {
	a := New(Options{})
	b := New(Options{})
	a.Run()
	b.Run()
	defer a.Stop()
	defer b.Stop()

	docID := a.NewDocument()
	if err := a.Set(docID, "title", []byte("hello")); err != nil {
		t.Fatalf("a.Set: %v", err)
	}

	connect(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.RequestDocument(ctx, docID); err != nil {
		t.Fatalf("RequestDocument: %v", err)
	}
	value, ok, err := b.Get(docID, "title")
	if err != nil {
		t.Fatalf("b.Get: %v", err)
	}
	if !ok || string(value) != "hello" {
		t.Fatalf("expected title=hello on b, got %q ok=%v", value, ok)
	}
}

// TestFullyConnectedMesh is scenario 2 (spec §8): every repo creates one
// document keyed "repo_id", every repo connects to every other repo, and
// every repo requests every document it doesn't own. The full spec
// describes 9 nodes (72 cross-requests); meshNodes is kept small here to
// bound CI time, per SPEC_FULL §8 — raise it back to 9 to run the
// original scale.
const meshNodes = 4

func TestFullyConnectedMesh(t *testing.T) {
	repos := make([]*Repo, meshNodes)
	docs := make([]core.DocumentID, meshNodes)

	for i := range repos {
		repos[i] = New(Options{})
		repos[i].Run()
	}
	defer func() {
		for _, r := range repos {
			r.Stop()
		}
	}()

	for i, r := range repos {
		docs[i] = r.NewDocument()
		if err := r.Set(docs[i], "repo_id", []byte(r.ID().String())); err != nil {
			t.Fatalf("repo %d: Set: %v", i, err)
		}
	}

	for i := range repos {
		for j := i + 1; j < len(repos); j++ {
			connect(t, repos[i], repos[j])
		}
	}
	// Every repo also opens a peer channel to itself. The handshake
	// completes normally and the repo installs the channel like any other
	// peer, so sync messages it sends on this leg come back to the same
	// repo, where merging a document with its own state changes nothing.
	for i := range repos {
		connect(t, repos[i], repos[i])
	}

	type outcome struct {
		repo, owner int
		err         error
	}
	results := make(chan outcome, meshNodes*(meshNodes-1))
	for i := range repos {
		for j := range repos {
			if i == j {
				continue
			}
			go func(i, j int) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				err := repos[i].RequestDocument(ctx, docs[j])
				results <- outcome{i, j, err}
			}(i, j)
		}
	}

	for n := 0; n < meshNodes*(meshNodes-1); n++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("repo %d requesting doc owned by %d: %v", res.repo, res.owner, res.err)
		}
		value, ok, err := repos[res.repo].Get(docs[res.owner], "repo_id")
		if err != nil {
			t.Fatalf("repo %d: Get(doc owned by %d): %v", res.repo, res.owner, err)
		}
		if !ok {
			t.Fatalf("repo %d: doc owned by %d missing repo_id", res.repo, res.owner)
		}
		want := repos[res.owner].ID().String()
		if string(value) != want {
			t.Fatalf("repo %d: doc owned by %d: got repo_id %q, want %q", res.repo, res.owner, value, want)
		}
	}
}

// TestAlreadyAppliedPayloadIsNoOp exercises the idempotence invariant
// from spec §8: replaying an already-integrated sync delta leaves
// document state bit-identical.
func TestAlreadyAppliedPayloadIsNoOp(t *testing.T) {
	a := New(Options{})
	b := New(Options{})
	a.Run()
	b.Run()
	defer a.Stop()
	defer b.Stop()

	docID := a.NewDocument()
	for i := 0; i < 3; i++ {
		if err := a.Set(docID, fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	connect(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.RequestDocument(ctx, docID); err != nil {
		t.Fatalf("RequestDocument: %v", err)
	}

	before, err := b.Keys(docID)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}

	// Replay the same full delta a already sent; re-integrating it must
	// be a no-op at the CRDT layer.
	var payload []byte
	var marshalErr error
	if err := a.reg.WithDocument(docID, func(d *doc.Document) {
		payload, marshalErr = d.DeltaSince(0).Marshal()
	}); err != nil {
		t.Fatalf("snapshotting a's document: %v", err)
	}
	if marshalErr != nil {
		t.Fatalf("marshaling delta: %v", marshalErr)
	}
	if err := b.table.Receive(docID, a.ID(), payload); err != nil {
		t.Fatalf("replaying delta: %v", err)
	}

	after, err := b.Keys(docID)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("key set changed after replay: before=%v after=%v", before, after)
	}
	for i, k := range before {
		if after[i] != k {
			t.Fatalf("key set changed after replay: before=%v after=%v", before, after)
		}
	}
}
