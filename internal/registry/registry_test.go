package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/doc"
)

func TestNewDocumentIsImmediatelyReadable(t *testing.T) {
	r := New(core.NewRepoID())
	origin := core.NewRepoID()
	id := r.NewDocument(origin)

	if !r.Has(id) {
		t.Fatal("expected newly created document to be known")
	}

	var got []string
	err := r.WithDocument(id, func(d *doc.Document) { got = d.Keys() })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty document, got keys %v", got)
	}
}

func TestWithDocMutPublishesChange(t *testing.T) {
	r := New(core.NewRepoID())
	sub := r.Observe()
	defer sub.Close()

	id := r.NewDocument(core.NewRepoID())
	// Drain the creation event.
	<-sub.Changes()

	err := r.WithDocMut(id, ChangeUpdated, func(d *doc.Document) error {
		d.Set("title", []byte("hello"))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case c := <-sub.Changes():
		if c.Type != ChangeUpdated || c.Document != id {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestUnknownDocumentOperationsFail(t *testing.T) {
	r := New(core.NewRepoID())
	id := core.NewDocumentID(core.NewRepoID())

	if err := r.WithDocument(id, func(*doc.Document) {}); !errors.As(err, new(ErrUnknownDocument)) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}
	if err := r.WithDocMut(id, ChangeUpdated, func(*doc.Document) error { return nil }); !errors.As(err, new(ErrUnknownDocument)) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}
}

func TestValidatorIsConsultedOnDemand(t *testing.T) {
	r := New(core.NewRepoID())
	r.RegisterValidator("title", func(key string, value []byte) error {
		if len(value) == 0 {
			return errors.New("title must not be empty")
		}
		return nil
	})

	if err := r.Validate("title", nil); err == nil {
		t.Fatal("expected empty title to fail validation")
	}
	if err := r.Validate("title", []byte("ok")); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if err := r.Validate("unregistered-key", nil); err != nil {
		t.Fatalf("expected no validator to mean pass, got %v", err)
	}
}

func TestLoadIsNoOpWhenAlreadyKnown(t *testing.T) {
	r := New(core.NewRepoID())
	id := r.NewDocument(core.NewRepoID())

	if r.Load(id, doc.State{}) {
		t.Fatal("expected Load to report false for an already-known document")
	}
}
