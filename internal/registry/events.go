package registry

import (
	"sync"
	"time"

	"github.com/weftsync/weft/internal/core"
)

// ChangeType is the kind of change a document underwent.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is a notification that a document changed, published by
// NewDocument, WithDocMut (local mutations and sync deltas applied to a
// known document) and Delete. Load, which hydrates a document from
// storage or from its first sync delta, publishes nothing.
type Change struct {
	Type      ChangeType
	Document  core.DocumentID
	Timestamp time.Time
}

// Subscription is an active registry change subscription.
type Subscription interface {
	Changes() <-chan Change
	Close()
}

type subscription struct {
	ch     chan Change
	mu     sync.Mutex
	closed bool
}

func newSubscription(bufferSize int) *subscription {
	return &subscription{ch: make(chan Change, bufferSize)}
}

func (s *subscription) Changes() <-chan Change { return s.ch }

func (s *subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *subscription) send(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- c:
	default:
		// Buffer full; observers are expected to keep up or re-read
		// state from WithDocument instead of relying on every change.
	}
}

// eventBus fans a Change out to every live subscriber, non-blocking.
type eventBus struct {
	mu   sync.RWMutex
	subs []*subscription
}

func (b *eventBus) subscribe() Subscription {
	s := newSubscription(128)
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

func (b *eventBus) publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.send(c)
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.Close()
	}
	b.subs = nil
}
