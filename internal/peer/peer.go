// Package peer wraps a handshaken transport.Transport as a peer channel
// (spec §4.2): inbound traffic is filtered down to Repo messages only,
// and outbound traffic accepts only Sync payloads, silently dropping
// everything else exactly as spec §9's Open Question resolution
// dictates. A peer channel is the only thing the event loop and the sync
// table ever talk to once handshake completes.
package peer

import (
	gosync "sync"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/transport"
	"github.com/weftsync/weft/internal/wire"
)

// outboundQueueSize bounds the per-peer outbound backlog. Producers
// enqueue through TrySend, which never blocks: when the queue is full it
// returns false and the message is not queued, so the event loop never
// makes a bare channel send that could deadlock it. The loop does not
// wait for the queue to drain.
const outboundQueueSize = 256

// Inbound is a decoded Repo message paired with the peer it arrived on,
// or a terminal error tearing the channel down.
type Inbound struct {
	From core.PeerID
	Msg  wire.RepoMessage
	Err  error
}

// Channel is a live peer connection, already past handshake.
type Channel struct {
	RemoteID core.PeerID
	Selected core.ProtocolVersion

	t       transport.Transport
	inbound chan Inbound
	outbox  chan wire.RepoMessage

	mu        gosync.Mutex
	closed    bool
	closeOnce gosync.Once
	done      chan struct{}
}

// New wraps t as a peer Channel for remoteID, and starts its pump
// goroutines. t must already be past handshake.
func New(t transport.Transport, remoteID core.PeerID, selected core.ProtocolVersion) *Channel {
	c := &Channel{
		RemoteID: remoteID,
		Selected: selected,
		t:        t,
		inbound:  make(chan Inbound, outboundQueueSize),
		outbox:   make(chan wire.RepoMessage, outboundQueueSize),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *Channel) readLoop() {
	defer close(c.inbound)
	for in := range c.t.Inbound() {
		if in.Err != nil {
			c.inbound <- Inbound{From: c.RemoteID, Err: in.Err}
			return
		}
		if in.Message.Kind != wire.KindRepo || in.Message.Repo == nil {
			c.inbound <- Inbound{From: c.RemoteID, Err: &ProtocolError{Reason: "non-repo message on peer channel"}}
			return
		}
		c.inbound <- Inbound{From: c.RemoteID, Msg: *in.Message.Repo}
	}
}

func (c *Channel) writeLoop() {
	for msg := range c.outbox {
		if msg.Tag != wire.TagSync {
			// Only Sync payloads cross a peer channel's outbound side;
			// anything else is dropped here rather than upstream, so
			// producers never need to know this restriction exists.
			continue
		}
		select {
		case c.t.Outbound() <- wire.Message{Kind: wire.KindRepo, Sender: msg.From, Repo: &msg}:
		case <-c.done:
			return
		}
	}
}

// Inbound exposes the filtered Repo-message stream. The channel closes
// when the underlying transport closes or a ProtocolError tears it down.
func (c *Channel) Inbound() <-chan Inbound { return c.inbound }

// TrySend enqueues a Sync message without blocking the caller; it
// returns false if the channel is closed or the outbound queue is full,
// in which case the message is not queued and regenerating it later is
// up to the caller.
func (c *Channel) TrySend(msg wire.RepoMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		return false
	}
}

// Close tears the channel down and releases its goroutines.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.outbox)
		c.mu.Unlock()
		close(c.done)
	})
	return c.t.Close()
}

// ProtocolError is returned on the Inbound stream when the remote side
// violates the post-handshake protocol.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "peer: protocol error: " + e.Reason }
