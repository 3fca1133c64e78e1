// Package transport defines the capability pair the core requires of any
// wire transport — a lazy inbound sequence of wire.Message and a sink that
// accepts them — and ships two concrete implementations: an in-process
// Pair used by tests and the in-memory mesh scenario, and a libp2p stream
// adapter for real networking (internal/transport/libp2pt).
package transport

import "github.com/weftsync/weft/internal/wire"

// Direction records which side of a handshake a channel plays.
type Direction int

const (
	// Incoming means the remote side spoke first (sent Join).
	Incoming Direction = iota
	// Outgoing means the local side speaks first.
	Outgoing
)

// Transport is the capability pair a raw channel must offer. Inbound
// closes when the channel ends, after at most one terminal error
// (possibly wrapping io.EOF; the in-process Pair closes without one);
// Outbound accepts messages to send and must be safe to
// write to from a single goroutine (the event loop never fans out writes
// to one Transport concurrently).
type Transport interface {
	Inbound() <-chan InboundMessage
	Outbound() chan<- wire.Message
	// Close tears down the underlying channel. Safe to call more than
	// once.
	Close() error
}

// InboundMessage carries either a decoded Message or a terminal error.
type InboundMessage struct {
	Message wire.Message
	Err     error
}
