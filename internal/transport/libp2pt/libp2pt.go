// Package libp2pt adapts a libp2p stream into a transport.Transport,
// framing wire.Message values exactly as internal/wire.Encode/Decode
// describe. It is the concrete, real-network collaborator the core binds
// to through the transport.Transport capability pair; the protocol
// negotiation and message semantics themselves live entirely in
// internal/handshake and internal/peer, not here.
package libp2pt

import (
	"fmt"
	gosync "sync"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/weftsync/weft/internal/transport"
	"github.com/weftsync/weft/internal/wire"
)

// ProtocolID is the libp2p stream protocol this adapter speaks.
const ProtocolID = "/weft/sync/1.0.0"

// New wraps an already-open libp2p stream (either accepted via a
// StreamHandler or opened with host.NewStream) as a transport.Transport.
func New(stream network.Stream) transport.Transport {
	t := &streamTransport{
		stream:  stream,
		outbox:  make(chan wire.Message, 64),
		inbound: make(chan transport.InboundMessage, 64),
	}
	go t.readLoop()
	go t.writeLoop()
	return t
}

type streamTransport struct {
	stream    network.Stream
	outbox    chan wire.Message
	inbound   chan transport.InboundMessage
	closeOnce gosync.Once
}

func (t *streamTransport) readLoop() {
	defer close(t.inbound)
	for {
		msg, err := wire.Decode(t.stream)
		if err != nil {
			t.inbound <- transport.InboundMessage{Err: fmt.Errorf("libp2pt: %w", err)}
			return
		}
		t.inbound <- transport.InboundMessage{Message: msg}
	}
}

func (t *streamTransport) writeLoop() {
	for msg := range t.outbox {
		if err := wire.Encode(t.stream, msg); err != nil {
			// The read side will observe the resulting stream reset and
			// report a terminal error; nothing further to do here.
			return
		}
	}
	_ = t.stream.CloseWrite()
}

func (t *streamTransport) Inbound() <-chan transport.InboundMessage { return t.inbound }
func (t *streamTransport) Outbound() chan<- wire.Message            { return t.outbox }

func (t *streamTransport) Close() error {
	t.closeOnce.Do(func() { close(t.outbox) })
	return t.stream.Reset()
}
