package transport

import (
	gosync "sync"

	"github.com/weftsync/weft/internal/wire"
)

// NewPair returns two in-process Transports wired to each other: messages
// sent on a's Outbound arrive on b's Inbound and vice versa. Used by tests
// and by the in-memory mesh scenario where no real socket is needed.
func NewPair(bufSize int) (a, b Transport) {
	aToB := make(chan wire.Message, bufSize)
	bToA := make(chan wire.Message, bufSize)

	ta := &memTransport{out: aToB, in: bToA, inbound: make(chan InboundMessage, bufSize)}
	tb := &memTransport{out: bToA, in: aToB, inbound: make(chan InboundMessage, bufSize)}

	go ta.pump()
	go tb.pump()

	return ta, tb
}

// memTransport relays an outbound channel into a partner's raw channel,
// and its own raw channel into a typed Inbound stream.
type memTransport struct {
	out     chan wire.Message // written by Outbound() callers, drained by pump
	in      chan wire.Message // the partner's outbound channel
	inbound chan InboundMessage

	closeOnce gosync.Once
}

func (t *memTransport) pump() {
	for msg := range t.in {
		t.inbound <- InboundMessage{Message: msg}
	}
	close(t.inbound)
}

func (t *memTransport) Inbound() <-chan InboundMessage { return t.inbound }
func (t *memTransport) Outbound() chan<- wire.Message  { return t.out }

func (t *memTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.out)
	})
	return nil
}
