// Package handshake negotiates protocol version and learns the remote
// repo identity on a newly opened channel, before it is trusted as a peer
// channel (spec §4.1).
package handshake

import (
	"errors"
	"fmt"

	"github.com/weftsync/weft/internal/core"
	"github.com/weftsync/weft/internal/transport"
	"github.com/weftsync/weft/internal/wire"
)

// Kind enumerates handshake failure modes; all are terminal for the
// channel they occurred on.
type Kind int

const (
	// ErrUnexpectedMessage means a variant other than the one the
	// protocol step requires was received.
	ErrUnexpectedMessage Kind = iota + 1
	// ErrIncompatible means Join/Peer advertised no overlapping
	// ProtocolVersion.
	ErrIncompatible
	// ErrTransport means the underlying channel failed.
	ErrTransport
	// ErrClosed means the channel ended before handshake completed.
	ErrClosed
)

func (k Kind) String() string {
	switch k {
	case ErrUnexpectedMessage:
		return "unexpected message"
	case ErrIncompatible:
		return "incompatible protocol versions"
	case ErrTransport:
		return "transport error"
	case ErrClosed:
		return "channel closed"
	default:
		return "unknown handshake error"
	}
}

// Error wraps a Kind with context. Callers that need to branch on failure
// mode should use errors.As.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("handshake: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, err error) error { return &Error{Kind: kind, Err: err} }

// Result is what a successful handshake learns about the remote side.
type Result struct {
	RemoteID core.RepoID
	Selected core.ProtocolVersion
}

// supportedVersions is the ordered (lowest to highest) set of protocol
// versions this repo can speak. Responders pick the highest overlap.
var supportedVersions = []core.ProtocolVersion{core.V1}

// Run performs the handshake over t in the given direction, on behalf of
// local repo selfID. It sends/receives exactly the messages described in
// spec §4.1 and returns as soon as the exchange is complete; it never
// reads or writes anything else.
func Run(t transport.Transport, direction transport.Direction, selfID core.RepoID) (Result, error) {
	switch direction {
	case transport.Outgoing:
		return runOutgoing(t, selfID)
	case transport.Incoming:
		return runIncoming(t, selfID)
	default:
		return Result{}, fmt.Errorf("handshake: unknown direction %d", direction)
	}
}

func runOutgoing(t transport.Transport, selfID core.RepoID) (Result, error) {
	if err := send(t, wire.Join(selfID, supportedVersions)); err != nil {
		return Result{}, err
	}

	msg, err := recv(t)
	if err != nil {
		return Result{}, err
	}
	if msg.Kind != wire.KindPeer {
		return Result{}, fail(ErrUnexpectedMessage, fmt.Errorf("expected Peer, got kind %d", msg.Kind))
	}
	if !contains(supportedVersions, msg.Selected) {
		return Result{}, fail(ErrIncompatible, fmt.Errorf("responder selected unsupported version %v", msg.Selected))
	}
	return Result{RemoteID: msg.Sender, Selected: msg.Selected}, nil
}

func runIncoming(t transport.Transport, selfID core.RepoID) (Result, error) {
	msg, err := recv(t)
	if err != nil {
		return Result{}, err
	}
	if msg.Kind != wire.KindJoin {
		return Result{}, fail(ErrUnexpectedMessage, fmt.Errorf("expected Join, got kind %d", msg.Kind))
	}

	selected, ok := highestOverlap(msg.Supported, supportedVersions)
	if !ok {
		return Result{}, fail(ErrIncompatible, errors.New("no overlapping protocol version"))
	}

	if err := send(t, wire.Peer(selfID, selected)); err != nil {
		return Result{}, err
	}
	return Result{RemoteID: msg.Sender, Selected: selected}, nil
}

func send(t transport.Transport, msg wire.Message) error {
	t.Outbound() <- msg
	return nil
}

func recv(t transport.Transport) (wire.Message, error) {
	in, ok := <-t.Inbound()
	if !ok {
		return wire.Message{}, fail(ErrClosed, errors.New("inbound stream ended before handshake completed"))
	}
	if in.Err != nil {
		return wire.Message{}, fail(ErrTransport, in.Err)
	}
	return in.Message, nil
}

func contains(versions []core.ProtocolVersion, v core.ProtocolVersion) bool {
	for _, s := range versions {
		if s == v {
			return true
		}
	}
	return false
}

// highestOverlap picks the highest version present in both sets,
// deterministically, by enum order (spec §4.1).
func highestOverlap(remote, local []core.ProtocolVersion) (core.ProtocolVersion, bool) {
	localSet := make(map[core.ProtocolVersion]bool, len(local))
	for _, v := range local {
		localSet[v] = true
	}
	var best core.ProtocolVersion
	found := false
	for _, v := range remote {
		if localSet[v] && (!found || v > best) {
			best, found = v, true
		}
	}
	return best, found
}
