// Package wire defines the framed message variants exchanged on a channel
// between two repos, and their encode/decode. The core never interprets the
// bytes of a Sync payload — that opacity is deliberate (spec §3).
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/weftsync/weft/internal/core"
)

// Kind tags the variant carried by a Message.
type Kind uint8

const (
	// KindJoin announces a repo identity and the protocol versions it
	// supports. Sent once, by the outgoing side of a new channel.
	KindJoin Kind = iota + 1
	// KindPeer answers a Join with the selected protocol version.
	KindPeer
	// KindRepo carries an application-layer RepoMessage.
	KindRepo
	// kindLeave is the ephemeral, internal-only Leave variant; it is
	// never sent on the wire and Encode rejects it. The peer channel
	// does not emit it: a close is signalled by closing the channel's
	// Inbound stream.
	kindLeave
)

// Message is the wire envelope. Exactly one of the payload fields is
// populated, selected by Kind.
type Message struct {
	Kind Kind `json:"kind"`

	// Join / Peer fields.
	Sender    core.RepoID       `json:"sender,omitempty"`
	Supported []core.ProtocolVersion `json:"supported,omitempty"`
	Selected  core.ProtocolVersion   `json:"selected,omitempty"`

	// Repo field.
	Repo *RepoMessage `json:"repo,omitempty"`
}

// RepoMessage is the application-layer payload. Sync is the only case the
// core currently requires; other tags are reserved for forward
// compatibility and are silently dropped by the peer channel's outbound
// side (spec §4.2, §9).
type RepoMessage struct {
	Tag RepoMessageTag `json:"tag"`

	// Sync fields.
	From     core.RepoID     `json:"from,omitempty"`
	To       core.RepoID     `json:"to,omitempty"`
	Document core.DocumentID `json:"document,omitempty"`
	Payload  []byte          `json:"payload,omitempty"`
}

// RepoMessageTag identifies the RepoMessage variant.
type RepoMessageTag uint8

const (
	// TagSync carries an opaque CRDT sync payload for one document. A
	// nil/empty Payload is the "empty sync message" spec §4.5 uses to
	// both request a document from a peer and, in reply, to report that
	// the peer has nothing for it either — the scheduler tells the two
	// apart by whether it already holds the document (spec §4.2 keeps
	// the wire protocol to this single application-layer tag).
	TagSync RepoMessageTag = iota + 1
)

// Join constructs a Join message.
func Join(sender core.RepoID, supported []core.ProtocolVersion) Message {
	return Message{Kind: KindJoin, Sender: sender, Supported: supported}
}

// Peer constructs a Peer message.
func Peer(sender core.RepoID, selected core.ProtocolVersion) Message {
	return Message{Kind: KindPeer, Sender: sender, Selected: selected}
}

// Sync constructs a Repo(Sync{...}) message.
func Sync(from, to core.RepoID, document core.DocumentID, payload []byte) Message {
	return Message{Kind: KindRepo, Repo: &RepoMessage{
		Tag: TagSync, From: from, To: to, Document: document, Payload: payload,
	}}
}

// Request constructs the empty-Sync message spec §4.5 uses to ask to to
// begin negotiation on a document the sender doesn't have yet (or to
// tell a requester that the sender has nothing for it either).
func Request(from, to core.RepoID, document core.DocumentID) Message {
	return Message{Kind: KindRepo, Repo: &RepoMessage{
		Tag: TagSync, From: from, To: to, Document: document,
	}}
}

// maxMessageSize bounds a single frame; Encode and Decode refuse larger
// frames with an error rather than exhausting memory on a hostile or
// buggy peer.
const maxMessageSize = 16 * 1024 * 1024

// Encode serialises m as length-prefixed JSON: a 4-byte big-endian length
// followed by the JSON body.
func Encode(w io.Writer, m Message) error {
	if m.Kind == kindLeave {
		return fmt.Errorf("wire: Leave is internal-only and must not be encoded")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	if len(body) > maxMessageSize {
		return fmt.Errorf("wire: message too large: %d bytes", len(body))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed JSON frame from r.
func Decode(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err // includes io.EOF for a clean close
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxMessageSize {
		return Message{}, fmt.Errorf("wire: message too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("wire: read body: %w", err)
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	return m, nil
}
