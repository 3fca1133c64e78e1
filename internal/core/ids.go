// Package core provides the identifiers and logical clock shared by every
// component of the repo engine: RepoID, DocumentID and the Lamport clock
// used to order local mutations.
package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RepoID is the opaque, stable identity of a repo instance. Two repos are
// the same iff their RepoIDs are byte-equal.
type RepoID struct {
	id uuid.UUID
}

// NewRepoID allocates a fresh, random repo identity.
func NewRepoID() RepoID {
	return RepoID{id: uuid.New()}
}

// RepoIDFromString parses a previously serialised RepoID.
func RepoIDFromString(s string) (RepoID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RepoID{}, fmt.Errorf("invalid repo id %q: %w", s, err)
	}
	return RepoID{id: id}, nil
}

func (r RepoID) String() string { return r.id.String() }

// IsZero reports whether r is the zero value (never a valid repo identity).
func (r RepoID) IsZero() bool { return r.id == uuid.Nil }

func (r RepoID) MarshalText() ([]byte, error) { return []byte(r.id.String()), nil }

func (r *RepoID) UnmarshalText(text []byte) error {
	id, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	r.id = id
	return nil
}

// DocumentID globally identifies a document. It structurally includes the
// originating RepoID so RepoID() is recoverable without a registry lookup.
type DocumentID struct {
	Origin RepoID
	Local  uuid.UUID
}

// NewDocumentID allocates a fresh document id owned by origin.
func NewDocumentID(origin RepoID) DocumentID {
	return DocumentID{Origin: origin, Local: uuid.New()}
}

// DocumentIDFromString parses a previously serialised DocumentID.
func DocumentIDFromString(s string) (DocumentID, error) {
	var d DocumentID
	if err := d.UnmarshalText([]byte(s)); err != nil {
		return DocumentID{}, err
	}
	return d, nil
}

// RepoID recovers the repo that minted this document id.
func (d DocumentID) RepoID() RepoID { return d.Origin }

func (d DocumentID) String() string {
	return fmt.Sprintf("%s/%s", d.Origin, d.Local)
}

func (d DocumentID) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DocumentID) UnmarshalText(text []byte) error {
	origin, local, ok := strings.Cut(string(text), "/")
	if !ok {
		return fmt.Errorf("invalid document id %q: missing '/' separator", text)
	}
	originID, err := RepoIDFromString(origin)
	if err != nil {
		return err
	}
	localID, err := uuid.Parse(local)
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", text, err)
	}
	d.Origin, d.Local = originID, localID
	return nil
}

// ProtocolVersion is an ordered enum of wire protocol versions a repo can
// speak. Higher values are preferred by the handshake responder.
type ProtocolVersion uint8

const (
	// V1 is the only protocol version currently defined.
	V1 ProtocolVersion = 1
)

func (v ProtocolVersion) String() string { return fmt.Sprintf("v%d", uint8(v)) }

// PeerID identifies a remote repo from the local repo's point of view. It is
// simply that repo's RepoID, named distinctly at call sites that reason
// about "the other side of a channel" rather than "some repo".
type PeerID = RepoID
