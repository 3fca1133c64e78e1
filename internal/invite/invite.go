// Package invite produces and verifies the signed, QR-encodable bundles
// used to bootstrap a connect_stream dial between two repos that have
// never spoken before (spec §6's pairing/bootstrap collaborator),
// generalizing the teacher's libp2p-keyed PeerInvite
// (internal/sync/invite.go) to an ed25519 keypair owned directly by the
// repo rather than derived from a libp2p host identity.
package invite

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/weftsync/weft/internal/core"
)

// Prefix is the URL scheme every encoded invite carries.
const Prefix = "weft://"

// DefaultExpiry is how long a freshly created invite remains valid.
const DefaultExpiry = 24 * time.Hour

// Identity is the long-lived ed25519 keypair a repo signs invites with.
// A repo that wants to issue invites generates one once and keeps it
// alongside its RepoID.
type Identity struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh signing identity.
func GenerateIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("invite: generate identity: %w", err)
	}
	return Identity{Public: pub, private: priv}, nil
}

// LoadIdentity reconstructs an Identity from a previously persisted
// public/private key pair, letting a caller restore a repo's signing
// identity across restarts instead of minting a new one every run.
func LoadIdentity(public, private []byte) (Identity, error) {
	if len(public) != ed25519.PublicKeySize || len(private) != ed25519.PrivateKeySize {
		return Identity{}, fmt.Errorf("invite: malformed identity key sizes")
	}
	return Identity{
		Public:  ed25519.PublicKey(append([]byte(nil), public...)),
		private: ed25519.PrivateKey(append([]byte(nil), private...)),
	}, nil
}

// PrivateKeyBytes returns the raw private key, for persistence. Callers
// must store it with the same care as any other secret key material.
func (i Identity) PrivateKeyBytes() []byte {
	return append([]byte(nil), i.private...)
}

// PeerInvite carries what a remote repo needs to dial this one: its
// RepoID, the dial addresses it's currently reachable at, and a
// signature binding the two together so a tampered or replayed invite is
// rejected before a connection is even attempted.
type PeerInvite struct {
	RepoID    string   `json:"r"`
	Addresses []string `json:"a"`
	PublicKey []byte   `json:"k"`
	CreatedAt int64    `json:"c"`
	ExpiresAt int64    `json:"e"`
	Signature []byte   `json:"s"`
}

// Create builds and signs an invite for repoID, reachable at addrs, using
// id's keypair.
func Create(repoID core.RepoID, addrs []string, id Identity, expiry time.Duration) (*PeerInvite, error) {
	if id.private == nil {
		return nil, fmt.Errorf("invite: identity has no private key")
	}
	now := time.Now()
	inv := &PeerInvite{
		RepoID:    repoID.String(),
		Addresses: append([]string(nil), addrs...),
		PublicKey: append([]byte(nil), id.Public...),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(expiry).Unix(),
	}
	inv.Signature = ed25519.Sign(id.private, inv.signableData())
	return inv, nil
}

func (i *PeerInvite) signableData() []byte {
	data := fmt.Sprintf("%s|%s|%d|%d", i.RepoID, strings.Join(i.Addresses, ","), i.CreatedAt, i.ExpiresAt)
	return []byte(data)
}

// Encode serializes the invite to a compact, transport-friendly string.
func (i *PeerInvite) Encode() (string, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return "", fmt.Errorf("invite: encode: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// Parse decodes, verifies the expiry and the signature of, and returns an
// invite string previously produced by Encode.
func Parse(s string) (*PeerInvite, error) {
	if !strings.HasPrefix(s, Prefix) {
		return nil, fmt.Errorf("invite: missing %q prefix", Prefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, Prefix))
	if err != nil {
		return nil, fmt.Errorf("invite: bad encoding: %w", err)
	}
	var inv PeerInvite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("invite: bad payload: %w", err)
	}
	if inv.IsExpired() {
		return nil, fmt.Errorf("invite: expired")
	}
	if len(inv.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invite: malformed public key")
	}
	if !ed25519.Verify(ed25519.PublicKey(inv.PublicKey), inv.signableData(), inv.Signature) {
		return nil, fmt.Errorf("invite: invalid signature")
	}
	return &inv, nil
}

// RepoIDValue parses the invite's RepoID field.
func (i *PeerInvite) RepoIDValue() (core.RepoID, error) {
	return core.RepoIDFromString(i.RepoID)
}

// IsExpired reports whether the invite is past its expiry.
func (i *PeerInvite) IsExpired() bool {
	return time.Now().Unix() > i.ExpiresAt
}

// ToQR renders the invite as a QR code PNG of a minimal form (scheme +
// repo id + first address), mirroring the teacher's size-conscious
// minimal code. That form carries no signature or expiry, and Parse does
// not accept it.
func (i *PeerInvite) ToQR() ([]byte, error) {
	return qrcode.Encode(i.minimalCode(), qrcode.Low, 256)
}

// ToQRString renders the invite as ASCII art for terminal display.
func (i *PeerInvite) ToQRString() (string, error) {
	qr, err := qrcode.New(i.minimalCode(), qrcode.Low)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

func (i *PeerInvite) minimalCode() string {
	addr := ""
	if len(i.Addresses) > 0 {
		addr = i.Addresses[0]
	}
	return fmt.Sprintf("%s%s@%s", Prefix, i.RepoID, addr)
}
