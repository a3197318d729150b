// Package identity manages the ed25519 keypair backing a participant's
// WriterId (spec §3) and the derived PeerId used by the swarm transport
// (spec §4.1: "a stable 16-hex-char prefix of the remote public key").
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// WriterID is the 32-byte ed25519 public key identifying a log writer.
type WriterID [ed25519.PublicKeySize]byte

// String renders the writer id as lowercase hex.
func (w WriterID) String() string {
	return hex.EncodeToString(w[:])
}

// Less implements the byte-lexicographic tie-break order used by the move
// log's linearization rule (spec §3).
func (w WriterID) Less(other WriterID) bool {
	for i := range w {
		if w[i] != other[i] {
			return w[i] < other[i]
		}
	}
	return false
}

// PeerID is the stable 16-hex-char prefix of a participant's public key.
type PeerID string

// DerivePeerID takes the first 8 bytes (16 hex chars) of a public key.
func DerivePeerID(pub ed25519.PublicKey) PeerID {
	if len(pub) < 8 {
		return PeerID(hex.EncodeToString(pub))
	}
	return PeerID(hex.EncodeToString(pub[:8]))
}

// Identity is a participant's local keypair.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a fresh keypair for a new local participant.
func Generate() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("generate identity keypair: %w", err)
	}
	return Identity{Public: pub, Private: priv}, nil
}

// WriterID returns this identity's public key as a WriterID.
func (id Identity) WriterID() WriterID {
	var w WriterID
	copy(w[:], id.Public)
	return w
}

// PeerID returns this identity's stable peer id prefix.
func (id Identity) PeerID() PeerID {
	return DerivePeerID(id.Public)
}

// Sign signs message with the identity's private key.
func (id Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.Private, message)
}

// Verify checks a signature against a raw public key.
func Verify(pub ed25519.PublicKey, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}

// PublicKey reconstructs a public key from a WriterID.
func (w WriterID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(w[:])
}
