// Package auth signs and verifies the handshake claim triple exchanged on
// every new swarm connection (spec §4.3, §6.3), generalizing the teacher's
// HMAC shared-secret token verifier into an ed25519 signature scheme: since
// peers already exchange public keys as part of their WriterID, no shared
// secret is needed between untrusted participants.
package auth

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidSignature indicates the handshake signature did not verify
	// against the claimed public key.
	ErrInvalidSignature = errors.New("invalid handshake signature")
	// ErrStaleHandshake signals the handshake timestamp fell outside the
	// verifier's freshness window.
	ErrStaleHandshake = errors.New("stale handshake timestamp")
)

// Claims is the signed portion of a handshake message.
type Claims struct {
	GameID      string `json:"gameId"`
	PlayerColor string `json:"playerColor"`
	IsHost      bool   `json:"isHost"`
	Timestamp   int64  `json:"timestamp"`
}

// canonicalPayload renders claims deterministically for signing: struct
// field order is fixed by the type definition, so json.Marshal already
// produces a stable byte sequence across peers.
func canonicalPayload(c Claims) ([]byte, error) {
	return json.Marshal(c)
}

// Sign signs claims with the local identity's private key.
func Sign(priv ed25519.PrivateKey, claims Claims) ([]byte, error) {
	payload, err := canonicalPayload(claims)
	if err != nil {
		return nil, fmt.Errorf("encode handshake claims: %w", err)
	}
	return ed25519.Sign(priv, payload), nil
}

// Verifier checks handshake signatures and enforces a freshness window
// around the claimed timestamp, mirroring the teacher's HMACTokenVerifier
// expiry-with-leeway shape.
type Verifier struct {
	now    func() time.Time
	leeway time.Duration
}

// NewVerifier constructs a verifier allowing leeway of clock skew on either
// side of "now" when checking a handshake timestamp.
func NewVerifier(leeway time.Duration) *Verifier {
	if leeway < 0 {
		leeway = 0
	}
	return &Verifier{now: time.Now, leeway: leeway}
}

// WithClock overrides the verifier clock, enabling deterministic unit tests.
func (v *Verifier) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	v.now = clock
}

// Verify checks signature against pub and claims, and that claims.Timestamp
// falls within the configured freshness window of the verifier's clock.
func (v *Verifier) Verify(pub ed25519.PublicKey, claims Claims, signature []byte) error {
	if v == nil {
		return errors.New("verifier not initialised")
	}
	payload, err := canonicalPayload(claims)
	if err != nil {
		return fmt.Errorf("encode handshake claims: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, payload, signature) {
		return ErrInvalidSignature
	}
	claimed := time.UnixMilli(claims.Timestamp)
	now := v.now()
	if claimed.Before(now.Add(-v.leeway)) || claimed.After(now.Add(v.leeway)) {
		return ErrStaleHandshake
	}
	return nil
}
