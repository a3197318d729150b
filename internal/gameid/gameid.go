// Package gameid implements the GameId/InviteCode derivation defined in
// spec §3 and §6.1: a 32-byte GameId used as both the swarm topic and the
// storage directory name, derived from (and reversible to) a human-shareable
// six-hex-character invite code.
package gameid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Size is the length in bytes of a GameId.
const Size = 32

// ID is a 32-byte game identifier, also used verbatim as the swarm topic.
type ID [Size]byte

// String renders the id as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Parse reverses String: it decodes a 64-character lowercase-hex GameId back
// into its 32-byte form, used when resuming a session from a persisted
// snapshot's GameID field rather than deriving one from an invite code.
func Parse(s string) (ID, error) {
	var id ID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode game id: %w", err)
	}
	if len(raw) != Size {
		return id, fmt.Errorf("game id must be %d bytes, got %d", Size, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

var inviteCodePattern = regexp.MustCompile(`^[A-Fa-f0-9]{3}-[A-Fa-f0-9]{3}$`)

// ErrMalformedInviteCode is returned when a code does not match
// ^[A-F0-9]{3}-[A-F0-9]{3}$ (case-insensitive).
var ErrMalformedInviteCode = fmt.Errorf("invite code must match XXX-XXX hex format")

// NewRandom generates a fresh GameId from a cryptographically secure source.
// The host path does not use it: NewHost derives its GameId from
// NewInviteCode so the id and the invite code agree.
func NewRandom() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, fmt.Errorf("generate game id: %w", err)
	}
	return id, nil
}

// NewInviteCode generates a fresh six-hex-char invite code and its derived
// GameId together, so the first three bytes of the id and the code agree by
// construction.
func NewInviteCode() (string, ID, error) {
	var prefix [3]byte
	if _, err := rand.Read(prefix[:]); err != nil {
		return "", ID{}, fmt.Errorf("generate invite code: %w", err)
	}
	code := formatCode(prefix)
	id := ToGameID(code)
	return code, id, nil
}

// ToGameID derives a GameId from an invite code: strip the dash, lowercase,
// take the first three bytes, right-pad with zero bytes to 32 bytes. Callers
// should validate with Validate first; ToGameID does not itself validate.
func ToGameID(code string) ID {
	stripped := strings.ToLower(strings.ReplaceAll(code, "-", ""))
	var id ID
	raw, err := hex.DecodeString(stripped)
	if err != nil {
		return id
	}
	copy(id[:], raw)
	return id
}

// ToInviteCode reformats a GameId's first three bytes back into the
// XXX-XXX display form (spec Property 7: invite round-trip).
func ToInviteCode(id ID) string {
	var prefix [3]byte
	copy(prefix[:], id[:3])
	return formatCode(prefix)
}

func formatCode(prefix [3]byte) string {
	full := strings.ToUpper(hex.EncodeToString(prefix[:]))
	return full[:3] + "-" + full[3:]
}

// Validate reports whether code matches the required invite-code format.
func Validate(code string) error {
	if !inviteCodePattern.MatchString(code) {
		return ErrMalformedInviteCode
	}
	return nil
}
