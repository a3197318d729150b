package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
)

// LoadOrGenerate reads a participant's ed25519 private key from path,
// generating and persisting a fresh one if the file does not exist yet.
// A long-running daemon needs a stable WriterID/PeerID across restarts so
// a previously authorized log writer and swarm peer identity survive a
// process restart; the key file itself is written with owner-only
// permissions, the same posture persistence.writeAtomic uses for on-disk
// game state.
func LoadOrGenerate(path string) (Identity, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != ed25519.PrivateKeySize {
			return Identity{}, fmt.Errorf("identity file %s has unexpected length %d", path, len(raw))
		}
		priv := ed25519.PrivateKey(raw)
		return Identity{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
	}
	if !os.IsNotExist(err) {
		return Identity{}, fmt.Errorf("read identity file: %w", err)
	}

	id, err := Generate()
	if err != nil {
		return Identity{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Identity{}, fmt.Errorf("create identity directory: %w", err)
	}
	if err := os.WriteFile(path, id.Private, 0o600); err != nil {
		return Identity{}, fmt.Errorf("write identity file: %w", err)
	}
	return id, nil
}
