// Package identity manages attnd's long-lived Ed25519 signing key.
//
// The key is process-persistent across restarts: on first run a fresh key
// is generated and written to disk with owner-only permissions; on every
// later run the same bytes are loaded back. This gives the CLI a stable
// public key to register in a repo's trust registry.
package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	keyFileName = "daemon.key"
	seedSize    = ed25519.SeedSize // 32 bytes, matches spec's "exactly 32 raw bytes".
)

// Identity holds the daemon's Ed25519 key pair.
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// Load ensures dir exists with owner-only permissions, then loads the key
// file if present or generates and persists a new one. dir is typically
// ~/.config/attnd.
func Load(dir string, log *zap.Logger) (*Identity, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: mkdir %q: %w", dir, err)
	}
	// MkdirAll does not tighten permissions on a pre-existing directory.
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: chmod %q: %w", dir, err)
	}

	keyPath := filepath.Join(dir, keyFileName)

	seed, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(seed) != seedSize {
			return nil, fmt.Errorf("identity: key file %q has %d bytes, want %d", keyPath, len(seed), seedSize)
		}
	case os.IsNotExist(err):
		seed, err = generateSeed()
		if err != nil {
			return nil, fmt.Errorf("identity: generate key: %w", err)
		}
		if err := os.WriteFile(keyPath, seed, 0o600); err != nil {
			return nil, fmt.Errorf("identity: write key %q: %w", keyPath, err)
		}
		if err := os.Chmod(keyPath, 0o600); err != nil {
			return nil, fmt.Errorf("identity: chmod key %q: %w", keyPath, err)
		}
		log.Info("identity: generated new signing key", zap.String("path", keyPath))
	default:
		return nil, fmt.Errorf("identity: read key %q: %w", keyPath, err)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	id := &Identity{private: priv, public: priv.Public().(ed25519.PublicKey)}
	log.Info("identity: loaded signing key", zap.String("public_key_hex", id.PublicKeyHex()))
	return id, nil
}

func generateSeed() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(nil) // uses crypto/rand internally
	if err != nil {
		return nil, err
	}
	return priv.Seed(), nil
}

// Sign signs payload with the daemon's private key. The signature covers
// the exact bytes passed in, never a re-serialization.
func (id *Identity) Sign(payload []byte) []byte {
	return ed25519.Sign(id.private, payload)
}

// Verify checks sig against payload using pub.
func Verify(pub ed25519.PublicKey, payload, sig []byte) bool {
	return ed25519.Verify(pub, payload, sig)
}

// PublicKey returns the daemon's public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.public
}

// PublicKeyHex returns the public key as a lowercase hex string, suitable
// for printing at startup and for a repo's trust.toml registry.
func (id *Identity) PublicKeyHex() string {
	return fmt.Sprintf("%x", []byte(id.public))
}
