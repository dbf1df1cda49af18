// Package identity provides the service's long-lived Ed25519 signing
// identity: load-or-generate persistence, signing, and verification.
// Signer is an interface so the KMS-backed signer in kms.go can stand in
// for the file-persisted local identity when configured.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yuanjing-labs/yuanjing-core/internal/apierr"
)

const seedSize = ed25519.SeedSize // 32 bytes

// Signer is the minimal signing abstraction used throughout the service.
// A single process holds exactly one Signer, selected at bootstrap.
type Signer interface {
	// Sign signs canonical-encoded bytes and returns a 64-byte Ed25519 signature.
	Sign(data []byte) ([]byte, error)
	// PublicKey returns the Ed25519 public key bytes for verification.
	PublicKey() []byte
	// SignerID returns a logical identifier for the identity (e.g. a key fingerprint).
	SignerID() string
}

// LocalIdentity is the file-persisted Ed25519 identity: the seed lives on
// disk at a fixed path, generated once and never rotated.
type LocalIdentity struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	signerID string
}

// LoadOrGenerate loads the 32-byte seed at path, or generates and persists a
// new one if the file does not exist. The new seed is written to a 0600
// temp file and hard-linked into place, so path never holds a partial
// seed. Concurrent first-starts on the same path are serialized by the
// link, which fails if path exists; losing the race falls back to reading
// what the winner wrote.
func LoadOrGenerate(path, signerID string) (*LocalIdentity, error) {
	seed, err := readSeed(path)
	if err == nil {
		return newLocalIdentity(seed, signerID)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, apierr.Wrap(apierr.Internal, "read identity key file", err)
	}

	newSeed := make([]byte, seedSize)
	if _, err := io.ReadFull(rand.Reader, newSeed); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "generate identity seed", err)
	}

	if err := writeSeedExclusive(path, newSeed); err != nil {
		if errors.Is(err, os.ErrExist) {
			seed, rerr := readSeed(path)
			if rerr != nil {
				return nil, apierr.Wrap(apierr.Internal, "read identity key file after race", rerr)
			}
			return newLocalIdentity(seed, signerID)
		}
		return nil, apierr.Wrap(apierr.Internal, "persist identity key file", err)
	}

	return newLocalIdentity(newSeed, signerID)
}

func newLocalIdentity(seed []byte, signerID string) (*LocalIdentity, error) {
	if len(seed) != seedSize {
		return nil, apierr.New(apierr.Internal, fmt.Sprintf("identity seed must be %d bytes, got %d", seedSize, len(seed)))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &LocalIdentity{priv: priv, pub: pub, signerID: signerID}, nil
}

func readSeed(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) != seedSize {
		return nil, fmt.Errorf("identity key file %s: expected %d bytes, got %d", path, seedSize, len(b))
	}
	return b, nil
}

func writeSeedExclusive(path string, seed []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".identity-*.tmp") // mode 0600
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(seed); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Link fails with os.ErrExist if path is already there, and otherwise
	// makes the fully written seed appear at path in one step.
	return os.Link(f.Name(), path)
}

// Sign signs data with the Ed25519 private key. Steady-state signing never
// fails; the error return exists only to satisfy the Signer interface.
func (l *LocalIdentity) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(l.priv, data), nil
}

// PublicKey returns the Ed25519 public key bytes.
func (l *LocalIdentity) PublicKey() []byte { return l.pub }

// SignerID returns the configured logical signer identifier.
func (l *LocalIdentity) SignerID() string { return l.signerID }

// Verify performs standard Ed25519 verification. It reports false on any
// malformed input (wrong-length key/signature) without raising.
func Verify(data, sig, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, sig)
}
