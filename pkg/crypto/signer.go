package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Signer signs checkpoint preimages. KeyID identifies the signing key by
// the first 6 bytes of its blake3 hash, hex-encoded, matching the key_id
// field written into every checkpoint record.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	PublicKeyBytes() []byte
	KeyID() string
}

// Ed25519Signer is the sole supported signer. Ed25519 is a teacher
// dependency (crypto/ed25519, used the same way in pkg/crypto/signer.go)
// and the checkpoint preimage construction in §4.4 assumes it directly.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh Ed25519 keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

// NewEd25519SignerFromSeed builds a signer from a raw 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// LoadSigningKeyB64 reads a base64-encoded 32-byte Ed25519 seed from path,
// the wire format the keygen subcommand writes (sentinel_seed.b64 in the
// original tool).
func LoadSigningKeyB64(path string) (*Ed25519Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read signing key: %v", ErrBadKeyFile, err)
	}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: decode signing key: %v", ErrBadKeyFile, err)
	}
	return NewEd25519SignerFromSeed(seed)
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pub
}

func (s *Ed25519Signer) KeyID() string {
	return SigningKeyID(s.pub)
}

// SeedB64 returns the base64 seed to persist to a key file.
func (s *Ed25519Signer) SeedB64() string {
	return base64.StdEncoding.EncodeToString(s.priv.Seed())
}

// PublicKeyB64 returns the base64 public key, the companion file keygen
// writes alongside the seed.
func (s *Ed25519Signer) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(s.pub)
}
