package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Errors mirror spec §7's error kinds that originate in the crypto layer.
var (
	ErrBadKeyFile    = errors.New("bad key file")
	ErrBadEnvelope   = errors.New("bad key envelope")
	ErrCryptoFailure = errors.New("crypto failure")
)

// Verifier checks Ed25519 signatures against a fixed public key.
type Verifier interface {
	Verify(message, signature []byte) bool
	PublicKeyBytes() []byte
	KeyID() string
}

// Ed25519Verifier implements Verifier.
type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

// NewEd25519Verifier wraps a raw 32-byte Ed25519 public key.
func NewEd25519Verifier(pubKey []byte) (*Ed25519Verifier, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrBadKeyFile, ed25519.PublicKeySize, len(pubKey))
	}
	return &Ed25519Verifier{pub: ed25519.PublicKey(pubKey)}, nil
}

// LoadVerifyKeyB64 reads a base64-encoded Ed25519 public key from path.
func LoadVerifyKeyB64(path string) (*Ed25519Verifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read verify key: %v", ErrBadKeyFile, err)
	}
	pub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: decode verify key: %v", ErrBadKeyFile, err)
	}
	return NewEd25519Verifier(pub)
}

func (v *Ed25519Verifier) Verify(message, signature []byte) bool {
	return ed25519.Verify(v.pub, message, signature)
}

func (v *Ed25519Verifier) PublicKeyBytes() []byte {
	return v.pub
}

func (v *Ed25519Verifier) KeyID() string {
	return SigningKeyID(v.pub)
}
