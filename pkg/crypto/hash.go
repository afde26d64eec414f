package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/lukechampine/blake3"
)

// Blake3Sum32 returns the 32-byte blake3 digest of data.
func Blake3Sum32(data []byte) [32]byte {
	var out [32]byte
	h := blake3.Sum256(data)
	copy(out[:], h[:])
	return out
}

// Blake3MultiSum32 hashes the concatenation of parts without an
// intermediate allocation-heavy append chain.
func Blake3MultiSum32(parts ...[]byte) [32]byte {
	h := blake3.New(32, nil)
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SigningKeyID derives the short key identifier for an Ed25519 public key:
// the first 6 bytes of its blake3 hash, hex-encoded.
func SigningKeyID(pubKey []byte) string {
	h := blake3.Sum256(pubKey)
	return hex.EncodeToString(h[:6])
}

// RecipientKeyID derives the short key identifier for an X25519 recipient
// public key: the first 6 bytes of its SHA-256 hash, hex-encoded. Recipient
// keys use SHA-256 rather than blake3 so that the two key spaces (signing
// vs. encryption) never collide in the key_id namespace even for the same
// raw bytes.
func RecipientKeyID(pubKey []byte) string {
	h := sha256.Sum256(pubKey)
	return hex.EncodeToString(h[:6])
}
