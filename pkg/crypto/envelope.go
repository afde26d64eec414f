// Package crypto provides the signing, hashing, and optional end-to-end
// encryption primitives the audit sink and verifier build on. Checkpoint
// signing uses Ed25519; the hash chain uses blake3; record encryption wraps
// a per-run data key for a recipient's X25519 public key via HKDF-SHA256
// and seals individual records with ChaCha20-Poly1305. This mirrors
// audit_crypto.rs's keygen_recipient / build_envelope / unwrap_envelope /
// AuditSink design one-for-one, translated into Go idioms.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"io"

	"crypto/sha256"
)

const dekWrapInfo = "sentinel/dek-wrap/v1"

// DataKey is a per-run, randomly generated symmetric key used to seal
// individual audit records once it has been unwrapped. Zero is called by
// the sink on shutdown so the plaintext key doesn't linger in memory beyond
// its useful life.
type DataKey struct {
	bytes [chacha20poly1305.KeySize]byte
}

// NewDataKey generates a fresh random DEK.
func NewDataKey() (*DataKey, error) {
	var dk DataKey
	if _, err := rand.Read(dk.bytes[:]); err != nil {
		return nil, fmt.Errorf("%w: generate data key: %v", ErrCryptoFailure, err)
	}
	return &dk, nil
}

// Zero overwrites the key material in place. Go's GC can still retain
// copies made before this call, same limitation the original Rust
// Zeroize-on-drop implementation has for values already moved onto the
// stack elsewhere — this is a best-effort wipe, not a guarantee.
func (dk *DataKey) Zero() {
	for i := range dk.bytes {
		dk.bytes[i] = 0
	}
}

// RecipientKeyPair is an X25519 keypair used to receive a wrapped DEK.
type RecipientKeyPair struct {
	Priv [32]byte
	Pub  [32]byte
}

// GenerateRecipientKeyPair creates a fresh X25519 keypair.
func GenerateRecipientKeyPair() (*RecipientKeyPair, error) {
	var kp RecipientKeyPair
	if _, err := rand.Read(kp.Priv[:]); err != nil {
		return nil, fmt.Errorf("%w: generate recipient key: %v", ErrCryptoFailure, err)
	}
	pub, err := curve25519.X25519(kp.Priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: derive recipient public key: %v", ErrCryptoFailure, err)
	}
	copy(kp.Pub[:], pub)
	return &kp, nil
}

// LoadRecipientPrivateKeyB64 reads a base64-encoded 32-byte X25519 private
// key from path.
func LoadRecipientPrivateKeyB64(path string) ([32]byte, error) {
	return readB64_32(path)
}

// LoadRecipientPublicKeyB64 reads a base64-encoded 32-byte X25519 public
// key from path.
func LoadRecipientPublicKeyB64(path string) ([32]byte, error) {
	return readB64_32(path)
}

func readB64_32(path string) ([32]byte, error) {
	var out [32]byte
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("%w: read key file %s: %v", ErrBadKeyFile, path, err)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return out, fmt.Errorf("%w: decode key file %s: %v", ErrBadKeyFile, path, err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("%w: key file %s must decode to 32 bytes, got %d", ErrBadKeyFile, path, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// KeyEnvelope is the first line of an encrypted audit log: it carries the
// run's DEK, wrapped for one recipient's X25519 public key. Field layout
// and naming follow spec §3/§6 exactly, since it is part of the wire
// format a separate decrypt tool must parse independently.
type KeyEnvelope struct {
	RecordType       string `json:"record_type"` // "KeyEnvelope"
	Version          int    `json:"version"`
	RunID            string `json:"run_id"`
	RecipientKeyID   string `json:"recipient_key_id"`
	EphemeralPubKeyB64 string `json:"ephemeral_pubkey_b64"`
	WrapNonceB64     string `json:"wrap_nonce_b64"`
	WrappedDekB64    string `json:"wrapped_dek_b64"`
	KexAlg           string `json:"kex_alg"` // "x25519"
	KdfAlg           string `json:"kdf_alg"` // "hkdf-sha256"
	AeadAlg          string `json:"aead_alg"` // "chacha20poly1305"
}

// EncryptedRecord wraps a single ciphertext audit line.
type EncryptedRecord struct {
	RecordType string `json:"record_type"` // "Encrypted"
	Version    int    `json:"version"`
	RunID      string `json:"run_id"`
	InnerType  string `json:"inner_type"` // "Event" | "Checkpoint"
	NonceB64   string `json:"nonce_b64"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

// BuildEnvelope generates a fresh ephemeral X25519 keypair, derives a
// wrapping key via ECDH+HKDF-SHA256 against the recipient's public key, and
// seals dek with ChaCha20-Poly1305 under AAD=run_id.
func BuildEnvelope(runID string, recipientPub [32]byte, dek *DataKey) (KeyEnvelope, error) {
	eph, err := GenerateRecipientKeyPair()
	if err != nil {
		return KeyEnvelope{}, err
	}

	shared, err := curve25519.X25519(eph.Priv[:], recipientPub[:])
	if err != nil {
		return KeyEnvelope{}, fmt.Errorf("%w: x25519 agreement: %v", ErrCryptoFailure, err)
	}

	wrapKey, err := hkdfExpandKey(shared)
	if err != nil {
		return KeyEnvelope{}, err
	}

	aead, err := chacha20poly1305.New(wrapKey)
	if err != nil {
		return KeyEnvelope{}, fmt.Errorf("%w: init aead: %v", ErrCryptoFailure, err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return KeyEnvelope{}, fmt.Errorf("%w: generate wrap nonce: %v", ErrCryptoFailure, err)
	}

	ciphertext := aead.Seal(nil, nonce, dek.bytes[:], []byte(runID))

	return KeyEnvelope{
		RecordType:         "KeyEnvelope",
		Version:            1,
		RunID:              runID,
		RecipientKeyID:     RecipientKeyID(recipientPub[:]),
		EphemeralPubKeyB64: base64.StdEncoding.EncodeToString(eph.Pub[:]),
		WrapNonceB64:       base64.StdEncoding.EncodeToString(nonce),
		WrappedDekB64:      base64.StdEncoding.EncodeToString(ciphertext),
		KexAlg:             "x25519",
		KdfAlg:             "hkdf-sha256",
		AeadAlg:            "chacha20poly1305",
	}, nil
}

// UnwrapEnvelope recovers the DEK from env using the recipient's private
// key, the inverse of BuildEnvelope.
func UnwrapEnvelope(env KeyEnvelope, recipientPriv [32]byte) (*DataKey, error) {
	ephPub, err := decodeB64(env.EphemeralPubKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral_pubkey_b64: %v", ErrBadEnvelope, err)
	}
	nonce, err := decodeB64(env.WrapNonceB64)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap_nonce_b64: %v", ErrBadEnvelope, err)
	}
	wrapped, err := decodeB64(env.WrappedDekB64)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped_dek_b64: %v", ErrBadEnvelope, err)
	}

	shared, err := curve25519.X25519(recipientPriv[:], ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519 agreement: %v", ErrCryptoFailure, err)
	}

	wrapKey, err := hkdfExpandKey(shared)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("%w: init aead: %v", ErrCryptoFailure, err)
	}

	plain, err := aead.Open(nil, nonce, wrapped, []byte(env.RunID))
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap dek: %v", ErrCryptoFailure, err)
	}
	if len(plain) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: unwrapped dek has wrong size %d", ErrBadEnvelope, len(plain))
	}

	var dk DataKey
	copy(dk.bytes[:], plain)
	return &dk, nil
}

// EncryptRecord seals plaintext (a serialized JSON event/checkpoint line)
// under dek, bound to AAD "<run_id>|<innerType>" so ciphertexts cannot be
// replayed against a different run or record kind.
func EncryptRecord(dek *DataKey, runID, innerType string, plaintext []byte) (EncryptedRecord, error) {
	aead, err := chacha20poly1305.New(dek.bytes[:])
	if err != nil {
		return EncryptedRecord{}, fmt.Errorf("%w: init aead: %v", ErrCryptoFailure, err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedRecord{}, fmt.Errorf("%w: generate record nonce: %v", ErrCryptoFailure, err)
	}
	aad := []byte(runID + "|" + innerType)
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)
	return EncryptedRecord{
		RecordType:    "Encrypted",
		Version:       1,
		RunID:         runID,
		InnerType:     innerType,
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// DecryptRecord is the inverse of EncryptRecord.
func DecryptRecord(dek *DataKey, rec EncryptedRecord) ([]byte, error) {
	aead, err := chacha20poly1305.New(dek.bytes[:])
	if err != nil {
		return nil, fmt.Errorf("%w: init aead: %v", ErrCryptoFailure, err)
	}
	nonce, err := decodeB64(rec.NonceB64)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce_b64: %v", ErrBadEnvelope, err)
	}
	ciphertext, err := decodeB64(rec.CiphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext_b64: %v", ErrBadEnvelope, err)
	}
	aad := []byte(rec.RunID + "|" + rec.InnerType)
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt record: %v", ErrCryptoFailure, err)
	}
	return plain, nil
}

func hkdfExpandKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(dekWrapInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("%w: hkdf expand: %v", ErrCryptoFailure, err)
	}
	return key, nil
}

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
