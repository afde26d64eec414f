package crypto

import (
	"bytes"
	"testing"
)

func TestCanonicalizeValue_SortsNestedKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"a": map[string]any{"y": 2, "z": 1}, "b": 1}

	ca, err := CanonicalMarshal(CanonicalizeValue(a))
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	cb, err := CanonicalMarshal(CanonicalizeValue(b))
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Errorf("expected identical canonical bytes, got %s vs %s", ca, cb)
	}
}

func TestCanonicalizeValue_PreservesArrayOrder(t *testing.T) {
	v := []any{map[string]any{"b": 1, "a": 2}, 3}
	out, err := CanonicalMarshal(CanonicalizeValue(v))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"a":2,"b":1},3]`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}

func TestEd25519Signer_SignVerifyRoundtrip(t *testing.T) {
	signer, err := NewEd25519Signer()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewEd25519Verifier(signer.PublicKeyBytes())
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	msg := []byte("checkpoint preimage")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !verifier.Verify(msg, sig) {
		t.Errorf("expected signature to verify")
	}
	if verifier.Verify([]byte("tampered"), sig) {
		t.Errorf("expected tampered message to fail verification")
	}
	if signer.KeyID() != verifier.KeyID() {
		t.Errorf("signer and verifier key ids should match: %s vs %s", signer.KeyID(), verifier.KeyID())
	}
}

func TestEnvelope_WrapUnwrapRoundtrip(t *testing.T) {
	recipient, err := GenerateRecipientKeyPair()
	if err != nil {
		t.Fatalf("generate recipient: %v", err)
	}
	dek, err := NewDataKey()
	if err != nil {
		t.Fatalf("new data key: %v", err)
	}

	env, err := BuildEnvelope("run-123", recipient.Pub, dek)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.RecipientKeyID != RecipientKeyID(recipient.Pub[:]) {
		t.Errorf("recipient key id mismatch")
	}

	recovered, err := UnwrapEnvelope(env, recipient.Priv)
	if err != nil {
		t.Fatalf("unwrap envelope: %v", err)
	}
	if recovered.bytes != dek.bytes {
		t.Errorf("recovered dek does not match original")
	}
}

func TestEncryptDecryptRecord_AADBindsRunAndType(t *testing.T) {
	dek, err := NewDataKey()
	if err != nil {
		t.Fatalf("new data key: %v", err)
	}

	rec, err := EncryptRecord(dek, "run-1", "Event", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	plain, err := DecryptRecord(dek, rec)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != `{"a":1}` {
		t.Errorf("got %s", plain)
	}

	rec.RunID = "run-2"
	if _, err := DecryptRecord(dek, rec); err == nil {
		t.Errorf("expected decryption to fail after AAD tamper (run_id)")
	}

	rec.RunID = "run-1"
	rec.InnerType = "Checkpoint"
	if _, err := DecryptRecord(dek, rec); err == nil {
		t.Errorf("expected decryption to fail after AAD tamper (inner_type)")
	}
}
