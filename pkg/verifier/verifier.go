// Package verifier replays an audit log file exactly as written by
// pkg/audit and reports the first inconsistency, per §4.7. It is
// intentionally minimal with ZERO network or proxy dependencies: it
// trusts only Ed25519, blake3, and the wire format itself, and never
// mutates the file it reads. This mirrors the teacher's pkg/verifier
// package-doc philosophy ("ZERO server/proxy/network dependencies"),
// adapted from an aggregate pass/fail report to spec's mandated
// abort-on-first-violation, line-numbered replay.
package verifier

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sentinel-audit/sentinel/pkg/audit"
	sentcrypto "github.com/sentinel-audit/sentinel/pkg/crypto"
)

// VerifyError reports the 1-based line number of the record that failed a
// replay rule, alongside the underlying error kind from §7.
type VerifyError struct {
	Line int
	Err  error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Report summarizes a successful verification.
type Report struct {
	RunID              string
	EventsVerified      int
	CheckpointsVerified int
	LastEventID        uint64
	Encrypted          bool
}

type recordEnvelope struct {
	RecordType string `json:"record_type"`
}

// VerifyFile replays logPath against pubKey (the verifying Ed25519 key).
// recipientPriv is required only if the log turns out to be encrypted; pass
// nil for plaintext logs (a nil recipientPriv on an encrypted log is a
// VerifyError wrapping sentcrypto.ErrBadEnvelope).
func VerifyFile(logPath string, pubKey []byte, recipientPriv *[32]byte) (*Report, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", audit.ErrIoError, logPath, err)
	}
	defer f.Close()

	verifyKey, err := sentcrypto.NewEd25519Verifier(pubKey)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	rep := &Report{}
	var (
		tip          [32]byte // zero value = ZeroHash
		lastEventID  uint64
		haveEvent    bool
		runID        string
		haveRunID    bool
		dek          *sentcrypto.DataKey
		envelopeSeen bool
		encryptedRun string
	)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		if line == 1 {
			var env recordEnvelope
			if err := json.Unmarshal(raw, &env); err == nil && env.RecordType == "KeyEnvelope" {
				var keyEnv sentcrypto.KeyEnvelope
				if err := json.Unmarshal(raw, &keyEnv); err != nil {
					return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: %v", audit.ErrSerializationError, err)}
				}
				if recipientPriv == nil {
					return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: log is encrypted but no recipient private key supplied", sentcrypto.ErrBadEnvelope)}
				}
				dk, err := sentcrypto.UnwrapEnvelope(keyEnv, *recipientPriv)
				if err != nil {
					return nil, &VerifyError{Line: line, Err: err}
				}
				dek = dk
				envelopeSeen = true
				encryptedRun = keyEnv.RunID
				rep.Encrypted = true
				continue
			}
		}

		plain := raw
		innerKind := ""
		if envelopeSeen {
			var encRec sentcrypto.EncryptedRecord
			if err := json.Unmarshal(raw, &encRec); err != nil {
				return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: %v", audit.ErrSerializationError, err)}
			}
			if encRec.RunID != encryptedRun {
				return nil, &VerifyError{Line: line, Err: audit.ErrRunIdMismatch}
			}
			decrypted, err := sentcrypto.DecryptRecord(dek, encRec)
			if err != nil {
				return nil, &VerifyError{Line: line, Err: err}
			}
			plain = decrypted
			innerKind = encRec.InnerType
		}

		var env recordEnvelope
		if err := json.Unmarshal(plain, &env); err != nil {
			return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: %v", audit.ErrSerializationError, err)}
		}
		if innerKind != "" && env.RecordType != innerKind {
			return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: encrypted inner_type %q does not match decoded record_type %q", audit.ErrSerializationError, innerKind, env.RecordType)}
		}

		switch env.RecordType {
		case "Event":
			var rec audit.EventRecord
			if err := json.Unmarshal(plain, &rec); err != nil {
				return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: %v", audit.ErrSerializationError, err)}
			}

			if !haveRunID {
				runID = rec.Log.RunID
				haveRunID = true
			} else if rec.Log.RunID != runID {
				return nil, &VerifyError{Line: line, Err: audit.ErrRunIdMismatch}
			}

			prevHash, err := audit.DecodeHash32(rec.Integrity.PrevHashB64)
			if err != nil {
				return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: prev_hash_b64: %v", audit.ErrSerializationError, err)}
			}
			if prevHash != tip {
				return nil, &VerifyError{Line: line, Err: audit.ErrChainMismatch}
			}

			wantID := uint64(1)
			if haveEvent {
				wantID = lastEventID + 1
			}
			if rec.Log.EventID != wantID {
				return nil, &VerifyError{Line: line, Err: audit.ErrIdGap}
			}

			computed, err := audit.EntryHash(tip, rec.Log)
			if err != nil {
				return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: %v", audit.ErrSerializationError, err)}
			}
			wantHash, err := audit.DecodeHash32(rec.Integrity.EntryHashB64)
			if err != nil {
				return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: entry_hash_b64: %v", audit.ErrSerializationError, err)}
			}
			if computed != wantHash {
				return nil, &VerifyError{Line: line, Err: audit.ErrChainMismatch}
			}

			tip = computed
			lastEventID = rec.Log.EventID
			haveEvent = true
			rep.EventsVerified++

		case "Checkpoint":
			var cp audit.CheckpointRecord
			if err := json.Unmarshal(plain, &cp); err != nil {
				return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: %v", audit.ErrSerializationError, err)}
			}

			if !haveRunID {
				runID = cp.RunID
				haveRunID = true
			} else if cp.RunID != runID {
				return nil, &VerifyError{Line: line, Err: audit.ErrRunIdMismatch}
			}

			lastHash, err := audit.DecodeHash32(cp.LastEntryHashB64)
			if err != nil {
				return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: last_entry_hash_b64: %v", audit.ErrSerializationError, err)}
			}
			if lastHash != tip {
				return nil, &VerifyError{Line: line, Err: audit.ErrChainMismatch}
			}
			if cp.LastEventID != lastEventID {
				return nil, &VerifyError{Line: line, Err: audit.ErrChainMismatch}
			}

			// Rule 5/P6: key_id mismatch is reported before attempting
			// signature verification.
			if cp.KeyID != verifyKey.KeyID() {
				return nil, &VerifyError{Line: line, Err: audit.ErrKeyIdMismatch}
			}

			preimage := audit.CheckpointPreimage(cp.RunID, cp.LastEventID, lastHash)
			sig, err := decodeB64(cp.SignatureB64)
			if err != nil {
				return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: signature_b64: %v", audit.ErrSerializationError, err)}
			}
			if !verifyKey.Verify(preimage[:], sig) {
				return nil, &VerifyError{Line: line, Err: sentcrypto.ErrCryptoFailure}
			}

			rep.CheckpointsVerified++

		default:
			return nil, &VerifyError{Line: line, Err: fmt.Errorf("%w: unknown record_type %q", audit.ErrSerializationError, env.RecordType)}
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", audit.ErrIoError, err)
	}

	if rep.EventsVerified == 0 {
		return nil, &VerifyError{Line: line, Err: audit.ErrEmptyLog}
	}
	if rep.CheckpointsVerified == 0 {
		return nil, &VerifyError{Line: line, Err: audit.ErrMissingCheckpoint}
	}

	rep.RunID = runID
	rep.LastEventID = lastEventID
	return rep, nil
}

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
