// Package audit implements the hash-chained, optionally encrypted JSONL
// audit sink described in §3/§4.3–§4.5, grounded on the original
// audit.rs/audit_crypto.rs record shapes and hash-chain rule, re-expressed
// in Go.
package audit

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	sentcrypto "github.com/sentinel-audit/sentinel/pkg/crypto"
	"github.com/sentinel-audit/sentinel/pkg/mcplog"
)

// ZeroHash is the 32 zero bytes used as prev_hash before the first event.
var ZeroHash [32]byte

// IntegrityFields is the per-event chain metadata attached to every Event
// record (§3).
type IntegrityFields struct {
	PrevHashB64  string `json:"prev_hash_b64"`
	EntryHashB64 string `json:"entry_hash_b64"`
	HashAlg      string `json:"hash_alg"` // "blake3"
	Version      int    `json:"version"`
}

// EventRecord is the on-disk shape of a logged McpLog (§3 AuditRecord::Event).
type EventRecord struct {
	RecordType string          `json:"record_type"` // "Event"
	Log        mcplog.McpLog   `json:"log"`
	Integrity  IntegrityFields `json:"integrity"`
}

// CheckpointRecord is a signed chain-tip attestation (§3 AuditRecord::Checkpoint).
type CheckpointRecord struct {
	RecordType       string `json:"record_type"` // "Checkpoint"
	RunID            string `json:"run_id"`
	CreatedTsMs      int64  `json:"created_ts_ms"`
	LastEventID      uint64 `json:"last_event_id"`
	LastEntryHashB64 string `json:"last_entry_hash_b64"`
	SignatureB64     string `json:"signature_b64"`
	KeyID            string `json:"key_id"`
	HashAlg          string `json:"hash_alg"` // "blake3"
	SigAlg           string `json:"sig_alg"`  // "ed25519"
	Version          int    `json:"version"`
}

// signableMcpLog is the deterministic field projection hashed into the
// chain. Field order here IS the serialization order (§4.3) — Go struct
// field order drives json.Marshal's output order, so this ordering must
// never be reshuffled.
type signableMcpLog struct {
	RunID        string          `json:"run_id"`
	EventID      uint64          `json:"event_id"`
	ObservedTsMs int64           `json:"observed_ts_ms"`
	Timestamp    int64           `json:"timestamp"`
	Direction    string          `json:"direction"`
	Method       *string         `json:"method"`
	RequestID    *string         `json:"request_id"`
	LatencyMs    *int64          `json:"latency_ms"`
	Payload      json.RawMessage `json:"payload"`
	SessionID    string          `json:"session_id"`
	TraceID      string          `json:"trace_id"`
	SpanID       string          `json:"span_id"`
	ParentSpanID *string         `json:"parent_span_id"`
}

// SignableBytes renders the canonical, hash-input serialization of log:
// the exact field projection and order from §4.3 with payload passed
// through recursive key sorting.
func SignableBytes(log mcplog.McpLog) ([]byte, error) {
	var payload any
	if err := json.Unmarshal(log.Payload, &payload); err != nil {
		payload = log.Payload
	} else {
		payload = sentcrypto.CanonicalizeValue(payload)
	}

	canonPayload, err := sentcrypto.CanonicalMarshal(payload)
	if err != nil {
		return nil, err
	}

	s := signableMcpLog{
		RunID:        log.RunID,
		EventID:      log.EventID,
		ObservedTsMs: log.ObservedTsMs,
		Timestamp:    log.Timestamp,
		Direction:    string(log.Direction),
		Method:       log.Method,
		RequestID:    log.RequestID,
		LatencyMs:    log.LatencyMs,
		Payload:      json.RawMessage(canonPayload),
		SessionID:    log.SessionID,
		TraceID:      log.TraceID,
		SpanID:       log.SpanID,
		ParentSpanID: log.ParentSpanID,
	}
	return sentcrypto.CanonicalMarshal(s)
}

// EntryHash computes entry_hash = blake3(prev_hash || signable_bytes), §4.3.
func EntryHash(prevHash [32]byte, log mcplog.McpLog) ([32]byte, error) {
	signable, err := SignableBytes(log)
	if err != nil {
		return [32]byte{}, err
	}
	return sentcrypto.Blake3MultiSum32(prevHash[:], signable), nil
}

// CheckpointPreimage computes the deterministic signing preimage for a
// checkpoint, §4.4: blake3(run_id_utf8 || last_event_id_le_u64 || last_entry_hash).
func CheckpointPreimage(runID string, lastEventID uint64, lastEntryHash [32]byte) [32]byte {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], lastEventID)
	return sentcrypto.Blake3MultiSum32([]byte(runID), idBuf[:], lastEntryHash[:])
}

func b64(h [32]byte) string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// DecodeHash32 decodes a base64 32-byte hash field, returning
// errBadHashLength if the decoded length is wrong; that error does not wrap
// ErrSerializationError (the verifier adds that wrapping itself). Exported
// for the verifier, which replays these same fields.
func DecodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, errBadHashLength
	}
	copy(out[:], raw)
	return out, nil
}
