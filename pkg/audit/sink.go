package audit

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	sentcrypto "github.com/sentinel-audit/sentinel/pkg/crypto"
	"github.com/sentinel-audit/sentinel/pkg/mcplog"
)

// Sink is the single-writer audit log appender described in §4.5. It owns
// the running chain tip, the per-checkpoint event counter, and — in
// encrypted mode — the run's DEK. Callers drive it from one goroutine (the
// sink stage of the pipeline); the mutex exists only so a shutdown signal
// handler can call Close concurrently with an in-flight WriteEvent without
// corrupting the writer, matching the teacher's receiptStore pattern.
type Sink struct {
	mu sync.Mutex

	w               *bufio.Writer
	closer          io.Closer
	runID           string
	checkpointEvery int
	signer          sentcrypto.Signer

	prevHash    [32]byte
	lastEventID uint64
	haveEvent   bool
	sinceCP     int

	encrypted          bool
	dek                *sentcrypto.DataKey
	encryptTo          *[32]byte
	checkpointsWritten int
}

// Option configures optional sink behavior at Open time.
type Option func(*Sink)

// WithSigner enables checkpoint writing; without one, MaybeWriteCheckpoint
// and the shutdown checkpoint are silently no-ops, matching §4.5's "a
// signing key is configured" guard.
func WithSigner(s sentcrypto.Signer) Option {
	return func(sink *Sink) { sink.signer = s }
}

// WithEncryption switches the sink into encrypted mode: a fresh DEK is
// generated and wrapped for recipientPub, written as the first KeyEnvelope
// line, and every subsequent record is sealed under it.
func WithEncryption(recipientPub [32]byte) Option {
	return func(sink *Sink) { sink.encryptTo = &recipientPub }
}

// Open creates a Sink writing to w (typically a freshly created/truncated
// file), writes the KeyEnvelope line first if encryption is requested, and
// returns the ready sink. closer, if non-nil, is closed by Close after the
// final flush.
func Open(w io.Writer, closer io.Closer, runID string, checkpointEvery int, opts ...Option) (*Sink, error) {
	s := &Sink{
		w:               bufio.NewWriter(w),
		closer:          closer,
		runID:           runID,
		checkpointEvery: checkpointEvery,
		prevHash:        ZeroHash,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.encryptTo != nil {
		dek, err := sentcrypto.NewDataKey()
		if err != nil {
			return nil, fmt.Errorf("%w: generate dek: %v", ErrIoError, err)
		}
		env, err := sentcrypto.BuildEnvelope(runID, *s.encryptTo, dek)
		if err != nil {
			return nil, fmt.Errorf("crypto failure at open: %w", err)
		}
		line, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal key envelope: %v", ErrSerializationError, err)
		}
		if _, err := s.w.Write(append(line, '\n')); err != nil {
			return nil, fmt.Errorf("%w: write key envelope: %v", ErrIoError, err)
		}
		s.dek = dek
		s.encrypted = true
	}

	return s, nil
}

// WriteEvent computes entry_hash, builds an Event record (encrypting it in
// place if the sink is in encrypted mode), and appends one JSONL line. A
// serialization or I/O error is returned to the caller without advancing
// the chain, so the next successful write still chains off the last
// successful one (§4.5 failure semantics).
func (s *Sink) WriteEvent(log mcplog.McpLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := EntryHash(s.prevHash, log)
	if err != nil {
		return fmt.Errorf("%w: compute entry hash: %v", ErrSerializationError, err)
	}

	rec := EventRecord{
		RecordType: "Event",
		Log:        log,
		Integrity: IntegrityFields{
			PrevHashB64:  b64(s.prevHash),
			EntryHashB64: b64(hash),
			HashAlg:      "blake3",
			Version:      1,
		},
	}

	if err := s.writeRecord(rec, "Event"); err != nil {
		return err
	}

	s.prevHash = hash
	s.lastEventID = log.EventID
	s.haveEvent = true
	s.sinceCP++
	return nil
}

// MaybeWriteCheckpoint writes a signed checkpoint if at least
// checkpointEvery events have been written since the last one and a
// signing key is configured, then resets the counter.
func (s *Sink) MaybeWriteCheckpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil || s.sinceCP < s.checkpointEvery {
		return nil
	}
	return s.writeCheckpointLocked()
}

// Flush flushes the underlying writer.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close writes a final checkpoint covering the current tip — even if the
// interval wasn't reached — provided at least one event was written, then
// flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dek != nil {
		defer s.dek.Zero()
	}

	var checkpointErr error
	if s.signer != nil && s.haveEvent {
		checkpointErr = s.writeCheckpointLocked()
	}

	flushErr := s.w.Flush()

	var closeErr error
	if s.closer != nil {
		closeErr = s.closer.Close()
	}

	if checkpointErr != nil {
		return checkpointErr
	}
	if flushErr != nil {
		return fmt.Errorf("%w: flush: %v", ErrIoError, flushErr)
	}
	return closeErr
}

// WroteCheckpoint reports whether at least one checkpoint was ever written
// by this sink, for the run process's shutdown status line (§7).
func (s *Sink) WroteCheckpoint() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointsWritten > 0
}

func (s *Sink) writeCheckpointLocked() error {
	cp := CheckpointRecord{
		RecordType:       "Checkpoint",
		RunID:            s.runID,
		CreatedTsMs:      time.Now().UnixMilli(),
		LastEventID:      s.lastEventID,
		LastEntryHashB64: b64(s.prevHash),
		KeyID:            s.signer.KeyID(),
		HashAlg:          "blake3",
		SigAlg:           "ed25519",
		Version:          1,
	}

	preimage := CheckpointPreimage(s.runID, s.lastEventID, s.prevHash)
	sig, err := s.signer.Sign(preimage[:])
	if err != nil {
		return fmt.Errorf("crypto failure signing checkpoint: %w", err)
	}
	cp.SignatureB64 = base64.StdEncoding.EncodeToString(sig)

	if err := s.writeRecord(cp, "Checkpoint"); err != nil {
		return err
	}
	s.sinceCP = 0
	s.checkpointsWritten++
	return nil
}

// writeRecord serializes rec with json.Marshal, encrypts it if the sink is
// in encrypted mode (AAD = "<run_id>|<innerType>"), and appends the line.
func (s *Sink) writeRecord(rec any, innerType string) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal %s record: %v", ErrSerializationError, innerType, err)
	}

	if s.encrypted {
		encRec, err := sentcrypto.EncryptRecord(s.dek, s.runID, innerType, line)
		if err != nil {
			return fmt.Errorf("crypto failure encrypting %s record: %w", innerType, err)
		}
		line, err = json.Marshal(encRec)
		if err != nil {
			return fmt.Errorf("%w: marshal encrypted %s record: %v", ErrSerializationError, innerType, err)
		}
	}

	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: write %s record: %v", ErrIoError, innerType, err)
	}
	return nil
}
