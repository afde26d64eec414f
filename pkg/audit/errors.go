package audit

import "errors"

// Error kinds from §7. The sink treats SerializationError/IoError as
// per-record and recoverable (skip, don't advance the chain); the
// verifier treats every one of these as fatal and reports the record's
// line number alongside it.
var (
	ErrChainMismatch      = errors.New("chain mismatch")
	ErrIdGap              = errors.New("event id gap")
	ErrRunIdMismatch      = errors.New("run id mismatch")
	ErrKeyIdMismatch      = errors.New("key id mismatch")
	ErrMissingCheckpoint  = errors.New("missing checkpoint")
	ErrEmptyLog           = errors.New("empty log")
	ErrIoError            = errors.New("io error")
	ErrSerializationError = errors.New("serialization error")

	errBadHashLength = errors.New("hash must decode to 32 bytes")
)
