// Package tap defines the raw byte-line records produced by the (external)
// stdio-forwarding loop and the sequencer that turns them into a single
// totally ordered stream for the parser.
package tap

// Direction identifies which side of the proxied dialog a line came from.
type Direction string

const (
	Inbound  Direction = "Inbound"  // child -> parent
	Outbound Direction = "Outbound" // parent -> child
)

// RawTap is one observed JSON-RPC line, captured by the external tap
// producer after it has already been forwarded to its peer.
type RawTap struct {
	Direction    Direction
	Bytes        []byte
	ObservedTsMs int64
}

// TapEvent is a RawTap stamped with a dense, monotonic event_id. The
// sequencer is the only component allowed to assign these.
type TapEvent struct {
	EventID      uint64
	Direction    Direction
	Bytes        []byte
	ObservedTsMs int64
}
