// Package mcplog defines the structured McpLog record the parser emits
// for every correlated JSON-RPC message, and the parser itself.
package mcplog

import (
	"encoding/json"

	"github.com/sentinel-audit/sentinel/pkg/tap"
)

// McpLog is the structured record produced by the parser for one
// JSON-RPC request or response. Field set and names match §3/§4.3
// exactly since they are part of the signable projection hashed into the
// chain.
type McpLog struct {
	RunID         string          `json:"run_id"`
	EventID       uint64          `json:"event_id"`
	ObservedTsMs  int64           `json:"observed_ts_ms"`
	Timestamp     int64           `json:"timestamp"`
	Direction     tap.Direction   `json:"direction"`
	Method        *string         `json:"method,omitempty"`
	RequestID     *string         `json:"request_id,omitempty"`
	LatencyMs     *int64          `json:"latency_ms,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	SessionID     string          `json:"session_id"`
	TraceID       string          `json:"trace_id"`
	SpanID        string          `json:"span_id"`
	ParentSpanID  *string         `json:"parent_span_id,omitempty"`
}
