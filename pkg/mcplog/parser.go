package mcplog

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-audit/sentinel/pkg/crypto"
	"github.com/sentinel-audit/sentinel/pkg/protocol"
	"github.com/sentinel-audit/sentinel/pkg/tap"
)

// pendingRequest tracks an outstanding outbound request so a later inbound
// response can be correlated and timed.
type pendingRequest struct {
	spanID string
	start  time.Time
}

// Parser consumes TapEvents, parses each as a JSON-RPC message, and emits
// McpLog records with correlated span identity and latency, per §4.2. It
// is single-task: the pending-request table is unsynchronized and must
// only be driven by one goroutine (Run).
//
// session_id and trace_id are not separately specified by the wire
// protocol this parses; this implementation mints one random session_id
// and one random trace_id per Parser (i.e. per run), since there is no
// distributed context propagating across the stdio boundary to carry a
// richer trace — every call in a run belongs to the same trace, and
// span_id is the only identifier that varies per logical request/response
// pair.
type Parser struct {
	runID     string
	sessionID string
	traceID   string
	pending   map[string]pendingRequest
	warn      io.Writer
	lastID    uint64
	haveLast  bool
}

// NewParser creates a Parser bound to one run.
func NewParser(runID string, warn io.Writer) *Parser {
	return &Parser{
		runID:     runID,
		sessionID: uuid.NewString(),
		traceID:   uuid.NewString(),
		pending:   make(map[string]pendingRequest),
		warn:      warn,
	}
}

// Run drains in, parses each TapEvent, and sends every emitted McpLog to
// out. It closes out when in is closed, completing the orderly-shutdown
// chain described in §5.
func (p *Parser) Run(in <-chan tap.TapEvent, out chan<- McpLog) {
	defer close(out)
	for ev := range in {
		p.checkGap(ev.EventID)
		if log, ok := p.handle(ev); ok {
			out <- log
		}
	}
}

func (p *Parser) checkGap(id uint64) {
	if p.haveLast && id != p.lastID+1 && p.warn != nil {
		fmt.Fprintf(p.warn, "sentinel: parser: event_id gap, expected %d got %d (dropped non-JSON tap)\n", p.lastID+1, id)
	}
	p.lastID = id
	p.haveLast = true
}

func (p *Parser) handle(ev tap.TapEvent) (McpLog, bool) {
	msg, ok := protocol.Parse(ev.Bytes)
	if !ok {
		return McpLog{}, false
	}

	switch {
	case ev.Direction == tap.Outbound && msg.Kind == protocol.KindRequest:
		return p.handleRequest(ev, msg), true
	case ev.Direction == tap.Inbound && msg.Kind == protocol.KindResponse:
		return p.handleResponse(ev, msg), true
	default:
		return McpLog{}, false
	}
}

func (p *Parser) handleRequest(ev tap.TapEvent, msg protocol.JsonRpcMessage) McpLog {
	spanID := uuid.NewString()

	var reqID *string
	if msg.ID != nil {
		idStr := protocol.IDString(msg.ID)
		reqID = &idStr
		p.pending[idStr] = pendingRequest{spanID: spanID, start: time.Now()}
	}

	method := msg.Method
	return McpLog{
		RunID:        p.runID,
		EventID:      ev.EventID,
		ObservedTsMs: ev.ObservedTsMs,
		Timestamp:    time.Now().UnixMilli(),
		Direction:    ev.Direction,
		Method:       &method,
		RequestID:    reqID,
		LatencyMs:    nil,
		Payload:      canonicalPayload(ev.Bytes),
		SessionID:    p.sessionID,
		TraceID:      p.traceID,
		SpanID:       spanID,
		ParentSpanID: nil,
	}
}

func (p *Parser) handleResponse(ev tap.TapEvent, msg protocol.JsonRpcMessage) McpLog {
	var spanID string
	var latency *int64
	var reqID *string

	if msg.ResponseID != nil {
		idStr := protocol.IDString(msg.ResponseID)
		reqID = &idStr
		if pending, found := p.pending[idStr]; found {
			delete(p.pending, idStr)
			spanID = pending.spanID
			ms := time.Since(pending.start).Milliseconds()
			latency = &ms
		}
	}
	if spanID == "" {
		spanID = uuid.NewString()
	}

	return McpLog{
		RunID:        p.runID,
		EventID:      ev.EventID,
		ObservedTsMs: ev.ObservedTsMs,
		Timestamp:    time.Now().UnixMilli(),
		Direction:    ev.Direction,
		Method:       nil,
		RequestID:    reqID,
		LatencyMs:    latency,
		Payload:      canonicalPayload(ev.Bytes),
		SessionID:    p.sessionID,
		TraceID:      p.traceID,
		SpanID:       spanID,
		ParentSpanID: nil, // responses are not their own parents, per §4.2
	}
}

// canonicalPayload decodes the tapped JSON line and re-renders it with
// recursively sorted object keys, so the payload stored in the log is
// already in the form the entry hash will be computed over (§3 invariant 3).
func canonicalPayload(raw []byte) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage(raw)
	}
	canon, err := crypto.CanonicalMarshal(crypto.CanonicalizeValue(v))
	if err != nil {
		return json.RawMessage(raw)
	}
	return json.RawMessage(canon)
}
