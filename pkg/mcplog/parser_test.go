package mcplog

import (
	"testing"

	"github.com/sentinel-audit/sentinel/pkg/tap"
)

// runParser feeds evs through a Parser and returns every emitted McpLog in
// tap order. The output channel is buffered large enough that Run never
// blocks on a send, so it can be driven synchronously like
// tap.Sequencer.Run in sequencer_test.go.
func runParser(t *testing.T, evs []tap.TapEvent) []McpLog {
	t.Helper()

	in := make(chan tap.TapEvent, len(evs))
	out := make(chan McpLog, len(evs))
	for _, ev := range evs {
		in <- ev
	}
	close(in)

	NewParser("run-1", nil).Run(in, out)

	var got []McpLog
	for log := range out {
		got = append(got, log)
	}
	return got
}

// TestParser_SingleCall covers spec §8 scenario 1: one outbound request
// followed by its inbound response. The response must carry the request's
// span_id and a non-negative latency (P9).
func TestParser_SingleCall(t *testing.T) {
	evs := []tap.TapEvent{
		{EventID: 1, Direction: tap.Outbound, Bytes: []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), ObservedTsMs: 1000},
		{EventID: 2, Direction: tap.Inbound, Bytes: []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`), ObservedTsMs: 1005},
	}
	logs := runParser(t, evs)

	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}

	req, resp := logs[0], logs[1]

	if req.Method == nil || *req.Method != "ping" {
		t.Errorf("request: expected method=ping, got %v", req.Method)
	}
	if req.RequestID == nil || *req.RequestID != "1" {
		t.Errorf("request: expected request_id=1, got %v", req.RequestID)
	}
	if req.LatencyMs != nil {
		t.Errorf("request: expected latency_ms=nil, got %v", *req.LatencyMs)
	}
	if req.SpanID == "" {
		t.Errorf("request: expected a minted span_id")
	}
	if req.ParentSpanID != nil {
		t.Errorf("request: expected parent_span_id=nil, got %v", *req.ParentSpanID)
	}

	if resp.RequestID == nil || *resp.RequestID != "1" {
		t.Errorf("response: expected request_id=1, got %v", resp.RequestID)
	}
	if resp.LatencyMs == nil {
		t.Fatalf("response: expected a latency_ms, got nil")
	}
	if *resp.LatencyMs < 0 {
		t.Errorf("response: expected latency_ms >= 0, got %d", *resp.LatencyMs)
	}
	if resp.SpanID != req.SpanID {
		t.Errorf("response: expected span_id %q to match request's, got %q", req.SpanID, resp.SpanID)
	}
	if resp.ParentSpanID != nil {
		t.Errorf("response: expected parent_span_id=nil, got %v", *resp.ParentSpanID)
	}
}

// TestParser_Notification covers spec §8 scenario 2: an outbound message
// with no id is a notification — a fresh span_id, no request_id, and no
// response ever correlates against it.
func TestParser_Notification(t *testing.T) {
	evs := []tap.TapEvent{
		{EventID: 1, Direction: tap.Outbound, Bytes: []byte(`{"jsonrpc":"2.0","method":"progress","params":{"p":1}}`), ObservedTsMs: 1000},
	}
	logs := runParser(t, evs)

	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	log := logs[0]

	if log.Method == nil || *log.Method != "progress" {
		t.Errorf("expected method=progress, got %v", log.Method)
	}
	if log.RequestID != nil {
		t.Errorf("expected request_id=nil, got %v", *log.RequestID)
	}
	if log.LatencyMs != nil {
		t.Errorf("expected latency_ms=nil, got %v", *log.LatencyMs)
	}
	if log.SpanID == "" {
		t.Errorf("expected a minted span_id")
	}
}

// TestParser_OutOfOrderResponses covers spec §8 scenario 3: requests id=1
// then id=2, responses id=2 then id=1. All four taps must produce an
// Event in tap order, and each response must carry the span_id and a
// non-negative latency of its own request regardless of reply order.
func TestParser_OutOfOrderResponses(t *testing.T) {
	evs := []tap.TapEvent{
		{EventID: 1, Direction: tap.Outbound, Bytes: []byte(`{"jsonrpc":"2.0","id":1,"method":"a"}`), ObservedTsMs: 1000},
		{EventID: 2, Direction: tap.Outbound, Bytes: []byte(`{"jsonrpc":"2.0","id":2,"method":"b"}`), ObservedTsMs: 1001},
		{EventID: 3, Direction: tap.Inbound, Bytes: []byte(`{"jsonrpc":"2.0","id":2,"result":{}}`), ObservedTsMs: 1002},
		{EventID: 4, Direction: tap.Inbound, Bytes: []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`), ObservedTsMs: 1003},
	}
	logs := runParser(t, evs)

	if len(logs) != 4 {
		t.Fatalf("expected 4 logs, got %d", len(logs))
	}

	req1, req2, resp2, resp1 := logs[0], logs[1], logs[2], logs[3]

	if req1.RequestID == nil || *req1.RequestID != "1" {
		t.Fatalf("expected first request_id=1, got %v", req1.RequestID)
	}
	if req2.RequestID == nil || *req2.RequestID != "2" {
		t.Fatalf("expected second request_id=2, got %v", req2.RequestID)
	}

	if resp2.RequestID == nil || *resp2.RequestID != "2" {
		t.Errorf("expected third log (response to id=2) request_id=2, got %v", resp2.RequestID)
	}
	if resp2.SpanID != req2.SpanID {
		t.Errorf("expected response to id=2 to carry request 2's span_id %q, got %q", req2.SpanID, resp2.SpanID)
	}
	if resp2.LatencyMs == nil || *resp2.LatencyMs < 0 {
		t.Errorf("expected response to id=2 to have a non-negative latency_ms, got %v", resp2.LatencyMs)
	}

	if resp1.RequestID == nil || *resp1.RequestID != "1" {
		t.Errorf("expected fourth log (response to id=1) request_id=1, got %v", resp1.RequestID)
	}
	if resp1.SpanID != req1.SpanID {
		t.Errorf("expected response to id=1 to carry request 1's span_id %q, got %q", req1.SpanID, resp1.SpanID)
	}
	if resp1.LatencyMs == nil || *resp1.LatencyMs < 0 {
		t.Errorf("expected response to id=1 to have a non-negative latency_ms, got %v", resp1.LatencyMs)
	}

	if req1.SpanID == req2.SpanID {
		t.Errorf("expected distinct span_ids for distinct requests, both were %q", req1.SpanID)
	}
}

// TestParser_EventIDGapWarning covers the §4.2 warning path: a skipped
// event_id (standing in for a dropped non-JSON tap) logs a warning but
// does not otherwise disrupt parsing of the events that do arrive.
func TestParser_EventIDGapWarning(t *testing.T) {
	var warnBuf stringBuilder
	in := make(chan tap.TapEvent, 2)
	out := make(chan McpLog, 2)

	in <- tap.TapEvent{EventID: 1, Direction: tap.Outbound, Bytes: []byte(`{"jsonrpc":"2.0","method":"progress"}`)}
	in <- tap.TapEvent{EventID: 3, Direction: tap.Outbound, Bytes: []byte(`{"jsonrpc":"2.0","method":"progress"}`)}
	close(in)

	NewParser("run-1", &warnBuf).Run(in, out)

	var got []McpLog
	for log := range out {
		got = append(got, log)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 logs despite the gap, got %d", len(got))
	}
	if warnBuf.String() == "" {
		t.Errorf("expected a gap warning to be written")
	}
}

// stringBuilder is a minimal io.Writer capturing written bytes, avoiding a
// bytes.Buffer import solely for this one assertion.
type stringBuilder struct {
	s string
}

func (b *stringBuilder) Write(p []byte) (int, error) {
	b.s += string(p)
	return len(p), nil
}

func (b *stringBuilder) String() string { return b.s }
