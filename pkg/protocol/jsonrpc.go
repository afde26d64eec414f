// Package protocol parses the JSON-RPC 2.0 messages carried over the
// stdio dialog between a parent process and an MCP child. It is
// intentionally narrow: it recognizes requests (with or without an id, the
// latter being notifications) and responses, and treats everything else
// as unparseable so the parser stage can skip it silently per §4.2.
package protocol

import "encoding/json"

// MessageKind discriminates the two message shapes the parser cares about.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindRequest
	KindResponse
)

// JsonRpcMessage is a parsed JSON-RPC 2.0 envelope. Request and Response
// fields are populated according to Kind; Go has no tagged-union sugar, so
// this struct plays that role directly, mirroring how the original
// implementation's serde-tagged enum is consumed one variant at a time.
type JsonRpcMessage struct {
	Kind MessageKind

	// Request fields.
	Method string
	ID     *json.RawMessage // nil for notifications
	Params json.RawMessage

	// Response fields.
	ResponseID *json.RawMessage
	Result     json.RawMessage
	Error      json.RawMessage
}

type wireMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	Method  *string          `json:"method"`
	ID      *json.RawMessage `json:"id"`
	Params  json.RawMessage  `json:"params"`
	Result  json.RawMessage  `json:"result"`
	Error   json.RawMessage  `json:"error"`
}

// Parse attempts to interpret raw as a JSON-RPC 2.0 request or response.
// It returns ok=false for anything that isn't valid JSON or doesn't match
// either shape — the caller (the parser stage) silently drops those lines.
func Parse(raw []byte) (JsonRpcMessage, bool) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return JsonRpcMessage{}, false
	}

	switch {
	case w.Method != nil:
		return JsonRpcMessage{
			Kind:   KindRequest,
			Method: *w.Method,
			ID:     w.ID,
			Params: w.Params,
		}, true
	case w.Result != nil || w.Error != nil || w.ID != nil:
		return JsonRpcMessage{
			Kind:       KindResponse,
			ResponseID: w.ID,
			Result:     w.Result,
			Error:      w.Error,
		}, true
	default:
		return JsonRpcMessage{}, false
	}
}

// IDString renders a raw JSON-RPC id (number or string) as a stable map
// key for the parser's pending-request table.
func IDString(id *json.RawMessage) string {
	if id == nil {
		return ""
	}
	return string(*id)
}
