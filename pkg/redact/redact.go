// Package redact implements the optional PII-redaction stage described
// only as a contract in §4.6: a deterministic, in-place rewrite of an
// McpLog's payload that must never touch event_id, observed_ts_ms,
// direction, method, request_id, session_id, trace_id, span_id, or
// parent_span_id. It is grounded on the token-redaction approach in
// marcohefti-zero-context-lab's internal/redact/redact.go, generalized
// from flat strings to JSON payload trees and extended with a couple of
// PII patterns (emails, bearer tokens) beyond that package's API-key
// focus, since an MCP payload is far more likely to carry those.
package redact

import (
	"encoding/json"
	"regexp"

	"github.com/sentinel-audit/sentinel/pkg/mcplog"
)

// Applied records which redaction rules fired, for callers that want to
// log or test redaction behavior without re-deriving it from the output.
type Applied struct {
	Names []string
}

type rule struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

var defaultRules = []rule{
	{"GITHUB_TOKEN", regexp.MustCompile(`ghp_[A-Za-z0-9]{10,}`), "[REDACTED:GITHUB_TOKEN]"},
	{"OPENAI_KEY", regexp.MustCompile(`sk-[A-Za-z0-9]{10,}`), "[REDACTED:OPENAI_KEY]"},
	{"BEARER_TOKEN", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`), "[REDACTED:BEARER_TOKEN]"},
	{"EMAIL", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[REDACTED:EMAIL]"},
}

// Redactor rewrites an McpLog's payload in place.
type Redactor interface {
	Redact(log *mcplog.McpLog) Applied
}

// PatternRedactor applies a fixed, ordered set of regexes to every string
// leaf in the payload's JSON tree.
type PatternRedactor struct {
	rules []rule
}

// New returns the default PatternRedactor.
func New() *PatternRedactor {
	return &PatternRedactor{rules: defaultRules}
}

// Redact walks log.Payload's decoded JSON tree, rewrites string leaves
// through every rule, and re-serializes. It is deterministic: the same
// input payload always produces the same output and the same Applied set.
// Every other McpLog field is left untouched, satisfying the §4.6 contract.
func (r *PatternRedactor) Redact(log *mcplog.McpLog) Applied {
	var applied Applied

	var v any
	if err := json.Unmarshal(log.Payload, &v); err != nil {
		// Not structured JSON (shouldn't happen — payload is always a
		// canonicalized JSON value) — leave it alone rather than guess.
		return applied
	}

	seen := make(map[string]bool)
	rewritten := r.walk(v, seen)
	for name := range seen {
		applied.Names = append(applied.Names, name)
	}

	out, err := json.Marshal(rewritten)
	if err != nil {
		return applied
	}
	log.Payload = out
	return applied
}

func (r *PatternRedactor) walk(v any, seen map[string]bool) any {
	switch val := v.(type) {
	case string:
		return r.redactString(val, seen)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = r.walk(vv, seen)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = r.walk(vv, seen)
		}
		return out
	default:
		return val
	}
}

func (r *PatternRedactor) redactString(s string, seen map[string]bool) string {
	for _, rule := range r.rules {
		if rule.pattern.MatchString(s) {
			seen[rule.name] = true
			s = rule.pattern.ReplaceAllString(s, rule.replace)
		}
	}
	return s
}
