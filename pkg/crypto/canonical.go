package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalMarshal marshals v into compact, non-HTML-escaped JSON with no
// trailing newline. Map keys come out lexicographically sorted because
// encoding/json sorts the keys of every map it encodes, at any nesting
// level; entry hashing runs decoded payloads through CanonicalizeValue
// first, which fixes that same key order explicitly.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "")

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	ret := buf.Bytes()
	if len(ret) > 0 && ret[len(ret)-1] == '\n' {
		ret = ret[:len(ret)-1]
	}
	return ret, nil
}

// CanonicalizeValue recursively rewrites v (as produced by
// json.Unmarshal(..., &any{}) or built from map[string]any/[]any literals)
// into a form whose object keys are sorted at every nesting level. Arrays
// keep their element order. This mirrors canonicalize_value from the
// original audit log implementation and is what entry hashing runs payload
// values through before computing signable bytes.
func CanonicalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(sortedMap, 0, len(keys))
		for _, k := range keys {
			out = append(out, sortedEntry{key: k, value: CanonicalizeValue(val[k])})
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CanonicalizeValue(e)
		}
		return out
	default:
		return val
	}
}

// sortedMap preserves explicit key order through json.Marshal, which would
// otherwise re-sort a map[string]any itself (harmless here since we already
// sorted, but we need MarshalJSON to emit keys in our chosen order rather
// than re-deriving it, and to do so without re-introducing Go's map
// iteration nondeterminism for equal-looking but differently-built values).
type sortedEntry struct {
	key   string
	value any
}

type sortedMap []sortedEntry

func (m sortedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(e.key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := CanonicalMarshal(e.value)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
