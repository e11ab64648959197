// Package canon implements deterministic JSON canonicalization.
//
// Canonical bytes are the only payload this module ever signs, and the
// only form in which it hashes structured values (the frontier proof
// hashes a raw "nonce:runId" string instead).
// Any divergence between implementations here breaks signature and hash
// portability across the whole engine — see the invariants in
// internal/supervisorcrypto.
package canon

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Marshal produces the canonical byte representation of v: object keys
// sorted, array order preserved, numbers rendered deterministically, and
// no trailing whitespace. v must be JSON-safe (the result of
// json.Unmarshal into interface{}, or directly a map[string]any /
// []any / string / float64 / bool / nil).
func Marshal(v any) ([]byte, error) {
	var buf []byte
	buf, err := appendValue(buf, v, make([]uintptr, 0, 8))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalStruct round-trips v through encoding/json first so ordinary Go
// structs (with json tags) can be canonicalized the same way dynamic
// map[string]any payloads are.
func MarshalStruct(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal struct: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("canon: decode struct json: %w", err)
	}
	return Marshal(decoded)
}

// errCycle is returned when appendValue detects a reference cycle.
// Canonicalization has no use for cyclic graphs — the orchestrator never
// builds one (see spec §9) — so this is purely a defensive stop against a
// caller that hand-assembled a self-referential map or slice.
type errCycle struct{}

func (errCycle) Error() string { return "canon: cyclic value" }

func appendValue(buf []byte, v any, seen []uintptr) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if t {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		return appendString(buf, t), nil
	case float64:
		return appendNumber(buf, t)
	case int:
		return appendNumber(buf, float64(t))
	case int64:
		return appendNumber(buf, float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("canon: invalid json.Number %q: %w", string(t), err)
		}
		return appendNumber(buf, f)
	case map[string]any:
		ptr := reflect.ValueOf(t).Pointer()
		for _, s := range seen {
			if s == ptr {
				return nil, errCycle{}
			}
		}
		return appendObject(buf, t, append(seen, ptr))
	case []any:
		if t == nil {
			return append(buf, "null"...), nil
		}
		ptr := reflect.ValueOf(t).Pointer()
		for _, s := range seen {
			if s == ptr {
				return nil, errCycle{}
			}
		}
		return appendArray(buf, t, append(seen, ptr))
	default:
		return nil, fmt.Errorf("canon: unsupported type %T", v)
	}
}

func appendObject(buf []byte, obj map[string]any, seen []uintptr) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendString(buf, k)
		buf = append(buf, ':')
		var err error
		buf, err = appendValue(buf, obj[k], seen)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func appendArray(buf []byte, arr []any, seen []uintptr) ([]byte, error) {
	buf = append(buf, '[')
	for i, v := range arr {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = appendValue(buf, v, seen)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, ']')
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	out, _ := json.Marshal(s)
	return append(buf, out...)
}

func appendNumber(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canon: non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(buf, int64(f), 10), nil
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
}

// CountNumerics walks v (the decoded JSON tree) and counts finite numeric
// leaves anywhere in the tree. Used by the quality gate's
// minNumericCount check.
func CountNumerics(v any) int {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return 1
	case int, int64:
		return 1
	case json.Number:
		if _, err := t.Float64(); err == nil {
			return 1
		}
		return 0
	case map[string]any:
		n := 0
		for _, vv := range t {
			n += CountNumerics(vv)
		}
		return n
	case []any:
		n := 0
		for _, vv := range t {
			n += CountNumerics(vv)
		}
		return n
	default:
		return 0
	}
}

// Decode parses raw JSON bytes into the dynamic shape Marshal/CountNumerics
// expect (map[string]any / []any / string / float64 / bool / nil).
func Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	return v, nil
}
