package execute

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalize re-renders a JSON value deterministically: object keys sorted,
// no insignificant whitespace, number formatting preserved.
func canonicalize(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	return renderCanonical(v), nil
}

func renderCanonical(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case json.Number:
		return t.String()
	case string:
		quoted, _ := json.Marshal(t)
		return string(quoted)
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(renderCanonical(e))
		}
		buf.WriteByte(']')
		return buf.String()
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			quoted, _ := json.Marshal(k)
			buf.Write(quoted)
			buf.WriteByte(':')
			buf.WriteString(renderCanonical(t[k]))
		}
		buf.WriteByte('}')
		return buf.String()
	default:
		return "null"
	}
}

// strictEqual compares two values under canonical-JSON equality.
func strictEqual(expected, actual json.RawMessage) (bool, error) {
	e, err := canonicalize(expected)
	if err != nil {
		return false, fmt.Errorf("expected output: %w", err)
	}
	a, err := canonicalize(actual)
	if err != nil {
		return false, fmt.Errorf("actual output: %w", err)
	}
	return e == a, nil
}

// unorderedEqual compares two arrays as multisets of their canonicalized
// elements.
func unorderedEqual(expected, actual json.RawMessage) (bool, error) {
	e, err := elementStrings(expected)
	if err != nil {
		return false, fmt.Errorf("expected output: %w", err)
	}
	a, err := elementStrings(actual)
	if err != nil {
		return false, fmt.Errorf("actual output: %w", err)
	}
	if len(e) != len(a) {
		return false, nil
	}
	sort.Strings(e)
	sort.Strings(a)
	for i := range e {
		if e[i] != a[i] {
			return false, nil
		}
	}
	return true, nil
}

// setEqual compares arrays-of-arrays: each inner array is sorted
// element-wise, the outer collection is deduplicated then sorted.
func setEqual(expected, actual json.RawMessage) (bool, error) {
	e, err := setStrings(expected)
	if err != nil {
		return false, fmt.Errorf("expected output: %w", err)
	}
	a, err := setStrings(actual)
	if err != nil {
		return false, fmt.Errorf("actual output: %w", err)
	}
	if len(e) != len(a) {
		return false, nil
	}
	for i := range e {
		if e[i] != a[i] {
			return false, nil
		}
	}
	return true, nil
}

func decodeArray(raw json.RawMessage) ([]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a JSON array, got %s", string(raw))
	}
	return arr, nil
}

func elementStrings(raw json.RawMessage) ([]string, error) {
	arr, err := decodeArray(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		out[i] = renderCanonical(e)
	}
	return out, nil
}

func setStrings(raw json.RawMessage) ([]string, error) {
	arr, err := decodeArray(raw)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(arr))
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		inner, ok := e.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected nested arrays, got %v", e)
		}
		parts := make([]string, len(inner))
		for j, el := range inner {
			parts[j] = renderCanonical(el)
		}
		sort.Strings(parts)
		key := "[" + joinComma(parts) + "]"
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func joinComma(parts []string) string {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(p)
	}
	return buf.String()
}
