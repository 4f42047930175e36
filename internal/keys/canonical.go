package keys

import (
	"encoding/json"
	"sort"
)

// canonicalize produces a deterministic JSON rendering of a value. Object
// keys are emitted in sorted order at every level of nesting, so two maps
// with the same contents always serialize identically. Scalar values use
// the standard JSON encoding.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []byte("{")
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}

		encoded, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
		out = append(out, ':')

		value, err := canonicalize(m[name])
		if err != nil {
			return nil, err
		}
		out = append(out, value...)
	}
	out = append(out, '}')

	return out, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	out := []byte("[")
	for i, item := range s {
		if i > 0 {
			out = append(out, ',')
		}

		value, err := canonicalize(item)
		if err != nil {
			return nil, err
		}
		out = append(out, value...)
	}
	out = append(out, ']')

	return out, nil
}
