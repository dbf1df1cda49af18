// Package canonical produces deterministic JSON for the evidence export
// envelope (internal/export). It is never used on the signing path — that
// path uses the frozen binary layout in internal/evidence instead. This is
// a best-effort deterministic encoding for downstream consumers who read
// the export stream, not a signing pre-image.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// MarshalCanonical renders v as deterministic JSON: object keys sorted
// lexicographically, array order preserved, primitives encoded via
// encoding/json. Values outside the JSON-like set (maps, slices, numbers,
// strings, bools, nil) are round-tripped through encoding/json first, with
// numbers kept as json.Number so large integers survive unchanged.
func MarshalCanonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		buf.WriteString(val.String())
		return nil
	case string, float64:
		return writePrimitive(buf, val)
	case []interface{}:
		return writeArray(buf, val)
	case map[string]interface{}:
		return writeObject(buf, val)
	default:
		normalized, err := normalize(val)
		if err != nil {
			return err
		}
		return writeValue(buf, normalized)
	}
}

func writePrimitive(buf *bytes.Buffer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func writeArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writePrimitive(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// normalize round-trips an arbitrary Go value through encoding/json into
// the JSON-like type set writeValue handles directly.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: normalize %T: %w", v, err)
	}
	return out, nil
}
