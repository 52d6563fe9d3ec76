// Package codec implements the canonical, self-describing-object
// encoding used to write job arguments and outputs through the store.
// Beyond plain JSON it supports time values, enumerations, and any type
// that registers itself under a class identifier so that decoding can
// reconstruct the original Go value.
package codec

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ClassField is the reserved key carrying a value's class identifier
// in its encoded form.
const ClassField = "@class"

// Encoder converts a registered Go value into its dict representation.
// ok is false if v is not an instance this encoder handles.
type Encoder func(v any) (fields map[string]any, ok bool)

// Decoder reconstructs a Go value from the fields previously produced
// by the matching Encoder (the @class field itself already stripped).
type Decoder func(fields map[string]any) (any, error)

type classReg struct {
	encode Encoder
	decode Decoder
}

var (
	mu      sync.RWMutex
	byClass = map[string]classReg{}
	// encoders is tried in registration order; the first Encoder that
	// returns ok=true wins.
	encoders []struct {
		class string
		enc   Encoder
	}
)

// RegisterClass installs the encode/decode pair for a class identifier.
// Call from an init() in the package that owns the Go type; registration
// order among unrelated classes does not matter, but encoders are tried
// in registration order so register more specific types before more
// general ones that might also accept them.
func RegisterClass(class string, enc Encoder, dec Decoder) {
	mu.Lock()
	defer mu.Unlock()
	byClass[class] = classReg{encode: enc, decode: dec}
	encoders = append(encoders, struct {
		class string
		enc   Encoder
	}{class, enc})
}

// Encode converts an arbitrary Go value into a JSON-marshalable tree,
// routing through registered class encoders for anything that isn't a
// JSON primitive, map, or slice.
func Encode(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int, int64, float64:
		return x, nil
	case time.Time:
		return map[string]any{ClassField: "DateTime", "value": x.Format(time.RFC3339Nano)}, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, sub := range x {
			ev, err := Encode(sub)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, sub := range x {
			ev, err := Encode(sub)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}

	mu.RLock()
	defer mu.RUnlock()
	for _, c := range encoders {
		if fields, ok := c.enc(v); ok {
			out := make(map[string]any, len(fields)+1)
			out[ClassField] = c.class
			for k, val := range fields {
				ev, err := Encode(val)
				if err != nil {
					return nil, err
				}
				out[k] = ev
			}
			return out, nil
		}
	}

	// Fall back to a plain JSON round-trip for ordinary structs so
	// unregistered types still serialize rather than fail outright.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: no encoder for %T: %w", v, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("codec: round-trip decode of %T: %w", v, err)
	}
	return generic, nil
}

// Decode inverts Encode: plain JSON structures pass through, and any
// map carrying @class is routed to its registered Decoder.
func Decode(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if class, ok := x[ClassField].(string); ok {
			mu.RLock()
			reg, known := byClass[class]
			mu.RUnlock()
			if !known {
				return nil, fmt.Errorf("codec: unknown class %q", class)
			}
			fields := make(map[string]any, len(x)-1)
			for k, sub := range x {
				if k == ClassField {
					continue
				}
				dv, err := Decode(sub)
				if err != nil {
					return nil, err
				}
				fields[k] = dv
			}
			return reg.decode(fields)
		}
		out := make(map[string]any, len(x))
		for k, sub := range x {
			dv, err := Decode(sub)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, sub := range x {
			dv, err := Decode(sub)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return v, nil
	}
}

func init() {
	// MontyDict sentinels reach the codec unresolved when a query asks
	// for sentinels rather than hydrated content (load=false); decode
	// them back to a plain map rather than erroring on an unknown class.
	RegisterClass("MontyDict",
		func(v any) (map[string]any, bool) { return nil, false },
		func(fields map[string]any) (any, error) {
			fields[ClassField] = "MontyDict"
			return fields, nil
		},
	)
	RegisterClass("DateTime",
		func(v any) (map[string]any, bool) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, false
			}
			return map[string]any{"value": t.Format(time.RFC3339Nano)}, true
		},
		func(fields map[string]any) (any, error) {
			s, _ := fields["value"].(string)
			return time.Parse(time.RFC3339Nano, s)
		},
	)
}

// MarshalJSON encodes v through the class registry and then to JSON
// text, the form every DocStore backend persists.
func MarshalJSON(v any) (json.RawMessage, error) {
	encoded, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(encoded)
}

// UnmarshalJSON inverts MarshalJSON.
func UnmarshalJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return Decode(generic)
}
