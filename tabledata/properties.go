package tabledata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// NormalizeProperties converts property values into their stored JSON
// shapes: times become UTC RFC 3339 strings and Guids canonical strings.
// Only scalar values are accepted.
func NormalizeProperties(props map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for name, value := range props {
		normalized, err := normalizePropertyValue(value)
		if err != nil {
			return nil, fmt.Errorf("%w: property %q: %v", ErrInvalidEntity, name, err)
		}
		out[name] = normalized
	}
	return out, nil
}

func normalizePropertyValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("non-finite float %v", v)
		}
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite float %v", v)
		}
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case uuid.UUID:
		return v.String(), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported property type %T", value)
	}
}

// EncodeProperties returns the JSON document stored for props.
func EncodeProperties(props map[string]any) ([]byte, error) {
	normalized, err := NormalizeProperties(props)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// DecodeProperties parses a stored JSON document. Numbers are kept as
// json.Number so Int64 values do not lose precision.
func DecodeProperties(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return out, nil
}
