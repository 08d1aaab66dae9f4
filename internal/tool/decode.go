package tool

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/harrison/harbor/internal/models"
)

// Int reads an integer payload field. JSON numbers arrive as float64, Go
// fakes usually pass int; both are accepted.
func Int(data map[string]any, key string) (int, error) {
	v, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("field %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("field %q: unexpected type %T", key, v)
	}
}

// IntOr reads an integer field, returning def when it is missing.
func IntOr(data map[string]any, key string, def int) int {
	n, err := Int(data, key)
	if err != nil {
		return def
	}
	return n
}

// Candidates decodes the "candidates" payload of a fodder scan.
// The payload may be a typed slice or the generic form produced by JSON.
func Candidates(data map[string]any) ([]models.FodderCandidate, error) {
	raw, ok := data["candidates"]
	if !ok {
		return nil, nil
	}
	if typed, ok := raw.([]models.FodderCandidate); ok {
		return typed, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}
	var out []models.FodderCandidate
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return out, nil
}
