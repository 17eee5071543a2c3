package restapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wrapped struct {
	Data    json.RawMessage `json:"data"`
	Results json.RawMessage `json:"results"`
}

// decodeResults extracts a list from {"data": [...]}, {"data": {"results":
// [...]}}, or {"results": [...]}. Anything else yields an empty list.
func decodeResults(body []byte, v any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return unmarshal(trimmed, v)
	}

	var w wrapped
	if err := json.Unmarshal(body, &w); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	switch {
	case isArray(w.Data):
		return unmarshal(w.Data, v)
	case isPresent(w.Data):
		var inner wrapped
		if err := json.Unmarshal(w.Data, &inner); err == nil && isArray(inner.Results) {
			return unmarshal(inner.Results, v)
		}
	}
	if isArray(w.Results) {
		return unmarshal(w.Results, v)
	}
	return nil
}

// decodeData extracts an object from {"data": {...}}, falling back to the
// body itself.
func decodeData(body []byte, v any) error {
	var w wrapped
	if err := json.Unmarshal(body, &w); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if isPresent(w.Data) {
		return unmarshal(w.Data, v)
	}
	return unmarshal(body, v)
}

func unmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isPresent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
