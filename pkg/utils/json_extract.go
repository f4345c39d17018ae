package utils

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSONObject is returned when model output contains no decodable JSON object
var ErrNoJSONObject = errors.New("no JSON object found in model output")

// StripCodeFence removes a surrounding Markdown code block if present
func StripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

// ExtractJSONObject decodes the first JSON object found in model output into
// a generic map. Fenced blocks and surrounding prose are tolerated.
func ExtractJSONObject(text string) (map[string]any, error) {
	cleaned := StripCodeFence(text)
	if cleaned == "" {
		return nil, ErrNoJSONObject
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	// Fence in the middle of prose
	if start := strings.Index(cleaned, "```"); start >= 0 {
		rest := cleaned[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &out); err == nil {
				return out, nil
			}
		}
	}

	if candidate, ok := firstBalancedObject(cleaned); ok {
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return out, nil
		}
	}
	return nil, ErrNoJSONObject
}

// DecodeJSONObject extracts the first JSON object and decodes it into v
func DecodeJSONObject(text string, v any) error {
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// firstBalancedObject scans for the first {...} span with balanced braces,
// ignoring braces inside string literals.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
