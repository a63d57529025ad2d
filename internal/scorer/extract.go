package scorer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON locates a JSON object embedded in raw LLM output and returns it
// verbatim. Tolerates leading/trailing prose, ```json fences, and noise after
// the object. Returns a *ParseError when no balanced object can be found.
func ExtractJSON(raw string) (string, error) {
	s := raw

	// Prefer the content of a code fence when one is present.
	if strings.Contains(s, "```") {
		for _, block := range strings.Split(s, "```") {
			trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(block), "json"))
			if strings.HasPrefix(trimmed, "{") {
				s = trimmed
				break
			}
		}
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", &ParseError{Err: fmt.Errorf("no JSON object in response")}
	}

	// Scan to the matching closing brace, ignoring braces inside strings.
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", &ParseError{Err: fmt.Errorf("embedded object is not valid JSON")}
				}
				return candidate, nil
			}
		}
	}

	return "", &ParseError{Err: fmt.Errorf("unterminated JSON object in response")}
}

// decodeStage extracts the embedded JSON object from raw and unmarshals it
// into dst. Extraction and schema validation fail separately but both map to
// *ParseError for the retry budget.
func decodeStage(raw string, dst any) error {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), dst); err != nil {
		return &ParseError{Err: fmt.Errorf("unmarshal stage JSON: %w", err)}
	}
	return nil
}
