package agent

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON object out of agent text. Models often wrap their
// answer in prose or markdown fences, so the ladder is tolerant:
//
//  1. the whole text as JSON
//  2. a ```json fenced block
//  3. a bare ``` fenced block
//  4. the first brace-matched object embedded in prose
func ExtractJSON(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)

	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}

	for _, fence := range []string{"```json", "```"} {
		if block, ok := fencedBlock(trimmed, fence); ok {
			if err := json.Unmarshal([]byte(block), &out); err == nil {
				return out, nil
			}
		}
	}

	if obj, ok := braceMatched(trimmed); ok {
		if err := json.Unmarshal([]byte(obj), &out); err == nil {
			return out, nil
		}
	}

	return nil, &OutputError{Message: "no JSON object found", Raw: text}
}

func fencedBlock(text, fence string) (string, bool) {
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// braceMatched finds the first balanced {...} span, ignoring braces inside
// string literals.
func braceMatched(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
