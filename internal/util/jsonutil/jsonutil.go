package jsonutil

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("no JSON payload found")

// ExtractJSON pulls a JSON document out of raw model output. Models routinely
// wrap JSON in markdown fences or prefix it with prose, so this strips fences
// first and then falls back to scanning for the outermost object or array.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoJSON
	}
	if fenced, ok := extractFence(text, "json"); ok {
		text = fenced
	} else if fenced, ok := extractFence(text, ""); ok {
		text = fenced
	}
	text = strings.TrimSpace(text)
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	for _, open := range []byte{'{', '['} {
		if candidate, ok := scanBalanced(text, open); ok && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, ErrNoJSON
}

// ExtractCode returns the contents of the first fenced code block, or the
// whole text when no fence is present.
func ExtractCode(text string) string {
	if fenced, ok := extractFence(strings.TrimSpace(text), ""); ok {
		return fenced
	}
	return strings.TrimSpace(text)
}

func extractFence(text, lang string) (string, bool) {
	marker := "```" + lang
	start := strings.Index(text, marker)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(marker):]
	if lang == "" {
		// Generic fence: skip the language tag up to the first newline.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// scanBalanced finds the first balanced {...} or [...] span, respecting
// strings and escapes.
func scanBalanced(text string, open byte) (string, bool) {
	var closer byte = '}'
	if open == '[' {
		closer = ']'
	}
	start := strings.IndexByte(text, open)
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
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
