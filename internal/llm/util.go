// Package llm - util.go provides shared utilities for LLM response processing.
package llm

import "strings"

// CleanJSONBlock removes markdown code block wrappers from JSON responses.
// LLMs often wrap JSON in ```json ... ``` blocks even when instructed not to,
// or surround the payload with conversational text.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	// Handle ```json ... ``` blocks
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	// Handle generic ``` ... ``` blocks
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip potential language identifier on first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			// If first line looks like a language identifier (no spaces, short), skip it
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	// Skip preamble and trailing chatter around a bare JSON value
	start := firstJSONStart(text)
	if start < 0 {
		return text
	}
	candidate := text[start:]
	var extracted string
	if candidate[0] == '{' {
		extracted = extractJSONObject(candidate)
	} else {
		extracted = extractJSONArray(candidate)
	}
	if extracted == "" {
		// Unbalanced (e.g. truncated) output is returned untouched so the
		// caller's parser reports the real problem.
		return text
	}
	return extracted
}

// firstJSONStart returns the index of the first '{' or '[', or -1
func firstJSONStart(text string) int {
	obj := strings.IndexByte(text, '{')
	arr := strings.IndexByte(text, '[')
	switch {
	case obj < 0:
		return arr
	case arr < 0:
		return obj
	default:
		return min(obj, arr)
	}
}

// extractJSONObject returns the balanced JSON object at the start of text
func extractJSONObject(text string) string {
	if text == "" || text[0] != '{' {
		return ""
	}
	return extractBalanced(text)
}

// extractJSONArray returns the balanced JSON array at the start of text
func extractJSONArray(text string) string {
	if text == "" || text[0] != '[' {
		return ""
	}
	return extractBalanced(text)
}

// extractBalanced scans brackets outside of string literals and returns the
// prefix that closes the opening bracket, or "" when it never closes.
func extractBalanced(text string) string {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return ""
}
