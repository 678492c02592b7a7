package gateway

import "strings"

// Sanitize strips a markdown code fence wrapped around a model response.
// Some backends wrap JSON answers in ```json ... ``` blocks, which breaks
// downstream parsing. Sanitize is idempotent: already-clean text, including
// valid JSON, comes back unchanged.
func Sanitize(response string) string {
	cleaned := strings.TrimSpace(response)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}

	cleaned = strings.TrimPrefix(cleaned, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(cleaned, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(cleaned[:idx])
		if firstLine != "" && !strings.ContainsAny(firstLine, " \t{[\"") {
			cleaned = cleaned[idx+1:]
		}
	} else {
		// Single-line fence, optionally tagged: ```json {...}```
		cleaned = strings.TrimPrefix(cleaned, "json")
	}

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
