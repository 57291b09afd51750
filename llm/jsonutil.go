package llm

import (
	"regexp"
	"strings"
)

// Pre-compiled patterns for JSON extraction from model responses.
var (
	// fencedJSONPattern matches a JSON object inside a markdown code block.
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// objectPattern matches any JSON object (greedy fallback for responses
	// that wrap the object in prose).
	objectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON extracts a JSON object from a model response. It tolerates
// markdown code fences, prose around the object, and trailing commas.
// Returns "" when no object is present.
func ExtractJSON(content string) string {
	var raw string
	if matches := fencedJSONPattern.FindStringSubmatch(content); len(matches) > 1 {
		raw = matches[1]
	} else {
		raw = objectPattern.FindString(content)
	}
	if raw == "" {
		return ""
	}
	return trailingCommaPattern.ReplaceAllString(raw, "$1")
}

// StripFences removes a leading/trailing markdown code fence and any leading
// meta header line ("Here is the prompt:" style) from generated prompt text.
func StripFences(content string) string {
	s := strings.TrimSpace(content)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Drop a language tag on the opening fence line.
		if idx := strings.Index(s, "\n"); idx >= 0 && !strings.ContainsAny(s[:idx], " .") {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	// Strip a one-line meta header like "Here is the enhanced prompt:".
	lines := strings.SplitN(s, "\n", 2)
	if len(lines) == 2 {
		head := strings.TrimSpace(lines[0])
		if metaHeaderPattern.MatchString(head) {
			return strings.TrimSpace(lines[1])
		}
	}
	return s
}

// metaHeaderPattern matches a standalone header line announcing the prompt.
var metaHeaderPattern = regexp.MustCompile(`(?i)^(here\s+is|here's)?[^.\n]*\bprompt\b[^.\n]*:$`)
