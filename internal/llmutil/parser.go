// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fencedRegex captures the body of a markdown code fence, with or without a
// language tag. \x60 stands in for the backtick, which raw strings cannot hold.
var fencedRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSON pulls the JSON payload out of a model response. Models wrap JSON
// in markdown fences or surround it with prose even when told not to, so the
// fence body is taken first, then the outermost object or array.
func ExtractJSON(response string) string {
	s := strings.TrimSpace(response)
	if m := fencedRegex.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	if span, ok := outermost(s, '{', '}'); ok {
		return span
	}
	if span, ok := outermost(s, '[', ']'); ok {
		return span
	}
	return s
}

func outermost(s string, open, close byte) (string, bool) {
	first := strings.IndexByte(s, open)
	last := strings.LastIndexByte(s, close)
	if first == -1 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

// ParseJSONResponse parses an LLM response into T, tolerating markdown fences
// and conversational framing around the JSON.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(payload, 500))
	}
	return &result, nil
}

// Truncate shortens s to at most maxLen bytes without splitting a rune.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
