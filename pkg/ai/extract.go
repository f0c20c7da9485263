package ai

import "strings"

// ExtractJSONObject returns the span from the first '{' to the last '}' in
// text. Models often wrap the requested JSON in prose or code fences; the
// span is not validated, so the caller must still decode it.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}
