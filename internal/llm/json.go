package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DecodeModelJSON unmarshals JSON from a model response, with a small amount
// of robustness for cases where the model wraps the JSON in a markdown fence
// or extra prose.
func DecodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}

	s = stripFence(s)

	// Fast path: valid JSON as-is.
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	// Fallback: attempt to extract the first top-level JSON object.
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}

	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON (len=%d): %w", len(sub), err)
	}
	return nil
}

// stripFence removes a surrounding ```json ... ``` or ``` ... ``` block.
func stripFence(s string) string {
	if strings.HasPrefix(s, "```json") && strings.Contains(s[7:], "```") {
		s = strings.SplitN(s, "```json", 2)[1]
		s = strings.SplitN(s, "```", 2)[0]
		return strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "```") && strings.Contains(s[3:], "```") {
		s = strings.SplitN(s, "```", 2)[1]
		s = strings.SplitN(s, "```", 2)[0]
		return strings.TrimSpace(s)
	}
	return s
}
