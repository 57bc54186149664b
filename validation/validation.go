// Package validation implements the gateway's stream-JSON parsing and input
// sanitization contracts (spec.md §4.A). Grounded on the teacher's
// claude/sdk/transport.splitConcatenatedJSON and claude/process_utils.go's
// character-scanning recovery style.
package validation

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"unicode"
)

const (
	maxPromptLen  = 50_000
	maxContentLen = 100_000
	maxAttachments = 10
	maxAttachmentSize = 10 * 1024 * 1024 // 10 MiB
)

// Format is a validated output format.
type Format string

const (
	FormatJSON       Format = "json"
	FormatText       Format = "text"
	FormatMarkdown   Format = "markdown"
	FormatStreamJSON Format = "stream-json"
)

// IsValidCompleteJSON reports whether s (trimmed) parses as exactly one
// complete JSON value. An unterminated string/object/array returns false.
func IsValidCompleteJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(&v); err != nil {
		return false
	}
	// Decode succeeds on a prefix; require that nothing but whitespace trails.
	_, err := dec.Token()
	return err == io.EOF
}

// ParseStreamJsonOutput interprets s as newline-delimited JSON. Each
// non-blank line is parsed independently; a line that fails to parse as a
// whole is run through ExtractCompleteObjectsFromLine instead of being
// dropped outright. Return order preserves source order.
func ParseStreamJsonOutput(s string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			out = append(out, obj)
			continue
		}
		out = append(out, ExtractCompleteObjectsFromLine(trimmed)...)
	}
	return out
}

// ExtractCompleteObjectsFromLine scans s character by character, tracking
// string/escape/brace-nesting state, and emits every complete top-level JSON
// object found. Malformed fragments between/around objects are silently
// dropped.
func ExtractCompleteObjectsFromLine(line string) []map[string]interface{} {
	var out []map[string]interface{}

	depth := 0
	inString := false
	escaped := false
	start := -1

	for i, r := range line {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := line[start : i+1]
					var obj map[string]interface{}
					if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
						out = append(out, obj)
					}
					start = -1
				}
			}
		}
	}

	return out
}

// ExtractLastCompleteJSON returns the most useful complete JSON value
// contained in s: of the outermost complete objects and arrays, the one that
// ends last. Each bracket type is scanned forward; a candidate replaces the
// current best only if it ends after it, so a value nested inside another
// never wins over its container.
func ExtractLastCompleteJSON(s string) interface{} {
	type span struct {
		open, close byte
	}
	spans := []span{{'{', '}'}, {'[', ']'}}

	var best interface{}
	bestEnd := -1

	for _, sp := range spans {
		depth := 0
		inString := false
		escaped := false
		start := -1

		for i := 0; i < len(s); i++ {
			c := s[i]
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
			case sp.open:
				if depth == 0 {
					start = i
				}
				depth++
			case sp.close:
				if depth > 0 {
					depth--
					if depth == 0 && start >= 0 {
						candidate := s[start : i+1]
						var v interface{}
						if err := json.Unmarshal([]byte(candidate), &v); err == nil {
							if i > bestEnd {
								bestEnd = i
								best = v
							}
						}
						start = -1
					}
				}
			}
		}
	}

	return best
}

// SanitizePrompt strips NUL bytes, truncates to 50,000 characters, and fails
// if the result is empty.
func SanitizePrompt(s string) (string, error) {
	cleaned := strings.ReplaceAll(s, "\x00", "")
	cleaned = truncateRunes(cleaned, maxPromptLen)
	if cleaned == "" {
		return "", errEmptyPrompt
	}
	return cleaned, nil
}

// SanitizeContent coerces non-string input to empty, strips NUL and control
// characters (except tab/newline/CR), and truncates to 100,000 characters.
func SanitizeContent(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == 0 {
			continue
		}
		if r == '\t' || r == '\n' || r == '\r' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return truncateRunes(b.String(), maxContentLen)
}

// ValidateFormat validates a requested output format, defaulting to "json"
// when v is nil.
func ValidateFormat(v interface{}) (Format, error) {
	if v == nil {
		return FormatJSON, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errInvalidFormat
	}
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	case FormatStreamJSON:
		return FormatStreamJSON, nil
	default:
		return "", errInvalidFormat
	}
}

// Attachment is a validated attachment descriptor.
type Attachment struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Size    int64  `json:"size,omitempty"`
	Content string `json:"content,omitempty"`
}

// ValidateAttachments validates up to 10 attachments, defaulting a missing
// name to "attachment_{index}".
func ValidateAttachments(list []map[string]interface{}) ([]Attachment, error) {
	if len(list) > maxAttachments {
		return nil, errTooManyAttachments
	}
	out := make([]Attachment, 0, len(list))
	for i, raw := range list {
		typ, _ := raw["type"].(string)
		switch typ {
		case "image", "file", "code":
		default:
			return nil, errInvalidAttachmentType
		}

		name, _ := raw["name"].(string)
		if name == "" {
			name = defaultAttachmentName(i)
		}

		a := Attachment{Type: typ, Name: name}
		if sizeRaw, ok := raw["size"]; ok {
			size, ok := asInt64(sizeRaw)
			if !ok || size > maxAttachmentSize {
				return nil, errAttachmentTooLarge
			}
			a.Size = size
		}
		if content, ok := raw["content"].(string); ok {
			a.Content = content
		}
		out = append(out, a)
	}
	return out, nil
}

// ValidateStreamChunk rejects chunks that don't meet the minimum shape
// required to be useful: an object with both "type" and "data", non-empty
// content for "content" chunks, and a tool name for "tool_use" chunks.
func ValidateStreamChunk(chunk map[string]interface{}) bool {
	if chunk == nil {
		return false
	}
	typ, hasType := chunk["type"].(string)
	if !hasType || typ == "" {
		return false
	}
	if _, hasData := chunk["data"]; !hasData {
		return false
	}

	switch typ {
	case "content":
		content, _ := chunk["content"].(string)
		if strings.TrimSpace(content) == "" {
			return false
		}
	case "tool_use":
		name, _ := chunk["name"].(string)
		if name == "" {
			return false
		}
	}
	return true
}

// ExtractFinalResult picks the most useful final value out of a sequence of
// parsed responses: the last one carrying a "result" field wins; otherwise
// all "content" fields are concatenated in order; otherwise the last
// response itself is returned.
func ExtractFinalResult(responses []map[string]interface{}) interface{} {
	for i := len(responses) - 1; i >= 0; i-- {
		if result, ok := responses[i]["result"]; ok {
			return result
		}
	}

	var buf bytes.Buffer
	found := false
	for _, r := range responses {
		if content, ok := r["content"].(string); ok {
			buf.WriteString(content)
			found = true
		}
	}
	if found {
		return buf.String()
	}

	if len(responses) > 0 {
		return responses[len(responses)-1]
	}
	return nil
}

// ExtractSessionID returns the first "session_id" field encountered, or "".
func ExtractSessionID(responses []map[string]interface{}) string {
	for _, r := range responses {
		if id, ok := r["session_id"].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func defaultAttachmentName(index int) string {
	return "attachment_" + strconv.Itoa(index)
}

func truncateRunes(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

