package push

import (
	"regexp"
	"strings"
)

var (
	fencedCodeBlockRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe      = regexp.MustCompile("`([^`]+)`")
	atxHeaderRe       = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	boldItalicRe      = regexp.MustCompile(`\*{1,3}([^*]+)\*{1,3}`)
	imageLinkRe       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe            = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	listMarkerRe      = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	blockquoteRe      = regexp.MustCompile(`(?m)^>\s?`)
)

// stripMarkdown reduces the common Markdown constructs a model's response
// tends to use to plain text suitable for a notification payload. It is not
// a general renderer: unrecognized constructs pass through unchanged.
func stripMarkdown(text string) string {
	out := fencedCodeBlockRe.ReplaceAllString(text, "[code block]")
	out = inlineCodeRe.ReplaceAllString(out, "$1")
	out = atxHeaderRe.ReplaceAllString(out, "")
	out = imageLinkRe.ReplaceAllString(out, "[image: $1]")
	out = linkRe.ReplaceAllString(out, "$1")
	out = boldItalicRe.ReplaceAllString(out, "$1")
	out = listMarkerRe.ReplaceAllString(out, "")
	out = blockquoteRe.ReplaceAllString(out, "")
	return out
}

// truncate strips Markdown from text, then truncates at the last word
// boundary at or before max runes, appending an ellipsis if truncation
// occurred. A null/empty input yields an empty string.
func truncate(text string, max int) string {
	stripped := stripMarkdown(text)
	runes := []rune(stripped)
	if len(runes) <= max {
		return stripped
	}

	cut := max
	if runes[max] != ' ' {
		if idx := strings.LastIndexByte(string(runes[:max]), ' '); idx > 0 {
			cut = idx
		}
	}
	head := strings.TrimRight(string(runes[:cut]), " ")
	return head + "…"
}
