package reader

import "strings"

// PreviewLength is the longest highlight preview, in runes.
const PreviewLength = 128

const previewSeparator = "..."

// HighlightPreview joins highlights with "..." and cuts the result to
// PreviewLength runes.
func HighlightPreview(highlights []string) string {
	return Truncate(strings.Join(highlights, previewSeparator), PreviewLength)
}

// Truncate cuts s to at most n runes. n <= 0 leaves s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// OneLine collapses whitespace runs, newlines included, into single spaces.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
