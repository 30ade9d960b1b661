package notes

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// CleanText normalizes raw note text: lowercase, collapse whitespace runs and
// underscore runs to single spaces, strip de-identification bracket markers,
// and trim. The marker removal happens after whitespace collapsing, so the
// placeholder content between "[**" and "**]" is kept as plain text.
func CleanText(text string) string {
	text = strings.ToLower(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = underscoreRun.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "[**", "")
	text = strings.ReplaceAll(text, "**]", "")
	return strings.TrimSpace(text)
}
