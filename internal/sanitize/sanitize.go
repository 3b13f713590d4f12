// Package sanitize cleans free-text event and profile fields before they are
// rendered into encoder input and stored as index metadata. It strips control
// characters and markup, normalizes whitespace and caps lengths, while
// preserving the readable content.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Field length limits, in runes.
const (
	MaxIDLength          = 128
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MaxLabelLength       = 100
)

// Pre-compiled regular expressions for performance.
var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?\s*>|<\?[^?]*\?>|</\s+[a-zA-Z][^>]*>`)

	// reHTMLComment matches HTML comments like <!-- anything -->.
	reHTMLComment = regexp.MustCompile(`<!--[\s\S]*?-->`)

	// reHorizontalSpace matches runs of spaces and tabs.
	reHorizontalSpace = regexp.MustCompile(`[ \t]+`)

	// reExcessiveNewlines matches 3 or more consecutive newlines.
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)
)

// ID cleans an event id: control characters and surrounding whitespace are
// removed and the result is capped at MaxIDLength. Inner characters are kept
// as-is since ids are opaque.
func ID(input string) string {
	return truncate(strings.TrimSpace(stripControlChars(input, false)), MaxIDLength)
}

// Title cleans a single-line title.
func Title(input string) string {
	return truncate(singleLine(input), MaxTitleLength)
}

// Label cleans a short single-line field such as a hosting club, category,
// major, year of study or interest.
func Label(input string) string {
	return truncate(singleLine(input), MaxLabelLength)
}

// Description cleans multi-line text.
//
// The pipeline runs in this order:
//  1. Normalize CRLF to LF
//  2. Strip null bytes and ASCII control characters (except \n, \t)
//  3. Strip HTML comments and XML/HTML tags
//  4. Collapse runs of spaces and tabs to one space
//  5. Collapse excessive newlines (3+ -> 2)
//  6. Trim leading/trailing whitespace on every line and overall
//  7. Truncate to MaxDescriptionLength
func Description(input string) string {
	if input == "" {
		return ""
	}
	s := strings.ReplaceAll(input, "\r\n", "\n")
	s = stripControlChars(s, true)
	s = stripMarkup(s)
	s = reHorizontalSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n")
	return truncate(strings.TrimSpace(s), MaxDescriptionLength)
}

// singleLine strips control characters and markup and folds all whitespace,
// including newlines, into single spaces.
func singleLine(input string) string {
	if input == "" {
		return ""
	}
	s := stripControlChars(input, true)
	s = stripMarkup(s)
	return strings.Join(strings.Fields(s), " ")
}

func stripMarkup(s string) string {
	s = reHTMLComment.ReplaceAllString(s, "")
	return reXMLTag.ReplaceAllString(s, "")
}

// truncate caps s at max runes without splitting multi-byte characters.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

// stripControlChars removes ASCII control characters (0x00-0x1F) and DEL
// (0x7F). Newline and tab survive when keepWhitespace is set.
func stripControlChars(s string, keepWhitespace bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			if keepWhitespace && (r == '\n' || r == '\t') {
				b.WriteRune(r)
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
