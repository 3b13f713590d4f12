// Package tagging normalizes the tag lists attached to events.
package tagging

import (
	"fmt"
	"strings"

	"github.com/nvandessel/eventradar/internal/sanitize"
)

// MaxTags is the maximum number of tags accepted per event.
const MaxTags = 20

// separators are characters that would make the rendered "Tags: a, b" segment
// or the " | " field separator ambiguous.
const separators = ",|"

// Normalize cleans tags for storage and encoding.
//
// Each tag is sanitized as a label and trimmed; empty tags are dropped.
// Exact duplicates are removed, keeping the first occurrence. Spellings that
// differ only in case are distinct tags. The original order is preserved
// because it is part of the encoder input.
// A tag containing a separator, or more than MaxTags distinct tags, is an
// error. The result is never nil.
func Normalize(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))

	for _, t := range tags {
		t = sanitize.Label(t)
		if t == "" {
			continue
		}
		if strings.ContainsAny(t, separators) {
			return nil, fmt.Errorf("tag %q must not contain %q", t, separators)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}

	if len(out) > MaxTags {
		return nil, fmt.Errorf("%d tags exceeds the maximum of %d", len(out), MaxTags)
	}
	return out, nil
}
