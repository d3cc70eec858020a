// Package redact implements the redactor: a pure, idempotent
// transform over matched spans of a record's value.
package redact

import (
	"regexp"
	"sort"
	"strings"

	"github.com/haven-ai/bartholomew/internal/rules"
)

// match represents a single regex match with its position.
type match struct {
	start, end int
}

// Redact applies strategy's transform to every case-insensitive match of
// pattern within text. It is pure (no I/O, no mutation of inputs) and
// idempotent: redacting already-redacted text with the same pattern and
// strategy is a no-op, because mask/remove/replace outputs never contain
// the matched pattern again.
//
// A malformed pattern never panics or raises — the text is returned
// unchanged.
func Redact(text, pattern string, strategy rules.RedactStrategy) string {
	if text == "" || pattern == "" || !strategy.IsSet() {
		return text
	}
	return redact(text, pattern, strategy)
}

// ApplyDecision redacts text using the pattern and strategy a rule
// decision carries, or returns text unchanged if the decision has no
// redaction configured.
func ApplyDecision(text string, d rules.Decision) string {
	if !d.RedactStrategy.IsSet() || d.RedactPattern == "" {
		return text
	}
	return redact(text, d.RedactPattern, d.RedactStrategy)
}

func redact(text, pattern string, strategy rules.RedactStrategy) string {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return text
	}

	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}

	matches := make([]match, len(locs))
	for i, loc := range locs {
		matches[i] = match{start: loc[0], end: loc[1]}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	var out strings.Builder
	out.Grow(len(text))
	last := 0
	for _, m := range matches {
		if m.start < last {
			continue // overlapping with a previous replacement, skip
		}
		out.WriteString(text[last:m.start])
		out.WriteString(replacement(strategy))
		last = m.end
	}
	out.WriteString(text[last:])

	return out.String()
}

func replacement(strategy rules.RedactStrategy) string {
	switch strategy.Kind {
	case rules.RedactMask:
		return "****"
	case rules.RedactRemove:
		return ""
	case rules.RedactReplace:
		return strategy.Literal
	default:
		return ""
	}
}
