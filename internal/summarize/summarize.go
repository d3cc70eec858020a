// Package summarize implements the bounded extractive summarizer.
package summarize

import (
	"strings"
	"unicode"
)

// TargetLength is the approximate upper bound on summary length in bytes.
const TargetLength = 900

// shortInputThreshold is the length below which an un-requested summary
// is skipped entirely.
const shortInputThreshold = 1000

// Summarize produces a bounded extractive summary of redacted plaintext.
// It never performs I/O and is deterministic and idempotent on its own
// output (re-summarizing an already-short summary returns it unchanged).
//
// If text is shorter than shortInputThreshold and force is false, no
// summary is produced (nil) — the caller (the ingestion pipeline) only
// passes force=true when the rule decision explicitly demands one.
func Summarize(text string, force bool) *string {
	if len(text) < shortInputThreshold && !force {
		return nil
	}
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		s := truncateWithEllipsis(text, TargetLength)
		return &s
	}

	var b strings.Builder
	for _, s := range sentences {
		if b.Len()+len(s) > TargetLength {
			break
		}
		b.WriteString(s)
	}

	if b.Len() == 0 {
		// Even the first sentence alone exceeds the target: hard-truncate it.
		s := truncateWithEllipsis(sentences[0], TargetLength)
		return &s
	}

	out := strings.TrimSpace(b.String())
	return &out
}

// splitSentences splits text on sentence-ending punctuation, keeping the
// punctuation and any trailing whitespace attached to the preceding
// sentence so that re-joining sentences reproduces spacing exactly.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			for end < len(runes) && unicode.IsSpace(runes[end]) {
				end++
			}
			sentences = append(sentences, string(runes[start:end]))
			start = end
		}
	}
	if start < len(runes) {
		// Trailing text with no terminal punctuation is not a sentence
		// boundary — callers fall back to hard truncation when this is
		// the only "sentence" found.
		if len(sentences) == 0 {
			return nil
		}
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

// truncateWithEllipsis hard-truncates text at n runes and appends an
// ellipsis, for the no-sentence-boundary and overlong-first-sentence
// fallback paths.
func truncateWithEllipsis(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
