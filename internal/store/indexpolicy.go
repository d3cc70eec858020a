package store

import "github.com/haven-ai/bartholomew/internal/rules"

// IndexingPolicy is the pure guard applied before both FTS and
// vector writes: can_index(decision) -> bool.
type IndexingPolicy struct {
	// DisallowStrongOnly mirrors the indexing.disallow_strong_only config
	// flag: when set, strong-encrypted records are never indexed, full
	// stop.
	DisallowStrongOnly bool
}

// CanIndex reports whether a record governed by decision may be written
// to the FTS and vector indexes. This returns false only when strict mode
// is configured and the decision carries encrypt=strong; all other
// decisions (including context_only recall policy) are indexable — see
// DESIGN.md for why context_only is not also excluded from the vector
// store: indexing only ever gates on the strong-encryption flag, there's
// no second knob for recall policy, so this guard stays a single-flag
// decision.
func (p IndexingPolicy) CanIndex(d rules.Decision) bool {
	if p.DisallowStrongOnly && d.Encrypt == rules.EncryptStrong {
		return false
	}
	return true
}
