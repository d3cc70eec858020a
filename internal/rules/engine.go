package rules

import (
	"sync/atomic"

	"github.com/go-logr/logr"
)

// Engine owns the live RuleSet behind an atomic pointer: a reload swaps
// in a brand-new immutable RuleSet rather than mutating shared state from
// a background thread, so every in-flight Evaluate call sees exactly one
// version, never a version split mid-call.
type Engine struct {
	current atomic.Pointer[RuleSet]
	log     logr.Logger
}

// NewEngine builds an Engine from an initial document.
func NewEngine(log logr.Logger, doc *Document) *Engine {
	e := &Engine{log: log.WithName("rules")}
	e.Reload(doc)
	return e
}

// Reload compiles doc into a new RuleSet and atomically swaps it in.
// Invalid individual rules are skipped and logged; a reload never fails
// outright, it just proceeds with fewer rules (an empty RuleSet still
// produces default decisions for everything).
func (e *Engine) Reload(doc *Document) {
	rs, warnings := Compile(doc)
	for _, w := range warnings {
		e.log.Info(w)
	}
	e.current.Store(rs)
}

// Evaluate classifies rec against the currently active rule set.
func (e *Engine) Evaluate(rec *Record) Decision {
	rs := e.current.Load()
	if rs == nil {
		return Default()
	}
	return rs.Evaluate(rec)
}
