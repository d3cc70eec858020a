// Package consent implements the Consent Gate: the sole authority
// for privacy filtering on the read path.
package consent

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/haven-ai/bartholomew/internal/rules"
)

// PlaintextRecord is the minimal decrypted view the gate needs to
// re-evaluate rules against a candidate id.
type PlaintextRecord struct {
	Kind     string
	Key      string
	Value    string
	Speaker  string
	Tags     []string
	Metadata map[string]any
}

// RecordSource resolves a candidate id to its decrypted fields. The
// record store implements this; the gate never touches ciphertext or
// sql directly.
type RecordSource interface {
	LoadPlaintext(ctx context.Context, id int64) (*PlaintextRecord, error)
}

// ConsentTable tracks which ids have an explicit consent grant.
type ConsentTable interface {
	IDs(ctx context.Context) (map[int64]bool, error)
	Has(ctx context.Context, id int64) (bool, error)
}

// Result is the per-id outcome of Filter.
type Result struct {
	Include      bool
	ContextOnly  bool
	RecallPolicy rules.RecallPolicy
	RetrievalBoost float64
}

// Gate is the consent gate, pure with respect to a snapshot of the
// rule engine and the consent table.
type Gate struct {
	records RecordSource
	consent ConsentTable
	engine  *rules.Engine
	log     logr.Logger
}

// New builds a Gate over the given collaborators.
func New(records RecordSource, consent ConsentTable, engine *rules.Engine, log logr.Logger) *Gate {
	return &Gate{records: records, consent: consent, engine: engine, log: log.WithName("consent")}
}

// ConsentedIDs returns the full set of ids carrying an explicit consent
// grant.
func (g *Gate) ConsentedIDs(ctx context.Context) (map[int64]bool, error) {
	return g.consent.IDs(ctx)
}

// Filter re-evaluates the rule engine against the current plaintext of
// each candidate id and reports whether it survives for retrieval.
func (g *Gate) Filter(ctx context.Context, ids []int64) (map[int64]Result, error) {
	out := make(map[int64]Result, len(ids))
	for _, id := range ids {
		res, err := g.filterOne(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = res
	}
	return out, nil
}

func (g *Gate) filterOne(ctx context.Context, id int64) (Result, error) {
	pt, err := g.records.LoadPlaintext(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("consent: loading record %d: %w", id, err)
	}

	decision := g.engine.Evaluate(&rules.Record{
		Kind: pt.Kind, Key: pt.Key, Value: pt.Value,
		Tags: pt.Tags, Speaker: pt.Speaker, Metadata: pt.Metadata,
	})

	if !decision.AllowStore {
		// Defensive: such records should never have been persisted.
		g.log.Info("excluding record that fails allow_store on re-evaluation", "id", id)
		return Result{Include: false}, nil
	}

	if decision.RequiresConsent {
		has, err := g.consent.Has(ctx, id)
		if err != nil {
			return Result{}, fmt.Errorf("consent: checking consent for %d: %w", id, err)
		}
		if !has {
			return Result{Include: false}, nil
		}
	}

	return Result{
		Include:        true,
		ContextOnly:    decision.RecallPolicy == rules.RecallContextOnly,
		RecallPolicy:   decision.RecallPolicy,
		RetrievalBoost: decision.RetrievalBoost,
	}, nil
}

// Candidate is a scored hit from either retrieval channel.
type Candidate struct {
	ID    int64
	Score float64
}

// Annotated is a Candidate that survived the gate, carrying its policy
// flags for the retriever to attach to the final result shape.
type Annotated struct {
	Candidate
	ContextOnly    bool
	RecallPolicy   rules.RecallPolicy
	RetrievalBoost float64
}

// Apply drops excluded ids from candidates, preserving order, and
// annotates survivors with their policy flags. When applyGate is false
// (the administrative bypass), every candidate passes through unfiltered
// and the bypass is logged for audit.
func (g *Gate) Apply(ctx context.Context, candidates []Candidate, applyGate bool) ([]Annotated, error) {
	if !applyGate {
		g.log.Info("consent gate bypassed for administrative read", "candidate_count", len(candidates))
		out := make([]Annotated, len(candidates))
		for i, c := range candidates {
			out[i] = Annotated{Candidate: c, RetrievalBoost: 1.0}
		}
		return out, nil
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	results, err := g.Filter(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Annotated, 0, len(candidates))
	for _, c := range candidates {
		r := results[c.ID]
		if !r.Include {
			continue
		}
		out = append(out, Annotated{Candidate: c, ContextOnly: r.ContextOnly, RecallPolicy: r.RecallPolicy, RetrievalBoost: r.RetrievalBoost})
	}
	return out, nil
}
