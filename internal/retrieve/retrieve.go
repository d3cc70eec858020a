// Package retrieve implements the Hybrid Retriever: fuses FTS and
// vector candidates with recency shaping, per-kind boost and
// deterministic tie-breaking before handing results through the consent
// gate.
package retrieve

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/haven-ai/bartholomew/internal/consent"
	"github.com/haven-ai/bartholomew/internal/embedding"
	"github.com/haven-ai/bartholomew/internal/store"
)

// FusionMode selects the score-fusion algorithm used when both channels
// are queried.
type FusionMode string

const (
	// FusionWeighted is the default: a weighted sum of normalized channel
	// scores.
	FusionWeighted FusionMode = "weighted"
	// FusionRRF is reciprocal rank fusion.
	FusionRRF FusionMode = "rrf"
)

// ChannelMode selects which candidate channels a search consults. This is
// independent of FusionMode, which only governs how a hybrid search
// combines the two channels once both have run.
type ChannelMode string

const (
	// ChannelHybrid queries both channels and fuses them. The default.
	ChannelHybrid ChannelMode = "hybrid"
	// ChannelVector restricts the search to the vector channel only.
	ChannelVector ChannelMode = "vector"
	// ChannelFTS restricts the search to the full-text channel only.
	ChannelFTS ChannelMode = "fts"
)

// Config holds the retriever's tunables, loaded from the top-level
// engine configuration's retrieval block.
type Config struct {
	Mode         FusionMode
	WeightFTS    float64
	WeightVector float64
	RRFK         float64
	HalfLifeHrs  float64
}

// DefaultConfig returns the recommended tuning defaults.
func DefaultConfig() Config {
	return Config{
		Mode:         FusionWeighted,
		WeightFTS:    0.5,
		WeightVector: 0.5,
		RRFK:         60,
		HalfLifeHrs:  168,
	}
}

// Filters narrows candidates by kind and time window.
type Filters struct {
	Kinds  []string
	After  time.Time
	Before time.Time
}

// Result is a single fused, gated retrieval item.
type Result struct {
	ID          int64
	Score       float64
	FTSScore    *float64
	VectorScore *float64
	Snippet     string
	Kind        string
	Timestamp   time.Time
	ContextOnly bool
	RecallPolicy string
}

// Retriever is the Hybrid Retriever.
type Retriever struct {
	fts      *store.FTSIndex
	vectors  *store.VectorStore
	records  *store.RecordStore
	embedder embedding.Provider
	gate     *consent.Gate
	cfg      Config
	log      logr.Logger
	now      func() time.Time
}

// New builds a Retriever over the pipeline's backing stores and the
// consent gate.
func New(fts *store.FTSIndex, vectors *store.VectorStore, records *store.RecordStore, embedder embedding.Provider, gate *consent.Gate, cfg Config, log logr.Logger) *Retriever {
	return &Retriever{
		fts: fts, vectors: vectors, records: records, embedder: embedder,
		gate: gate, cfg: cfg, log: log.WithName("retrieve"), now: time.Now,
	}
}

// Search runs the retrieval pipeline for query, returning up to topK
// gated results. applyGate=false is the administrative bypass that skips
// consent filtering. mode restricts which candidate channels are
// consulted; an empty mode behaves as ChannelHybrid.
func (r *Retriever) Search(ctx context.Context, query string, topK int, filters Filters, applyGate bool, mode ChannelMode) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	if mode == "" {
		mode = ChannelHybrid
	}
	overfetch := topK * 3

	var ftsCandidates []store.FTSCandidate
	if mode != ChannelVector {
		var err error
		ftsCandidates, err = r.fts.Search(ctx, query, overfetch)
		if err != nil {
			return nil, fmt.Errorf("retrieve: fts search: %w", err)
		}
	}

	var vecCandidates []store.VectorCandidate
	if mode != ChannelFTS {
		qvec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("retrieve: embedding query: %w", err)
		}
		vecCandidates, err = r.vectors.Search(ctx, qvec, overfetch, false)
		if err != nil {
			return nil, fmt.Errorf("retrieve: vector search: %w", err)
		}
	}

	merged := r.fuse(mode, ftsCandidates, vecCandidates)

	gateCandidates := make([]consent.Candidate, 0, len(merged))
	for id, m := range merged {
		gateCandidates = append(gateCandidates, consent.Candidate{ID: id, Score: m.score})
	}

	annotated, err := r.gate.Apply(ctx, gateCandidates, applyGate)
	if err != nil {
		return nil, fmt.Errorf("retrieve: applying consent gate: %w", err)
	}

	results := make([]Result, 0, len(annotated))
	for _, a := range annotated {
		m := merged[a.ID]
		boost := a.RetrievalBoost
		if boost == 0 {
			boost = 1.0
		}
		pt, err := r.records.LoadPlaintext(ctx, a.ID)
		if err != nil {
			r.log.Info("skipping candidate, failed to load for snippet", "id", a.ID, "error", err.Error())
			continue
		}
		if !passesFilters(pt.Kind, pt.Timestamp, filters) {
			continue
		}

		decay := recencyDecay(r.now().Sub(pt.Timestamp), r.cfg.HalfLifeHrs)
		final := m.score * decay * boost

		results = append(results, Result{
			ID: a.ID, Score: final, FTSScore: m.fts, VectorScore: m.vec,
			Snippet: snippetFor(pt), Kind: pt.Kind, Timestamp: pt.Timestamp,
			ContextOnly: a.ContextOnly, RecallPolicy: string(a.RecallPolicy),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return ranksBefore(results[i], results[j], merged)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

type fusedScore struct {
	score      float64
	fts, vec   *float64
	bothPulled bool
}

// fuse normalizes each channel to [0,1]. In ChannelHybrid mode the two
// channels are combined per the configured FusionMode; in a single-channel
// mode the other channel's candidates are empty and its normalized score
// is used directly, unweighted.
func (r *Retriever) fuse(mode ChannelMode, ftsCandidates []store.FTSCandidate, vecCandidates []store.VectorCandidate) map[int64]fusedScore {
	ftsNorm := normalizeFTS(ftsCandidates)
	vecNorm := normalizeVector(vecCandidates)

	if mode == ChannelFTS {
		out := make(map[int64]fusedScore, len(ftsNorm))
		for id, s := range ftsNorm {
			s := s
			out[id] = fusedScore{score: s, fts: &s}
		}
		return out
	}
	if mode == ChannelVector {
		out := make(map[int64]fusedScore, len(vecNorm))
		for id, s := range vecNorm {
			s := s
			out[id] = fusedScore{score: s, vec: &s}
		}
		return out
	}

	ids := make(map[int64]bool)
	for id := range ftsNorm {
		ids[id] = true
	}
	for id := range vecNorm {
		ids[id] = true
	}

	meanFTS := mean(ftsNorm)
	meanVec := mean(vecNorm)

	out := make(map[int64]fusedScore, len(ids))
	switch r.cfg.Mode {
	case FusionRRF:
		ftsRank := ftsRankOf(ftsCandidates)
		vecRank := vecRankOf(vecCandidates)
		for id := range ids {
			var score float64
			if rank, ok := ftsRank[id]; ok {
				score += 1.0 / (r.cfg.RRFK + float64(rank))
			}
			if rank, ok := vecRank[id]; ok {
				score += 1.0 / (r.cfg.RRFK + float64(rank))
			}
			_, fOK := ftsNorm[id]
			_, vOK := vecNorm[id]
			out[id] = fusedScore{score: score, fts: floatPtr(fOK, id, ftsNorm), vec: floatPtr(vOK, id, vecNorm), bothPulled: hasBoth(id, ftsNorm, vecNorm)}
		}
	default: // FusionWeighted
		for id := range ids {
			fVal, fOK := ftsNorm[id]
			vVal, vOK := vecNorm[id]
			if !fOK {
				fVal = meanVec // impute with the mean of the *other* channel's
			}
			if !vOK {
				vVal = meanFTS
			}
			score := r.cfg.WeightFTS*fVal + r.cfg.WeightVector*vVal
			out[id] = fusedScore{score: score, fts: floatPtr(fOK, id, ftsNorm), vec: floatPtr(vOK, id, vecNorm), bothPulled: fOK && vOK}
		}
	}
	return out
}

func floatPtr(present bool, id int64, m map[int64]float64) *float64 {
	if !present {
		return nil
	}
	v := m[id]
	return &v
}

func hasBoth(id int64, a, b map[int64]float64) bool {
	_, aok := a[id]
	_, bok := b[id]
	return aok && bok
}

func mean(m map[int64]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m {
		sum += v
	}
	return sum / float64(len(m))
}

func ftsRankOf(candidates []store.FTSCandidate) map[int64]int {
	out := make(map[int64]int, len(candidates))
	for i, c := range candidates {
		out[c.ID] = i + 1
	}
	return out
}

func vecRankOf(candidates []store.VectorCandidate) map[int64]int {
	out := make(map[int64]int, len(candidates))
	for i, c := range candidates {
		out[c.ID] = i + 1
	}
	return out
}

// normalizeFTS min-max normalizes raw bm25 scores (lower is better) onto
// [0,1] where 1 is most relevant.
func normalizeFTS(candidates []store.FTSCandidate) map[int64]float64 {
	if len(candidates) == 0 {
		return map[int64]float64{}
	}
	min, max := candidates[0].RawScore, candidates[0].RawScore
	for _, c := range candidates {
		if c.RawScore < min {
			min = c.RawScore
		}
		if c.RawScore > max {
			max = c.RawScore
		}
	}
	out := make(map[int64]float64, len(candidates))
	for _, c := range candidates {
		if max == min {
			out[c.ID] = 1.0
			continue
		}
		// bm25 is more negative for better matches; invert after scaling.
		out[c.ID] = 1.0 - (c.RawScore-min)/(max-min)
	}
	return out
}

// normalizeVector min-max normalizes cosine scores onto [0,1].
func normalizeVector(candidates []store.VectorCandidate) map[int64]float64 {
	if len(candidates) == 0 {
		return map[int64]float64{}
	}
	min, max := candidates[0].Score, candidates[0].Score
	for _, c := range candidates {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	out := make(map[int64]float64, len(candidates))
	for _, c := range candidates {
		if max == min {
			out[c.ID] = 1.0
			continue
		}
		out[c.ID] = (c.Score - min) / (max - min)
	}
	return out
}

// recencyDecay implements exp(-Δt/τ) with Δt and τ both in hours.
func recencyDecay(age time.Duration, halfLifeHrs float64) float64 {
	if halfLifeHrs <= 0 {
		return 1.0
	}
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	// halfLifeHrs is documented as a half-life; convert to the tau of
	// exp(-Δt/τ) so that decay == 0.5 at exactly one half-life.
	tau := halfLifeHrs / math.Ln2
	return math.Exp(-hours / tau)
}

func passesFilters(kind string, ts time.Time, f Filters) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.After.IsZero() && ts.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && ts.After(f.Before) {
		return false
	}
	return true
}

func snippetFor(pt *store.Plaintext) string {
	if pt.HasSummary {
		return pt.Summary
	}
	const window = 240
	if len(pt.Value) <= window {
		return pt.Value
	}
	return pt.Value[:window] + "..."
}

// ranksBefore is the deterministic tie-break: higher fused score first,
// then presence in both channels before single-channel, then more
// recent timestamp, then higher id.
func ranksBefore(a, b Result, merged map[int64]fusedScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	fa, fb := merged[a.ID], merged[b.ID]
	if fa.bothPulled != fb.bothPulled {
		return fa.bothPulled
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
