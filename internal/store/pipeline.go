package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/haven-ai/bartholomew/internal/crypto"
	"github.com/haven-ai/bartholomew/internal/embedding"
	"github.com/haven-ai/bartholomew/internal/redact"
	"github.com/haven-ai/bartholomew/internal/rules"
	"github.com/haven-ai/bartholomew/internal/summarize"
)

// ErrBrakeEngaged is returned by Upsert when the parking brake blocks the
// "writes" or "global" scope.
var ErrBrakeEngaged = errors.New("store: parking brake engaged for writes")

// BrakeChecker is the narrow view of the parking brake the pipeline
// needs. Defined here rather than imported from internal/brake to avoid
// a store<->brake import cycle (brake persists its state through this
// same package).
type BrakeChecker interface {
	IsBlocked(scope string) bool
}

type noopBrake struct{}

func (noopBrake) IsBlocked(string) bool { return false }

// UpsertInput is the caller-supplied shape for a new or updated memory.
type UpsertInput struct {
	Kind      string
	Key       string
	Value     string
	Speaker   string
	Timestamp time.Time
	Tags      []string
	Metadata  map[string]any
}

// EphemeralVector is an embedding computed during Upsert but not
// persisted, returned to the caller for an out-of-band PersistEmbeddingsFor
// call. Source is "full" or "summary" and matches the source argument
// PersistEmbeddingsFor expects.
type EphemeralVector struct {
	Source string
	Vector embedding.Vector
}

// UpsertResult is the outcome of Upsert, modeled as an explicit result
// value rather than exception-based control flow.
type UpsertResult struct {
	ID                  int64
	Stored              bool
	NeedsConsent        bool
	EphemeralEmbeddings []EphemeralVector
}

// Pipeline is the Memory Store: the transactional ingestion
// pipeline that owns the record store and composes the envelope codec,
// the rule engine, the redactor, the summarizer, the embedding engine,
// the FTS index and the vector store behind a single-writer mutex.
type Pipeline struct {
	mu sync.Mutex

	db      *DB
	records *RecordStore
	fts     *FTSIndex
	vectors *VectorStore
	consent *ConsentStore

	engine   *rules.Engine
	keys     crypto.KeyProvider
	embedder embedding.Provider
	policy   IndexingPolicy
	brake    BrakeChecker

	log logr.Logger
}

// PipelineOption configures optional Pipeline collaborators.
type PipelineOption func(*Pipeline)

// WithBrake wires a parking brake checker; without one, writes are never
// blocked.
func WithBrake(b BrakeChecker) PipelineOption {
	return func(p *Pipeline) { p.brake = b }
}

// NewPipeline builds the Memory Store over an already-migrated DB.
func NewPipeline(db *DB, engine *rules.Engine, keys crypto.KeyProvider, embedder embedding.Provider, policy IndexingPolicy, log logr.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		db:       db,
		records:  NewRecordStore(db.sql, keys, log),
		fts:      NewFTSIndex(db.sql, log),
		vectors:  NewVectorStore(db.sql, log),
		consent:  NewConsentStore(db.sql),
		engine:   engine,
		keys:     keys,
		embedder: embedder,
		policy:   policy,
		brake:    noopBrake{},
		log:      log.WithName("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Records exposes the underlying record store for read-only collaborators
// (the consent gate, the retriever).
func (p *Pipeline) Records() *RecordStore { return p.records }

// FTS exposes the FTS index for the retriever's search path.
func (p *Pipeline) FTS() *FTSIndex { return p.fts }

// Vectors exposes the vector store for the retriever's search path.
func (p *Pipeline) Vectors() *VectorStore { return p.vectors }

// Consent exposes the consent table for the gate and for GrantConsent.
func (p *Pipeline) Consent() *ConsentStore { return p.consent }

// Upsert runs the ingestion pipeline end to end: classify, redact,
// summarize, embed, encrypt, persist and index, all inside one
// transaction.
//
// Open question resolution (see DESIGN.md): when a record requires
// consent and none has been granted yet, the record is still stored and
// reported with NeedsConsent=true, rather than skipping storage outright.
// Granting consent afterward only makes sense if the record already
// exists for the subsequent retrieve to surface; a stored=false reading
// would leave GrantConsent with nothing to attach to.
func (p *Pipeline) Upsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.brake.IsBlocked("writes") {
		return nil, ErrBrakeEngaged
	}

	decision := p.engine.Evaluate(&rules.Record{
		Kind: in.Kind, Key: in.Key, Value: in.Value,
		Tags: in.Tags, Speaker: in.Speaker, Metadata: in.Metadata,
	})

	if !decision.AllowStore {
		return &UpsertResult{Stored: false}, nil
	}

	needsConsent := false
	if decision.RequiresConsent {
		existingID, err := p.records.IDFor(ctx, in.Kind, in.Key)
		hasConsent := false
		if err == nil {
			hasConsent, err = p.consent.Has(ctx, existingID)
			if err != nil {
				return nil, err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if !hasConsent {
			needsConsent = true
		}
	}

	redactedValue := redact.ApplyDecision(in.Value, decision)

	var summary *string
	if decision.Summarize {
		summary = summarize.Summarize(redactedValue, true)
	}

	ftsText := redactedValue
	if summary != nil && decision.FTSIndexMode == rules.FTSSummaryPreferred {
		ftsText = *summary
	}

	var embeddings []EphemeralVector
	switch decision.Embed {
	case rules.EmbedNone:
		// nothing to embed
	case rules.EmbedBoth:
		fullVec, err := p.embedder.Embed(ctx, redactedValue)
		if err != nil {
			return nil, fmt.Errorf("store: embedding record: %w", err)
		}
		embeddings = append(embeddings, EphemeralVector{Source: "full", Vector: fullVec})
		if summary != nil {
			summaryVec, err := p.embedder.Embed(ctx, *summary)
			if err != nil {
				return nil, fmt.Errorf("store: embedding summary: %w", err)
			}
			embeddings = append(embeddings, EphemeralVector{Source: "summary", Vector: summaryVec})
		}
	default:
		source, label := redactedValue, "full"
		if decision.Embed == rules.EmbedSummary && summary != nil {
			source, label = *summary, "summary"
		}
		vec, err := p.embedder.Embed(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("store: embedding record: %w", err)
		}
		embeddings = append(embeddings, EphemeralVector{Source: label, Vector: vec})
	}

	rec := &Record{
		Kind: in.Kind, Key: in.Key,
		Timestamp: in.Timestamp, Tags: in.Tags, Metadata: in.Metadata,
	}

	aad := crypto.CanonicalAAD(in.Kind, in.Key, rec.Timestamp.UTC().Format(time.RFC3339Nano), false)
	if decision.Encrypt != rules.EncryptNone {
		key, err := p.keys.Resolve(strengthFor(decision.Encrypt))
		if err != nil {
			return nil, fmt.Errorf("store: resolving key for encryption: %w", err)
		}
		env, err := crypto.Encrypt(key, []byte(redactedValue), aad)
		if err != nil {
			return nil, fmt.Errorf("store: encrypting value: %w", err)
		}
		raw, err := crypto.Marshal(env)
		if err != nil {
			return nil, err
		}
		rec.Value, rec.ValueEncrypted = raw, true

		if summary != nil {
			summaryAAD := crypto.CanonicalAAD(in.Kind, in.Key, rec.Timestamp.UTC().Format(time.RFC3339Nano), true)
			sEnv, err := crypto.Encrypt(key, []byte(*summary), summaryAAD)
			if err != nil {
				return nil, fmt.Errorf("store: encrypting summary: %w", err)
			}
			sRaw, err := crypto.Marshal(sEnv)
			if err != nil {
				return nil, err
			}
			rec.Summary, rec.SummaryEncrypted, rec.HasSummary = sRaw, true, true
		}
	} else {
		rec.Value = []byte(redactedValue)
		if summary != nil {
			rec.Summary, rec.HasSummary = []byte(*summary), true
		}
	}

	tx, err := p.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning ingestion transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	id, err := p.records.Upsert(ctx, tx, rec)
	if err != nil {
		return nil, err
	}

	indexable := p.policy.CanIndex(decision)

	if indexable && decision.FTSIndex {
		if err := p.fts.Delete(ctx, tx, id); err != nil {
			return nil, err
		}
		if err := p.fts.Index(ctx, tx, id, ftsText); err != nil {
			return nil, err
		}
	} else {
		if err := p.fts.Delete(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	if indexable && decision.EmbedStore && len(embeddings) > 0 {
		if err := p.vectors.Delete(ctx, tx, id); err != nil {
			return nil, err
		}
		for _, e := range embeddings {
			if err := p.vectors.Put(ctx, tx, id, e.Source, e.Vector); err != nil {
				return nil, err
			}
		}
	} else {
		if err := p.vectors.Delete(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: committing ingestion transaction: %w", err)
	}

	result := &UpsertResult{ID: id, Stored: true, NeedsConsent: needsConsent}
	if !decision.EmbedStore {
		result.EphemeralEmbeddings = embeddings
	}
	return result, nil
}

// Delete locates the record for (kind, key) and removes it along with
// its FTS row, embedding rows and consent row in one transaction.
func (p *Pipeline) Delete(ctx context.Context, kind, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.records.IDFor(ctx, kind, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	tx, err := p.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning delete transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := p.fts.Delete(ctx, tx, id); err != nil {
		return err
	}
	if err := p.vectors.Delete(ctx, tx, id); err != nil {
		return err
	}
	if err := p.consent.deleteTx(ctx, tx, id); err != nil {
		return err
	}
	if err := p.records.Delete(ctx, tx, id); err != nil {
		return err
	}

	return tx.Commit()
}

// GrantConsent inserts a consent row for the existing record at
// (kind, key); a no-op if the record does not exist.
func (p *Pipeline) GrantConsent(ctx context.Context, kind, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.records.IDFor(ctx, kind, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.consent.Grant(ctx, id)
}

// PersistEmbeddingsFor promotes a previously-returned ephemeral embedding
// to a stored row for id, applying the indexing guard.
func (p *Pipeline) PersistEmbeddingsFor(ctx context.Context, id int64, source string, vec embedding.Vector, decision rules.Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.policy.CanIndex(decision) {
		return nil
	}

	tx, err := p.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning embedding persist transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := p.vectors.Put(ctx, tx, id, source, vec); err != nil {
		return err
	}
	return tx.Commit()
}

func strengthFor(mode rules.EncryptMode) crypto.Strength {
	if mode == rules.EncryptStrong {
		return crypto.Strong
	}
	return crypto.Standard
}
