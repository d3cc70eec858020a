// Package kernel assembles the default dependency graph for the memory
// governance engine and exposes its public operations: upsert, delete,
// grant_consent, persist_embeddings_for, retrieve and the brake
// controls. A factory here frees callers who don't want to wire every
// component by hand.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/haven-ai/bartholomew/internal/brake"
	"github.com/haven-ai/bartholomew/internal/config"
	"github.com/haven-ai/bartholomew/internal/consent"
	"github.com/haven-ai/bartholomew/internal/crypto"
	"github.com/haven-ai/bartholomew/internal/embedding"
	"github.com/haven-ai/bartholomew/internal/maintenance"
	"github.com/haven-ai/bartholomew/internal/retrieve"
	"github.com/haven-ai/bartholomew/internal/rules"
	"github.com/haven-ai/bartholomew/internal/store"
)

// ErrRetrievalBlocked is returned by Retrieve when the parking brake has
// the retrieval or global scope engaged.
var ErrRetrievalBlocked = errors.New("kernel: parking brake engaged for retrieval")

// Kernel is the assembled engine: every public operation of the memory
// governance engine hangs off this type.
type Kernel struct {
	db          *store.DB
	pipeline    *store.Pipeline
	retriever   *retrieve.Retriever
	brake       *brake.Brake
	rules       *rules.Engine
	scheduler   *maintenance.Scheduler
	defaultMode retrieve.ChannelMode
	log         logr.Logger
}

// auditAdapter lets the Brake record safety.audit entries through the
// ordinary ingestion pipeline without brake depending on kernel.
type auditAdapter struct{ pipeline *store.Pipeline }

func (a auditAdapter) RecordAudit(ctx context.Context, key, value string) error {
	_, err := a.pipeline.Upsert(ctx, store.UpsertInput{
		Kind: "safety.audit", Key: key, Value: value, Timestamp: time.Now(),
	})
	return err
}

// New builds the default dependency graph from cfg: opens the record
// store, compiles the rule set, resolves encryption keys, selects the
// embedding provider and wires the consent gate, retriever and parking
// brake around the ingestion pipeline.
func New(ctx context.Context, cfg config.Config, log logr.Logger) (*Kernel, error) {
	db, err := store.Open(cfg.Store.DataDir, cfg.Store.Filename, log)
	if err != nil {
		return nil, fmt.Errorf("kernel: opening record store: %w", err)
	}

	engine := rules.NewEngine(log, &cfg.MemoryRules)

	keys, err := crypto.NewStaticKeyProvider(log,
		keyBytesFromEnv(cfg.Encryption.Standard.KeyEnvVar),
		keyBytesFromEnv(cfg.Encryption.Strong.KeyEnvVar),
		cfg.Encryption.Standard.KID, cfg.Encryption.Strong.KID)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kernel: resolving encryption keys: %w", err)
	}

	embedder := selectEmbedder(cfg)

	policy := store.IndexingPolicy{DisallowStrongOnly: cfg.Indexing.DisallowStrongOnly}

	// A brake-less pipeline bootstraps the brake's own audit trail: its
	// Upsert calls must never be blocked by the very brake being wired,
	// so auditAdapter captures this pipeline value, not the brake-aware
	// one constructed below.
	bootstrapPipeline := store.NewPipeline(db, engine, keys, embedder, policy, log)

	brakeStore := store.NewBrakeStore(db.Sql())
	pb, err := brake.New(ctx, brakeStore, auditAdapter{pipeline: bootstrapPipeline}, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kernel: initializing parking brake: %w", err)
	}
	pipeline := store.NewPipeline(db, engine, keys, embedder, policy, log, store.WithBrake(pb))
	if cfg.Brake.Engaged {
		if err := pb.Engage(ctx, cfg.Brake.Scopes...); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("kernel: applying configured initial brake state: %w", err)
		}
	}

	gate := consent.New(store.NewConsentRecordSource(pipeline.Records()), pipeline.Consent(), engine, log)

	retrieveCfg := retrieve.Config{
		Mode:         retrieve.FusionMode(cfg.Retrieval.Fusion),
		WeightFTS:    cfg.Retrieval.WeightFTS,
		WeightVector: cfg.Retrieval.WeightVector,
		RRFK:         cfg.Retrieval.RRFK,
		HalfLifeHrs:  cfg.Retrieval.RecencyHalfLifeHrs,
	}
	if retrieveCfg.Mode == "" {
		retrieveCfg.Mode = retrieve.FusionWeighted
	}
	retriever := retrieve.New(pipeline.FTS(), pipeline.Vectors(), pipeline.Records(), embedder, gate, retrieveCfg, log)

	defaultMode := retrieve.ChannelMode(cfg.Retrieval.Mode)
	if defaultMode == "" {
		defaultMode = retrieve.ChannelHybrid
	}

	// Startup integrity pass: a rebuild, if one is triggered, reindexes
	// every record unconditionally rather than re-deriving each record's
	// original indexing decision, which isn't persisted.
	if err := pipeline.FTS().VerifyRowIdentity(ctx, pipeline.Records(), func(int64) bool { return true }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kernel: verifying fts row identity at startup: %w", err)
	}

	scheduler, err := maintenance.New(pipeline.FTS(), log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kernel: scheduling maintenance jobs: %w", err)
	}
	scheduler.Start()

	return &Kernel{db: db, pipeline: pipeline, retriever: retriever, brake: pb, rules: engine, scheduler: scheduler, defaultMode: defaultMode, log: log.WithName("kernel")}, nil
}

func keyBytesFromEnv(name string) []byte {
	if name == "" {
		return nil
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	return []byte(v)
}

func selectEmbedder(cfg config.Config) embedding.Provider {
	fallback := embedding.NewFallbackProvider(cfg.Embedding.Dim)
	if !cfg.EmbedEnabled || !cfg.Embedding.RemoteAllowed {
		return fallback
	}
	rps := cfg.Embedding.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Embedding.RateLimitBurst
	if burst <= 0 {
		burst = 10
	}
	return embedding.NewRateLimited(fallback, rps, burst)
}

// Close releases the kernel's underlying resources.
func (k *Kernel) Close() error {
	k.scheduler.Stop()
	return k.db.Close()
}

// Upsert is the public ingestion operation.
func (k *Kernel) Upsert(ctx context.Context, in store.UpsertInput) (*store.UpsertResult, error) {
	return k.pipeline.Upsert(ctx, in)
}

// Delete removes the record at (kind, key) and its index rows.
func (k *Kernel) Delete(ctx context.Context, kind, key string) error {
	return k.pipeline.Delete(ctx, kind, key)
}

// GrantConsent grants consent for the record at (kind, key).
func (k *Kernel) GrantConsent(ctx context.Context, kind, key string) error {
	return k.pipeline.GrantConsent(ctx, kind, key)
}

// PersistEmbeddingsFor promotes an ephemeral embedding to a stored row.
func (k *Kernel) PersistEmbeddingsFor(ctx context.Context, id int64, source string, vec embedding.Vector, decision rules.Decision) error {
	return k.pipeline.PersistEmbeddingsFor(ctx, id, source, vec, decision)
}

// Retrieve runs the retriever for query. mode restricts which candidate
// channels are consulted (hybrid|vector|fts); an empty mode falls back to
// the configured retrieval.mode default.
func (k *Kernel) Retrieve(ctx context.Context, query string, topK int, filters retrieve.Filters, mode retrieve.ChannelMode) ([]retrieve.Result, error) {
	if k.brake.IsBlocked(brake.ScopeRetrieval) {
		return nil, ErrRetrievalBlocked
	}
	if mode == "" {
		mode = k.defaultMode
	}
	return k.retriever.Search(ctx, query, topK, filters, true, mode)
}

// BrakeEngage engages the parking brake over the given scopes.
func (k *Kernel) BrakeEngage(ctx context.Context, scopes ...string) error {
	return k.brake.Engage(ctx, scopes...)
}

// BrakeDisengage disengages the parking brake.
func (k *Kernel) BrakeDisengage(ctx context.Context) error {
	return k.brake.Disengage(ctx)
}

// BrakeStatus reports the current engaged flag and scope set.
func (k *Kernel) BrakeStatus() (engaged bool, scopes []string) {
	return k.brake.Status()
}

// ReloadRules hot-swaps the active rule set atomically.
func (k *Kernel) ReloadRules(doc *rules.Document) {
	k.rules.Reload(doc)
}
