// Package brake implements the Parking Brake: a persisted, scoped
// kill-switch gating writes and autonomy.
package brake

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/haven-ai/bartholomew/internal/store"
)

// Scopes recognized by the brake.
const (
	ScopeGlobal    = "global"
	ScopeSkills    = "skills"
	ScopeSight     = "sight"
	ScopeVoice     = "voice"
	ScopeScheduler = "scheduler"
	ScopeWrites    = "writes"
	ScopeRetrieval = "retrieval"
)

// AuditRecorder writes the safety.audit record every brake transition
// must produce. The record goes through the ordinary ingestion pipeline,
// so the active rule set decides whether the kind "safety.audit" is
// stored; a rule set that refuses it drops the audit record.
type AuditRecorder interface {
	RecordAudit(ctx context.Context, key, value string) error
}

// Brake is the OFF <-> ON(scopes) state machine backing the kill-switch.
// Engage and Disengage are modeled on top of a gobreaker.CircuitBreaker: the
// breaker's own failure-counting trip logic isn't a fit for an
// explicitly operator-toggled switch, so each transition forces the
// breaker's state directly (a single synthetic failing probe to open it,
// a freshly constructed breaker swapped in to close it) and the breaker
// contributes request-count metrics for free via its Counts() accessor.
type Brake struct {
	mu     sync.Mutex
	cb     atomic.Pointer[gobreaker.CircuitBreaker[any]]
	scopes atomic.Pointer[map[string]bool]

	persist *store.BrakeStore
	audit   AuditRecorder
	log     logr.Logger
}

// New builds a Brake, loading any persisted state from persist so the
// kill-switch survives a restart.
func New(ctx context.Context, persist *store.BrakeStore, audit AuditRecorder, log logr.Logger) (*Brake, error) {
	b := &Brake{persist: persist, audit: audit, log: log.WithName("brake")}
	b.cb.Store(newClosedBreaker())
	b.scopes.Store(&map[string]bool{})

	state, err := persist.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("brake: loading persisted state: %w", err)
	}
	if state.Engaged {
		set := toSet(state.Scopes)
		b.scopes.Store(&set)
		forceOpen(b.cb.Load())
	}
	return b, nil
}

func newClosedBreaker() *gobreaker.CircuitBreaker[any] {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "parking-brake",
		MaxRequests: 1,
		// The largest Duration keeps the open state from ever expiring:
		// the brake is only ever closed again by an explicit Disengage,
		// not by the breaker's own half-open retry timer.
		Timeout: time.Duration(math.MaxInt64),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})
	return cb
}

// forceOpen trips cb via one synthetic failing request.
func forceOpen(cb *gobreaker.CircuitBreaker[any]) {
	_, _ = cb.Execute(func() (any, error) {
		return nil, errEngaged
	})
}

var errEngaged = fmt.Errorf("brake: forced open for engage")

func toSet(scopes []string) map[string]bool {
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return set
}

func fromSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Engage unions scopes into the currently-engaged set and trips the
// breaker open.
func (b *Brake) Engage(ctx context.Context, scopes ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.scopes.Load()
	union := make(map[string]bool, len(current)+len(scopes))
	for s := range current {
		union[s] = true
	}
	for _, s := range scopes {
		union[s] = true
	}
	b.scopes.Store(&union)
	forceOpen(b.cb.Load())

	if err := b.persist.Save(ctx, store.BrakeState{Engaged: true, Scopes: fromSet(union)}); err != nil {
		return err
	}
	return b.auditTransition(ctx, "engage", fromSet(union))
}

// Disengage returns the brake to OFF.
func (b *Brake) Disengage(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cb.Store(newClosedBreaker())
	empty := map[string]bool{}
	b.scopes.Store(&empty)

	if err := b.persist.Save(ctx, store.BrakeState{Engaged: false}); err != nil {
		return err
	}
	return b.auditTransition(ctx, "disengage", nil)
}

func (b *Brake) auditTransition(ctx context.Context, kind string, scopes []string) error {
	if b.audit == nil {
		return nil
	}
	payload, err := json.Marshal(struct {
		Transition string   `json:"transition"`
		Scopes     []string `json:"scopes"`
	}{Transition: kind, Scopes: scopes})
	if err != nil {
		return fmt.Errorf("brake: encoding audit payload: %w", err)
	}
	key := fmt.Sprintf("%s-%s", kind, uuid.NewString())
	if err := b.audit.RecordAudit(ctx, key, string(payload)); err != nil {
		b.log.Info("failed to record brake audit entry", "error", err.Error())
	}
	return nil
}

// IsBlocked implements the is_blocked(scope) predicate: ON and
// (global engaged or scope engaged).
func (b *Brake) IsBlocked(scope string) bool {
	if b.cb.Load().State() != gobreaker.StateOpen {
		return false
	}
	scopes := *b.scopes.Load()
	return scopes[ScopeGlobal] || scopes[scope]
}

// Status reports the current engaged flag and scope set for callers
// exposing brake_status().
func (b *Brake) Status() (engaged bool, scopes []string) {
	set := *b.scopes.Load()
	return b.cb.Load().State() == gobreaker.StateOpen, fromSet(set)
}
