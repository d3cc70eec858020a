package brake

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/haven-ai/bartholomew/internal/store"
)

type recordingAudit struct {
	records []string
}

func (a *recordingAudit) RecordAudit(_ context.Context, key, value string) error {
	a.records = append(a.records, key+"="+value)
	return nil
}

func openTestBrakeStore(t *testing.T) *store.BrakeStore {
	t.Helper()
	db, err := store.Open(t.TempDir(), "test.db", logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewBrakeStore(db.Sql())
}

func TestBrakeStartsDisengaged(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, openTestBrakeStore(t), &recordingAudit{}, logr.Discard())
	require.NoError(t, err)

	engaged, scopes := b.Status()
	require.False(t, engaged)
	require.Empty(t, scopes)
	require.False(t, b.IsBlocked(ScopeWrites))
}

func TestBrakeEngageBlocksConfiguredScope(t *testing.T) {
	ctx := context.Background()
	audit := &recordingAudit{}
	b, err := New(ctx, openTestBrakeStore(t), audit, logr.Discard())
	require.NoError(t, err)

	require.NoError(t, b.Engage(ctx, ScopeWrites))

	require.True(t, b.IsBlocked(ScopeWrites))
	require.False(t, b.IsBlocked(ScopeSight))
	require.NotEmpty(t, audit.records)
}

func TestBrakeGlobalScopeBlocksEverything(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, openTestBrakeStore(t), &recordingAudit{}, logr.Discard())
	require.NoError(t, err)

	require.NoError(t, b.Engage(ctx, ScopeGlobal))

	require.True(t, b.IsBlocked(ScopeWrites))
	require.True(t, b.IsBlocked(ScopeSight))
}

func TestBrakeDisengageClearsState(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, openTestBrakeStore(t), &recordingAudit{}, logr.Discard())
	require.NoError(t, err)

	require.NoError(t, b.Engage(ctx, ScopeWrites))
	require.True(t, b.IsBlocked(ScopeWrites))

	require.NoError(t, b.Disengage(ctx))

	require.False(t, b.IsBlocked(ScopeWrites))
	engaged, scopes := b.Status()
	require.False(t, engaged)
	require.Empty(t, scopes)
}

func TestBrakeStatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := store.Open(dir, "test.db", logr.Discard())
	require.NoError(t, err)

	b, err := New(ctx, store.NewBrakeStore(db.Sql()), &recordingAudit{}, logr.Discard())
	require.NoError(t, err)
	require.NoError(t, b.Engage(ctx, ScopeWrites))
	require.NoError(t, db.Close())

	db2, err := store.Open(dir, "test.db", logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })

	b2, err := New(ctx, store.NewBrakeStore(db2.Sql()), &recordingAudit{}, logr.Discard())
	require.NoError(t, err)
	require.True(t, b2.IsBlocked(ScopeWrites))
}
