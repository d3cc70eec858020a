package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/haven-ai/bartholomew/internal/crypto"
)

func newTestKeys(t *testing.T) crypto.KeyProvider {
	t.Helper()
	keys, err := crypto.NewStaticKeyProvider(logr.Discard(), nil, nil, "standard-1", "strong-1")
	require.NoError(t, err)
	return keys
}

func TestRecordStoreUpsertIsIdempotentOnSlot(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	records := NewRecordStore(db.sql, newTestKeys(t), logr.Discard())

	rec := &Record{Kind: "chat", Key: "k1", Value: []byte("hello"), Timestamp: time.Now()}

	tx, err := db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	id1, err := records.Upsert(ctx, tx, rec)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rec.Value = []byte("updated")
	tx, err = db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	id2, err := records.Upsert(ctx, tx, rec)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Equal(t, id1, id2)

	got, err := records.Get(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "updated", string(got.Value))
}

func TestRecordStoreIDForReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	records := NewRecordStore(db.sql, newTestKeys(t), logr.Discard())

	_, err := records.IDFor(ctx, "chat", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordStoreDecryptRoundTripsEnvelope(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	keys := newTestKeys(t)
	records := NewRecordStore(db.sql, keys, logr.Discard())

	key, err := keys.Resolve(crypto.Standard)
	require.NoError(t, err)

	aad := crypto.CanonicalAAD("chat", "k1", time.Now().UTC().Format(time.RFC3339Nano), false)
	env, err := crypto.Encrypt(key, []byte("secret value"), aad)
	require.NoError(t, err)
	raw, err := crypto.Marshal(env)
	require.NoError(t, err)

	rec := &Record{Kind: "chat", Key: "k1", Value: raw, ValueEncrypted: true, Timestamp: time.Now()}

	tx, err := db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	id, err := records.Upsert(ctx, tx, rec)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	stored, err := records.Get(ctx, id)
	require.NoError(t, err)

	pt, err := records.Decrypt(stored)
	require.NoError(t, err)
	require.Equal(t, "secret value", pt.Value)
}

func TestRecordStoreListIndexableTextPrefersSummary(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	records := NewRecordStore(db.sql, newTestKeys(t), logr.Discard())

	tx, err := db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = records.Upsert(ctx, tx, &Record{
		Kind: "chat", Key: "k1", Value: []byte("full text"),
		Summary: []byte("short summary"), HasSummary: true, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	texts, err := records.ListIndexableText(ctx)
	require.NoError(t, err)
	require.Len(t, texts, 1)
	for _, v := range texts {
		require.Equal(t, "short summary", v)
	}
}
