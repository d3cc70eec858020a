package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestFTSIndexSearchFindsIndexedBody(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fts := NewFTSIndex(db.sql, logr.Discard())

	tx, err := db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, fts.Index(ctx, tx, 1, "the quick brown fox"))
	require.NoError(t, tx.Commit())

	hits, err := fts.Search(ctx, "quick", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, int64(1), hits[0].ID)
}

func TestFTSIndexDeleteThenIndexReplacesRow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fts := NewFTSIndex(db.sql, logr.Discard())

	tx, err := db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, fts.Index(ctx, tx, 1, "original body"))
	require.NoError(t, tx.Commit())

	tx, err = db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, fts.Delete(ctx, tx, 1))
	require.NoError(t, fts.Index(ctx, tx, 1, "replacement body"))
	require.NoError(t, tx.Commit())

	hits, err := fts.Search(ctx, "original", 10)
	require.NoError(t, err)
	require.Empty(t, hits)

	hits, err = fts.Search(ctx, "replacement", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestFTSIndexRebuildRepopulatesFromRecords(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fts := NewFTSIndex(db.sql, logr.Discard())
	records := NewRecordStore(db.sql, newTestKeys(t), logr.Discard())

	tx, err := db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	id, err := records.Upsert(ctx, tx, &Record{Kind: "chat", Key: "k1", Value: []byte("hello world"), Timestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, fts.Rebuild(ctx, records, nil))

	hits, err := fts.Search(ctx, "hello", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, id, hits[0].ID)
}

func TestFTSIndexVerifyRowIdentityRebuildsOnOrphan(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fts := NewFTSIndex(db.sql, logr.Discard())
	records := NewRecordStore(db.sql, newTestKeys(t), logr.Discard())

	tx, err := db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, fts.Index(ctx, tx, 999, "orphaned row with no record"))
	require.NoError(t, tx.Commit())

	require.NoError(t, fts.VerifyRowIdentity(ctx, records, nil))

	hits, err := fts.Search(ctx, "orphaned", 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}
