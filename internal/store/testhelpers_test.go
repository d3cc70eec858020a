package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

// seedRecord inserts a plaintext record under (kind "test", key) and
// returns its id, for tests of tables whose rows reference records.
func seedRecord(t *testing.T, db *DB, key string) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := db.sql.BeginTx(ctx, nil)
	require.NoError(t, err)
	id, err := NewRecordStore(db.sql, nil, logr.Discard()).Upsert(ctx, tx, &Record{Kind: "test", Key: key, Value: []byte(key), Timestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), "test.db", logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
