package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// FTSCandidate is a single full-text search hit: a record id and its raw
// BM25-derived score (more negative means more relevant, per sqlite's
// fts5 bm25() convention — callers normalize before comparing channels).
type FTSCandidate struct {
	ID       int64
	RawScore float64
}

// FTSIndex is the full-text index, co-resident with the record
// store and keyed by the record id as the fts5 table's rowid.
type FTSIndex struct {
	db  *sql.DB
	log logr.Logger

	probeOnce      sync.Once
	unavailable    atomic.Bool
	degradedLogged atomic.Bool
}

// NewFTSIndex builds an FTSIndex bound to db.
func NewFTSIndex(db *sql.DB, log logr.Logger) *FTSIndex {
	return &FTSIndex{db: db, log: log.WithName("fts")}
}

// probe checks fts5 availability exactly once per process. A
// fresh sqlite3 build with fts5 compiled in never fails this, but an
// exotic build or a corrupted fts shadow table will, and from then on
// the index silently degrades to an empty candidate set.
func (f *FTSIndex) probe(ctx context.Context) {
	f.probeOnce.Do(func() {
		if _, err := f.db.ExecContext(ctx, "INSERT INTO fts_index(fts_index) VALUES('integrity-check')"); err != nil {
			f.unavailable.Store(true)
			f.log.Info("fts5 capability unavailable, degrading to empty candidate set", "error", err.Error())
		}
	})
}

// Index inserts or replaces the FTS row for id with body as its content.
// Callers must call Delete first if a row may already exist — the
// pipeline always deletes-then-inserts within the same transaction.
func (f *FTSIndex) Index(ctx context.Context, tx *sql.Tx, id int64, body string) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO fts_index(rowid, body) VALUES (?, ?)", id, body)
	if err != nil {
		return fmt.Errorf("store: fts insert: %w", err)
	}
	return nil
}

// Delete removes any FTS row for id, a no-op if none exists.
func (f *FTSIndex) Delete(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM fts_index WHERE rowid = ?", id)
	if err != nil {
		return fmt.Errorf("store: fts delete: %w", err)
	}
	return nil
}

// Search runs a full-text query and returns up to k candidates ordered by
// descending relevance (most-negative bm25 first). If the FTS capability
// was found unavailable on first probe, it degrades silently and returns
// an empty slice instead of an error.
func (f *FTSIndex) Search(ctx context.Context, query string, k int) ([]FTSCandidate, error) {
	f.probe(ctx)
	if f.unavailable.Load() {
		return nil, nil
	}
	if query == "" || k <= 0 {
		return nil, nil
	}

	rows, err := f.db.QueryContext(ctx,
		`SELECT rowid, bm25(fts_index) AS score FROM fts_index
		 WHERE fts_index MATCH ? ORDER BY score LIMIT ?`, query, k)
	if err != nil {
		if f.log.Enabled() {
			f.logDegradeOnce(err)
		}
		return nil, nil
	}
	defer rows.Close()

	var out []FTSCandidate
	for rows.Next() {
		var c FTSCandidate
		if err := rows.Scan(&c.ID, &c.RawScore); err != nil {
			return nil, fmt.Errorf("store: scanning fts row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating fts rows: %w", err)
	}
	return out, nil
}

func (f *FTSIndex) logDegradeOnce(err error) {
	if f.degradedLogged.CompareAndSwap(false, true) {
		f.log.Info("fts query failed, channel degraded for this call", "error", err.Error())
	}
}

// Merge runs the fts5 "merge" optimize command to reduce index
// fragmentation, intended to be invoked on a weekly schedule.
func (f *FTSIndex) Merge(ctx context.Context) error {
	if f.unavailable.Load() {
		return nil
	}
	_, err := f.db.ExecContext(ctx, "INSERT INTO fts_index(fts_index, rank) VALUES('merge', 500)")
	if err != nil {
		return fmt.Errorf("store: fts merge: %w", err)
	}
	return nil
}

// VerifyRowIdentity counts FTS rows whose rowid has no record and, if
// any are found, rebuilds the index from the record store. This runs at
// startup.
func (f *FTSIndex) VerifyRowIdentity(ctx context.Context, records RecordLister, canIndex func(id int64) bool) error {
	row := f.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fts_index f
		LEFT JOIN records r ON r.id = f.rowid
		WHERE r.id IS NULL`)
	var orphaned int
	if err := row.Scan(&orphaned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("store: verifying fts row identity: %w", err)
	}
	if orphaned == 0 {
		return nil
	}

	f.log.Info("fts row-id identity mismatch detected, rebuilding index", "orphaned_rows", orphaned)
	return f.Rebuild(ctx, records, canIndex)
}

// RecordLister is the narrow read-only view the FTS rebuild needs of the
// record store — it never sees the ingestion pipeline, which would
// otherwise create an import cycle.
type RecordLister interface {
	ListIndexableText(ctx context.Context) (map[int64]string, error)
}

// Rebuild truncates and repopulates the FTS index from the record store's
// current indexable text for every record that passes canIndex.
func (f *FTSIndex) Rebuild(ctx context.Context, records RecordLister, canIndex func(id int64) bool) error {
	texts, err := records.ListIndexableText(ctx)
	if err != nil {
		return fmt.Errorf("store: listing indexable text for fts rebuild: %w", err)
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning fts rebuild transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM fts_index"); err != nil {
		return fmt.Errorf("store: clearing fts index: %w", err)
	}
	for id, body := range texts {
		if canIndex != nil && !canIndex(id) {
			continue
		}
		if err := f.Index(ctx, tx, id, body); err != nil {
			return err
		}
	}

	return tx.Commit()
}
