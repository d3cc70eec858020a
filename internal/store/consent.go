package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ConsentStore owns the consent table: one row per memory id for which
// a human has explicitly granted recall of a requires_consent record.
type ConsentStore struct {
	db *sql.DB
}

// NewConsentStore builds a ConsentStore bound to db.
func NewConsentStore(db *sql.DB) *ConsentStore {
	return &ConsentStore{db: db}
}

// Grant inserts a consent row for memoryID, a no-op if one already
// exists.
func (c *ConsentStore) Grant(ctx context.Context, memoryID int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO consent (memory_id, granted_at) VALUES (?, ?)
		ON CONFLICT(memory_id) DO NOTHING`,
		memoryID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: granting consent: %w", err)
	}
	return nil
}

// deleteTx removes the consent row for memoryID within an existing
// transaction, used by the delete cascade.
func (c *ConsentStore) deleteTx(ctx context.Context, tx *sql.Tx, memoryID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM consent WHERE memory_id = ?", memoryID); err != nil {
		return fmt.Errorf("store: deleting consent row: %w", err)
	}
	return nil
}

// Has reports whether memoryID carries a consent row.
func (c *ConsentStore) Has(ctx context.Context, memoryID int64) (bool, error) {
	var exists int
	err := c.db.QueryRowContext(ctx, "SELECT 1 FROM consent WHERE memory_id = ?", memoryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: checking consent: %w", err)
	}
	return true, nil
}

// IDs returns the full set of memory ids with a consent row.
func (c *ConsentStore) IDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT memory_id FROM consent")
	if err != nil {
		return nil, fmt.Errorf("store: listing consented ids: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning consented id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}
