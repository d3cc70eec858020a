package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/haven-ai/bartholomew/internal/crypto"
)

// ErrNotFound is returned when a (kind, key) pair or id has no record.
var ErrNotFound = errors.New("store: record not found")

// RecordStore owns CRUD access to the records table and the decryption
// needed to hand back plaintext to callers that are allowed to see it
// (the ingestion pipeline and the consent gate).
type RecordStore struct {
	db   *sql.DB
	keys crypto.KeyProvider
	log  logr.Logger
}

// NewRecordStore builds a RecordStore bound to db, resolving encryption
// keys through keys when a record carries an envelope.
func NewRecordStore(db *sql.DB, keys crypto.KeyProvider, log logr.Logger) *RecordStore {
	return &RecordStore{db: db, keys: keys, log: log.WithName("records")}
}

// Upsert inserts or replaces the record identified by (rec.Kind, rec.Key)
// within tx and returns the stable id — (kind, key) is a unique slot.
func (s *RecordStore) Upsert(ctx context.Context, tx *sql.Tx, rec *Record) (int64, error) {
	tagsJSON, err := encodeTags(rec.Tags)
	if err != nil {
		return 0, fmt.Errorf("store: encoding tags: %w", err)
	}
	metaJSON, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return 0, fmt.Errorf("store: encoding metadata: %w", err)
	}

	var summary any
	if rec.HasSummary {
		summary = rec.Summary
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (kind, key, value, value_encrypted, summary, summary_encrypted, ts, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, key) DO UPDATE SET
			value = excluded.value,
			value_encrypted = excluded.value_encrypted,
			summary = excluded.summary,
			summary_encrypted = excluded.summary_encrypted,
			ts = excluded.ts,
			tags = excluded.tags,
			metadata = excluded.metadata`,
		rec.Kind, rec.Key, rec.Value, rec.ValueEncrypted, summary, rec.SummaryEncrypted,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), tagsJSON, metaJSON)
	if err != nil {
		return 0, fmt.Errorf("store: upserting record: %w", err)
	}

	// ON CONFLICT DO UPDATE doesn't report a fresh LastInsertId on
	// sqlite (it keeps an earlier insert's id); look the row up by its
	// unique slot instead.
	var id int64
	row := tx.QueryRowContext(ctx, "SELECT id FROM records WHERE kind = ? AND key = ?", rec.Kind, rec.Key)
	if scanErr := row.Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("store: resolving upserted record id: %w", scanErr)
	}
	return id, nil
}

// Delete removes the record row with the given id.
func (s *RecordStore) Delete(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: deleting record: %w", err)
	}
	return nil
}

// IDFor resolves the stable id for a (kind, key) slot.
func (s *RecordStore) IDFor(ctx context.Context, kind, key string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM records WHERE kind = ? AND key = ?", kind, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: resolving record id: %w", err)
	}
	return id, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var ts string
	var tagsJSON, metaJSON string
	var summary []byte
	err := row.Scan(&rec.ID, &rec.Kind, &rec.Key, &rec.Value, &rec.ValueEncrypted,
		&summary, &rec.SummaryEncrypted, &ts, &tagsJSON, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning record: %w", err)
	}
	rec.HasSummary = summary != nil
	rec.Summary = summary
	rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("store: parsing record timestamp: %w", err)
	}
	if rec.Tags, err = decodeTags(tagsJSON); err != nil {
		return nil, fmt.Errorf("store: decoding tags: %w", err)
	}
	if rec.Metadata, err = decodeMetadata(metaJSON); err != nil {
		return nil, fmt.Errorf("store: decoding metadata: %w", err)
	}
	return &rec, nil
}

const selectRecordColumns = "id, kind, key, value, value_encrypted, summary, summary_encrypted, ts, tags, metadata"

// Get loads the raw (possibly encrypted) record row by id.
func (s *RecordStore) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectRecordColumns+" FROM records WHERE id = ?", id)
	return scanRecord(row)
}

// GetByKindKey loads the raw record row by its logical slot.
func (s *RecordStore) GetByKindKey(ctx context.Context, kind, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectRecordColumns+" FROM records WHERE kind = ? AND key = ?", kind, key)
	return scanRecord(row)
}

// Plaintext is a record with value/summary fully decrypted, the shape
// the consent gate and retrieval snippets are allowed to see.
type Plaintext struct {
	ID        int64
	Kind      string
	Key       string
	Value     string
	Summary   string
	HasSummary bool
	Timestamp time.Time
	Tags      []string
	Metadata  map[string]any
}

// Decrypt resolves rec's value and summary to plaintext, using keys to
// unseal any envelope present. The key is found by matching the
// envelope's key-id against the key KeyProvider.Resolve returns for each
// strength.
func (s *RecordStore) Decrypt(rec *Record) (*Plaintext, error) {
	pt := &Plaintext{
		ID: rec.ID, Kind: rec.Kind, Key: rec.Key,
		Timestamp: rec.Timestamp, Tags: rec.Tags, Metadata: rec.Metadata,
		HasSummary: rec.HasSummary,
	}

	value, err := s.decryptField(rec.Value, rec.ValueEncrypted)
	if err != nil {
		return nil, fmt.Errorf("store: decrypting value for record %d: %w", rec.ID, err)
	}
	pt.Value = value

	if rec.HasSummary {
		summary, err := s.decryptField(rec.Summary, rec.SummaryEncrypted)
		if err != nil {
			return nil, fmt.Errorf("store: decrypting summary for record %d: %w", rec.ID, err)
		}
		pt.Summary = summary
	}
	return pt, nil
}

func (s *RecordStore) decryptField(raw []byte, encrypted bool) (string, error) {
	if !encrypted {
		return string(raw), nil
	}
	env, err := crypto.Unmarshal(raw)
	if err != nil {
		return "", err
	}
	strength, err := strengthForKID(s.keys, env.KID)
	if err != nil {
		return "", err
	}
	key, err := s.keys.Resolve(strength)
	if err != nil {
		return "", err
	}
	plaintext, err := crypto.Decrypt(key, env)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// strengthForKID tries both configured strengths and returns the one
// whose resolved key-id matches the envelope, since the envelope itself
// does not record which logical strength produced it.
func strengthForKID(keys crypto.KeyProvider, kid string) (crypto.Strength, error) {
	for _, strength := range []crypto.Strength{crypto.Standard, crypto.Strong} {
		key, err := keys.Resolve(strength)
		if err != nil {
			continue
		}
		if key.KID == kid {
			return strength, nil
		}
	}
	return "", fmt.Errorf("store: no configured key matches key-id %q", kid)
}

// LoadPlaintext resolves id to the decrypted fields the consent gate
// re-evaluates rules against, implementing consent.RecordSource.
func (s *RecordStore) LoadPlaintext(ctx context.Context, id int64) (*Plaintext, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectRecordColumns+" FROM records WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	return s.Decrypt(rec)
}

// ListIndexableText returns, for every record, the text that should be
// present in the FTS index: its summary when one exists, otherwise its
// redacted value, for use by the FTS rebuild pass. This matches the
// ingestion pipeline under fts_index_mode summary_preferred; the per-record
// mode is not stored, so other modes are not reproduced.
func (s *RecordStore) ListIndexableText(ctx context.Context) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectRecordColumns+" FROM records")
	if err != nil {
		return nil, fmt.Errorf("store: listing records for fts rebuild: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var rec Record
		var ts, tagsJSON, metaJSON string
		var summary []byte
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Key, &rec.Value, &rec.ValueEncrypted,
			&summary, &rec.SummaryEncrypted, &ts, &tagsJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("store: scanning record for fts rebuild: %w", err)
		}
		rec.HasSummary = summary != nil
		rec.Summary = summary
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)

		pt, err := s.Decrypt(&rec)
		if err != nil {
			s.log.Info("skipping record in fts rebuild, decryption failed", "id", rec.ID, "error", err.Error())
			continue
		}
		if pt.HasSummary {
			out[rec.ID] = pt.Summary
		} else {
			out[rec.ID] = pt.Value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating records for fts rebuild: %w", err)
	}
	return out, nil
}
