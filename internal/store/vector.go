package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/go-logr/logr"
	"github.com/haven-ai/bartholomew/internal/embedding"
)

// VectorCandidate is a single vector-search hit: a record id and its
// cosine similarity against the query vector.
type VectorCandidate struct {
	ID    int64
	Score float64
}

// VectorStore is the local vector store: one embedding row per
// (record, source), searched by exact cosine similarity over the identity-matching
// subset. This stays unindexed (no ANN structure) since the expected
// corpus size for a single person's memory kernel never approaches the
// scale where a linear scan becomes the bottleneck.
type VectorStore struct {
	db  *sql.DB
	log logr.Logger
}

// NewVectorStore builds a VectorStore bound to db.
func NewVectorStore(db *sql.DB, log logr.Logger) *VectorStore {
	return &VectorStore{db: db, log: log.WithName("vectorstore")}
}

// Put inserts the embedding row for a record within tx, replacing any
// prior row for the same (memory id, source) pair. A record can carry
// independent "full" and "summary" rows side by side; only a second Put
// for the same source replaces its predecessor.
func (v *VectorStore) Put(ctx context.Context, tx *sql.Tx, memoryID int64, source string, vec embedding.Vector) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE memory_id = ? AND source = ?", memoryID, source); err != nil {
		return fmt.Errorf("store: clearing prior embedding: %w", err)
	}
	blob := encodeVector(vec.Values)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO embeddings (memory_id, source, provider, model, dim, vec, norm)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		memoryID, source, vec.Identity.Provider, vec.Identity.Model, vec.Identity.Dim, blob, vec.Norm)
	if err != nil {
		return fmt.Errorf("store: inserting embedding: %w", err)
	}
	return nil
}

// Delete removes any embedding row for memoryID.
func (v *VectorStore) Delete(ctx context.Context, tx *sql.Tx, memoryID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE memory_id = ?", memoryID); err != nil {
		return fmt.Errorf("store: deleting embedding: %w", err)
	}
	return nil
}

// Search scores every embedding row whose (provider, model, dim) matches
// the query identity by cosine similarity against qvec, returning the
// top k by descending score. allowMismatch bypasses the identity gate,
// an administrative override for embedding migrations.
func (v *VectorStore) Search(ctx context.Context, qvec embedding.Vector, k int, allowMismatch bool) ([]VectorCandidate, error) {
	if k <= 0 {
		return nil, nil
	}

	query := `SELECT memory_id, vec FROM embeddings`
	args := []any{}
	if !allowMismatch {
		query += ` WHERE provider = ? AND model = ? AND dim = ?`
		args = append(args, qvec.Identity.Provider, qvec.Identity.Model, qvec.Identity.Dim)
	}

	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying embeddings: %w", err)
	}
	defer rows.Close()

	var candidates []VectorCandidate
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("store: scanning embedding row: %w", err)
		}
		values, err := decodeVector(blob)
		if err != nil {
			v.log.Info("skipping malformed embedding row", "id", id, "error", err.Error())
			continue
		}
		score, ok := cosineSimilarity(qvec.Values, values)
		if !ok {
			continue
		}
		candidates = append(candidates, VectorCandidate{ID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating embedding rows: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

func encodeVector(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, f := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("store: embedding blob length %d not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
