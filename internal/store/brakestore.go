package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// BrakeState is the persisted shape of the parking brake's single-row
// system_flags table.
type BrakeState struct {
	Engaged bool
	Scopes  []string
}

// BrakeStore persists the parking brake's state so it survives a
// process restart.
type BrakeStore struct {
	db *sql.DB
}

// NewBrakeStore builds a BrakeStore bound to db.
func NewBrakeStore(db *sql.DB) *BrakeStore {
	return &BrakeStore{db: db}
}

// Load reads the current brake state, seeded disengaged by migration
// 0001 if never written.
func (b *BrakeStore) Load(ctx context.Context) (BrakeState, error) {
	var engaged bool
	var scopesJSON string
	err := b.db.QueryRowContext(ctx, "SELECT brake_engaged, brake_scopes FROM system_flags WHERE id = 1").
		Scan(&engaged, &scopesJSON)
	if err != nil {
		return BrakeState{}, fmt.Errorf("store: loading brake state: %w", err)
	}
	var scopes []string
	if scopesJSON != "" {
		if err := json.Unmarshal([]byte(scopesJSON), &scopes); err != nil {
			return BrakeState{}, fmt.Errorf("store: decoding brake scopes: %w", err)
		}
	}
	return BrakeState{Engaged: engaged, Scopes: scopes}, nil
}

// Save persists a new brake state.
func (b *BrakeStore) Save(ctx context.Context, state BrakeState) error {
	scopes := state.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return fmt.Errorf("store: encoding brake scopes: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		"UPDATE system_flags SET brake_engaged = ?, brake_scopes = ? WHERE id = 1",
		state.Engaged, string(scopesJSON))
	if err != nil {
		return fmt.Errorf("store: saving brake state: %w", err)
	}
	return nil
}
