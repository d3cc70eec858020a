package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBrakeStoreLoadDefaultsToDisengaged(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	bs := NewBrakeStore(db.sql)

	state, err := bs.Load(ctx)
	require.NoError(t, err)
	require.False(t, state.Engaged)
	require.Empty(t, state.Scopes)
}

func TestBrakeStoreSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	bs := NewBrakeStore(db.sql)

	require.NoError(t, bs.Save(ctx, BrakeState{Engaged: true, Scopes: []string{"writes", "global"}}))

	state, err := bs.Load(ctx)
	require.NoError(t, err)
	require.True(t, state.Engaged)
	require.ElementsMatch(t, []string{"writes", "global"}, state.Scopes)
}
