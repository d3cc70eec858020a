package consent

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/haven-ai/bartholomew/internal/rules"
)

type fakeRecords struct {
	byID map[int64]*PlaintextRecord
}

func (f *fakeRecords) LoadPlaintext(_ context.Context, id int64) (*PlaintextRecord, error) {
	return f.byID[id], nil
}

type fakeConsent struct {
	granted map[int64]bool
}

func (f *fakeConsent) IDs(context.Context) (map[int64]bool, error) { return f.granted, nil }
func (f *fakeConsent) Has(_ context.Context, id int64) (bool, error) {
	return f.granted[id], nil
}

func TestGateFilterExcludesUngrantedConsentRequiredRecord(t *testing.T) {
	ctx := context.Background()
	records := &fakeRecords{byID: map[int64]*PlaintextRecord{
		1: {Kind: "health", Key: "k1", Value: "resting heart rate 52"},
	}}
	consentTable := &fakeConsent{granted: map[int64]bool{}}
	engine := rules.NewEngine(logr.Discard(), &rules.Document{
		AskBeforeStore: []rules.Rule{{Match: rules.Match{Kind: "health"}}},
	})
	gate := New(records, consentTable, engine, logr.Discard())

	results, err := gate.Filter(ctx, []int64{1})
	require.NoError(t, err)
	require.False(t, results[1].Include)
}

func TestGateFilterIncludesGrantedConsentRequiredRecord(t *testing.T) {
	ctx := context.Background()
	records := &fakeRecords{byID: map[int64]*PlaintextRecord{
		1: {Kind: "health", Key: "k1", Value: "resting heart rate 52"},
	}}
	consentTable := &fakeConsent{granted: map[int64]bool{1: true}}
	engine := rules.NewEngine(logr.Discard(), &rules.Document{
		AskBeforeStore: []rules.Rule{{Match: rules.Match{Kind: "health"}}},
	})
	gate := New(records, consentTable, engine, logr.Discard())

	results, err := gate.Filter(ctx, []int64{1})
	require.NoError(t, err)
	require.True(t, results[1].Include)
}

func TestGateApplyBypassPassesThroughAllCandidatesUnfiltered(t *testing.T) {
	ctx := context.Background()
	records := &fakeRecords{byID: map[int64]*PlaintextRecord{
		1: {Kind: "health", Key: "k1", Value: "resting heart rate 52"},
	}}
	consentTable := &fakeConsent{granted: map[int64]bool{}}
	engine := rules.NewEngine(logr.Discard(), &rules.Document{
		AskBeforeStore: []rules.Rule{{Match: rules.Match{Kind: "health"}}},
	})
	gate := New(records, consentTable, engine, logr.Discard())

	out, err := gate.Apply(ctx, []Candidate{{ID: 1, Score: 0.9}}, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1.0, out[0].RetrievalBoost)
}

func TestGateApplyFiltersAndAnnotatesSurvivors(t *testing.T) {
	ctx := context.Background()
	records := &fakeRecords{byID: map[int64]*PlaintextRecord{
		1: {Kind: "chat", Key: "k1", Value: "hello"},
		2: {Kind: "health", Key: "k2", Value: "resting heart rate"},
	}}
	consentTable := &fakeConsent{granted: map[int64]bool{}}
	engine := rules.NewEngine(logr.Discard(), &rules.Document{
		AskBeforeStore: []rules.Rule{{Match: rules.Match{Kind: "health"}}},
		AlwaysKeep:     []rules.Rule{{Match: rules.Match{Kind: "chat"}, Metadata: rules.Metadata{RetrievalBoost: floatPtr(1.5)}}},
	})
	gate := New(records, consentTable, engine, logr.Discard())

	out, err := gate.Apply(ctx, []Candidate{{ID: 1, Score: 0.5}, {ID: 2, Score: 0.9}}, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].ID)
	require.Equal(t, 1.5, out[0].RetrievalBoost)
}

func floatPtr(f float64) *float64 { return &f }
