package store

import (
	"context"
	"fmt"

	"github.com/haven-ai/bartholomew/internal/consent"
)

// ConsentRecordSource adapts RecordStore to consent.RecordSource, the
// narrow decrypted view the gate re-evaluates rules against.
type ConsentRecordSource struct {
	records *RecordStore
}

// NewConsentRecordSource builds the adapter.
func NewConsentRecordSource(records *RecordStore) *ConsentRecordSource {
	return &ConsentRecordSource{records: records}
}

// LoadPlaintext implements consent.RecordSource.
func (a *ConsentRecordSource) LoadPlaintext(ctx context.Context, id int64) (*consent.PlaintextRecord, error) {
	pt, err := a.records.LoadPlaintext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("store: loading record %d for consent gate: %w", id, err)
	}

	speaker, _ := pt.Metadata["speaker"].(string)
	return &consent.PlaintextRecord{
		Kind:     pt.Kind,
		Key:      pt.Key,
		Value:    pt.Value,
		Speaker:  speaker,
		Tags:     pt.Tags,
		Metadata: pt.Metadata,
	}, nil
}
