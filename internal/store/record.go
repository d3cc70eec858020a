package store

import (
	"encoding/json"
	"time"
)

// Record mirrors the persisted unit of memory. Value and Summary carry
// either plaintext UTF-8 bytes or a JSON-serialized crypto.Envelope,
// distinguished by the ValueEncrypted/SummaryEncrypted flags.
type Record struct {
	ID               int64
	Kind             string
	Key              string
	Value            []byte
	ValueEncrypted   bool
	Summary          []byte
	HasSummary       bool
	SummaryEncrypted bool
	Timestamp        time.Time
	Tags             []string
	Metadata         map[string]any
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	return string(b), err
}

func decodeTags(raw string) ([]string, error) {
	var tags []string
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	return string(b), err
}

func decodeMetadata(raw string) (map[string]any, error) {
	meta := map[string]any{}
	if raw == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
