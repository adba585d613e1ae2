package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/ir"
)

// marshalValue converts cached data to canonical JSON TEXT for storage.
func marshalValue(v any) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored JSON TEXT. Numbers decode as json.Number
// so integers above 2^53 survive a round trip.
func unmarshalValue(text string) (any, error) {
	if text == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func unmarshalIDs(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(text), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func slotChecksum(r fragment.SlotRecord) (string, error) {
	return ir.Fingerprint(map[string]any{
		"tombstoned": r.Tombstoned,
		"status":     r.Status,
		"timestamp":  r.Timestamp,
		"data":       r.Data,
	})
}

func queryChecksum(r fragment.QueryRecord) (string, error) {
	ids := r.IDs
	if ids == nil {
		ids = []string{}
	}
	return ir.Fingerprint(map[string]any{
		"tombstoned": r.Tombstoned,
		"status":     r.Status,
		"timestamp":  r.Timestamp,
		"partial":    r.Partial,
		"kind":       string(r.Kind),
		"ids":        ids,
		"ref":        r.Ref,
		"raw":        r.Raw,
	})
}
