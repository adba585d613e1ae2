package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/store"
)

// Summary counts what a save or load moved.
type Summary struct {
	Stores  int `json:"stores"`
	Slots   int `json:"slots"`
	Queries int `json:"queries"`
}

// Save replaces the snapshot with the current state of every store in r.
// The write is a single transaction: readers see the old snapshot or the
// new one, never a mix.
func (d *DB) Save(ctx context.Context, r *store.Registry) (Summary, error) {
	var sum Summary

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return sum, fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback()

	// Rows in slots and queries go with their store.
	if _, err := tx.ExecContext(ctx, `DELETE FROM stores`); err != nil {
		return sum, fmt.Errorf("save snapshot: clear: %w", err)
	}

	for _, typ := range r.Types() {
		s, ok := r.Lookup(typ)
		if !ok {
			continue
		}
		n, err := writeStore(ctx, tx, s)
		if err != nil {
			return sum, fmt.Errorf("save snapshot: store %q: %w", typ, err)
		}
		sum.Stores++
		sum.Slots += n.Slots
		sum.Queries += n.Queries
	}

	savedAt := strconv.FormatInt(d.now().UnixMilli(), 10)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('saved_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, savedAt); err != nil {
		return sum, fmt.Errorf("save snapshot: meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return sum, fmt.Errorf("save snapshot: commit: %w", err)
	}

	d.logger.Info("snapshot saved", "stores", sum.Stores, "slots", sum.Slots, "queries", sum.Queries)
	return sum, nil
}

func writeStore(ctx context.Context, tx *sql.Tx, s *store.Store) (Summary, error) {
	var sum Summary
	def := s.Definition()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stores (type, shadow, param_id) VALUES (?, ?, ?)
	`, s.Type(), s.IsShadow(), def.ParamID); err != nil {
		return sum, fmt.Errorf("insert store: %w", err)
	}

	st := s.Export()
	for _, rec := range st.Slots {
		if err := writeSlot(ctx, tx, s.Type(), rec); err != nil {
			return sum, err
		}
		sum.Slots++
	}
	for _, rec := range st.Queries {
		if err := writeQuery(ctx, tx, s.Type(), rec); err != nil {
			return sum, err
		}
		sum.Queries++
	}
	return sum, nil
}

func writeSlot(ctx context.Context, tx *sql.Tx, typ string, rec fragment.SlotRecord) error {
	data, err := marshalValue(rec.Data)
	if err != nil {
		return fmt.Errorf("slot %s/%s: %w", rec.Fragment, rec.ID, err)
	}
	sum, err := slotChecksum(rec)
	if err != nil {
		return fmt.Errorf("slot %s/%s: %w", rec.Fragment, rec.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO slots
		(store_type, fragment, id, tombstoned, status, timestamp, data, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		typ,
		rec.Fragment,
		rec.ID,
		rec.Tombstoned,
		string(rec.Status),
		rec.Timestamp,
		data,
		sum,
	)
	if err != nil {
		return fmt.Errorf("insert slot %s/%s: %w", rec.Fragment, rec.ID, err)
	}
	return nil
}

func writeQuery(ctx context.Context, tx *sql.Tx, typ string, rec fragment.QueryRecord) error {
	ids := rec.IDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := marshalValue(ids)
	if err != nil {
		return fmt.Errorf("query %s: %w", rec.Path, err)
	}
	raw, err := marshalValue(rec.Raw)
	if err != nil {
		return fmt.Errorf("query %s: %w", rec.Path, err)
	}
	sum, err := queryChecksum(rec)
	if err != nil {
		return fmt.Errorf("query %s: %w", rec.Path, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queries
		(store_type, path, tombstoned, status, timestamp, partial, kind, ids, ref, raw, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		typ,
		rec.Path,
		rec.Tombstoned,
		string(rec.Status),
		rec.Timestamp,
		rec.Partial,
		string(rec.Kind),
		idsJSON,
		rec.Ref,
		raw,
		sum,
	)
	if err != nil {
		return fmt.Errorf("insert query %s: %w", rec.Path, err)
	}
	return nil
}
