package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
)

// ChecksumError reports a row whose content no longer matches the
// fingerprint written with it.
type ChecksumError struct {
	Type string
	Key  string // "fragment/id" for slots, the path for queries
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("snapshot row %s %s: checksum mismatch (stored %.12s, computed %.12s)",
		e.Type, e.Key, e.Want, e.Got)
}

// StoreInfo describes one persisted store.
type StoreInfo struct {
	Type       string `json:"type"`
	Shadow     bool   `json:"shadow"`
	ParamID    string `json:"paramId,omitempty"`
	Slots      int    `json:"slots"`
	Tombstones int    `json:"tombstones"`
	Queries    int    `json:"queries"`
}

// Stores lists persisted stores ordered by type.
//
// Returns an empty slice (not nil) for an empty snapshot.
func (d *DB) Stores(ctx context.Context) ([]StoreInfo, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT s.type, s.shadow, s.param_id,
			(SELECT COUNT(*) FROM slots WHERE store_type = s.type AND tombstoned = 0),
			(SELECT COUNT(*) FROM slots WHERE store_type = s.type AND tombstoned = 1),
			(SELECT COUNT(*) FROM queries WHERE store_type = s.type)
		FROM stores s
		ORDER BY s.type COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	infos := []StoreInfo{}
	for rows.Next() {
		var info StoreInfo
		if err := rows.Scan(&info.Type, &info.Shadow, &info.ParamID, &info.Slots, &info.Tombstones, &info.Queries); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return infos, nil
}

// SavedAt returns the wall-clock time of the last save in milliseconds.
// The second result is false if nothing was ever saved.
func (d *DB) SavedAt(ctx context.Context) (int64, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'saved_at'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read saved_at: %w", err)
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("read saved_at: %w", err)
	}
	return ms, true, nil
}

// ReadState returns the persisted cache state of one store type, with
// slots and queries in export order. A type that was never saved yields
// an empty state.
func (d *DB) ReadState(ctx context.Context, typ string) (fragment.State, error) {
	st := fragment.State{Slots: []fragment.SlotRecord{}, Queries: []fragment.QueryRecord{}}

	slots, err := d.readSlots(ctx, typ)
	if err != nil {
		return st, err
	}
	queries, err := d.readQueries(ctx, typ)
	if err != nil {
		return st, err
	}
	st.Slots = slots
	st.Queries = queries
	return st, nil
}

func (d *DB) readSlots(ctx context.Context, typ string) ([]fragment.SlotRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT fragment, id, tombstoned, status, timestamp, data, checksum
		FROM slots
		WHERE store_type = ?
		ORDER BY fragment COLLATE BINARY ASC, id COLLATE BINARY ASC
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	records := []fragment.SlotRecord{}
	for rows.Next() {
		var (
			rec      fragment.SlotRecord
			status   string
			data     string
			checksum string
		)
		if err := rows.Scan(&rec.Fragment, &rec.ID, &rec.Tombstoned, &status, &rec.Timestamp, &data, &checksum); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		rec.Status = ir.Status(status)
		if rec.Data, err = unmarshalValue(data); err != nil {
			return nil, fmt.Errorf("slot %s/%s: %w", rec.Fragment, rec.ID, err)
		}

		got, err := slotChecksum(rec)
		if err != nil {
			return nil, fmt.Errorf("slot %s/%s: %w", rec.Fragment, rec.ID, err)
		}
		if got != checksum {
			return nil, &ChecksumError{Type: typ, Key: rec.Fragment + "/" + rec.ID, Want: checksum, Got: got}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return records, nil
}

func (d *DB) readQueries(ctx context.Context, typ string) ([]fragment.QueryRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT path, tombstoned, status, timestamp, partial, kind, ids, ref, raw, checksum
		FROM queries
		WHERE store_type = ?
		ORDER BY path COLLATE BINARY ASC
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("query queries: %w", err)
	}
	defer rows.Close()

	records := []fragment.QueryRecord{}
	for rows.Next() {
		var (
			rec      fragment.QueryRecord
			status   string
			kind     string
			ids      string
			raw      string
			checksum string
		)
		if err := rows.Scan(&rec.Path, &rec.Tombstoned, &status, &rec.Timestamp, &rec.Partial,
			&kind, &ids, &rec.Ref, &raw, &checksum); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		rec.Status = ir.Status(status)
		rec.Kind = fragment.QueryKind(kind)
		if rec.IDs, err = unmarshalIDs(ids); err != nil {
			return nil, fmt.Errorf("query %s: %w", rec.Path, err)
		}
		if rec.Raw, err = unmarshalValue(raw); err != nil {
			return nil, fmt.Errorf("query %s: %w", rec.Path, err)
		}

		got, err := queryChecksum(rec)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", rec.Path, err)
		}
		if got != checksum {
			return nil, &ChecksumError{Type: typ, Key: rec.Path, Want: checksum, Got: got}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queries: %w", err)
	}
	return records, nil
}

// Load imports the snapshot into r. A persisted type missing from r is
// created as a shadow store so a later definition can claim it. Every
// store's state is read and verified before any cache is replaced.
func (d *DB) Load(ctx context.Context, r *store.Registry) (Summary, error) {
	var sum Summary

	infos, err := d.Stores(ctx)
	if err != nil {
		return sum, fmt.Errorf("load snapshot: %w", err)
	}

	states := make([]fragment.State, len(infos))
	for i, info := range infos {
		st, err := d.ReadState(ctx, info.Type)
		if err != nil {
			return sum, fmt.Errorf("load snapshot: store %q: %w", info.Type, err)
		}
		states[i] = st
	}

	for i, info := range infos {
		s, ok := r.Lookup(info.Type)
		if !ok {
			s, err = r.Shadow(info.Type)
			if err != nil {
				return sum, fmt.Errorf("load snapshot: %w", err)
			}
		}
		if err := s.Import(states[i]); err != nil {
			return sum, fmt.Errorf("load snapshot: store %q: %w", info.Type, err)
		}
		sum.Stores++
		sum.Slots += len(states[i].Slots)
		sum.Queries += len(states[i].Queries)
	}

	d.logger.Info("snapshot loaded", "stores", sum.Stores, "slots", sum.Slots, "queries", sum.Queries)
	return sum, nil
}
