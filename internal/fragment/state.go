package fragment

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/strata/internal/ir"
)

// SlotRecord is the exported form of one entity slot.
type SlotRecord struct {
	Fragment   string    `json:"fragment" yaml:"fragment"`
	ID         string    `json:"id" yaml:"id"`
	Tombstoned bool      `json:"tombstoned,omitempty" yaml:"tombstoned,omitempty"`
	Status     ir.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Timestamp  int64     `json:"timestamp" yaml:"timestamp"`
	Data       any       `json:"data,omitempty" yaml:"data,omitempty"`
}

// QueryRecord is the exported form of one query entry.
type QueryRecord struct {
	Path       string    `json:"path" yaml:"path"`
	Tombstoned bool      `json:"tombstoned,omitempty" yaml:"tombstoned,omitempty"`
	Status     ir.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Timestamp  int64     `json:"timestamp" yaml:"timestamp"`
	Partial    string    `json:"partial,omitempty" yaml:"partial,omitempty"`
	Kind       QueryKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	IDs        []string  `json:"ids,omitempty" yaml:"ids,omitempty"`
	Ref        string    `json:"ref,omitempty" yaml:"ref,omitempty"`
	Raw        any       `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// State is a point-in-time copy of a cache, tombstones included. Slots are
// ordered by (fragment, id) and queries by path.
type State struct {
	Slots   []SlotRecord  `json:"slots" yaml:"slots"`
	Queries []QueryRecord `json:"queries" yaml:"queries"`
}

// Stats summarises a cache for inspection.
type Stats struct {
	Fragments  int `json:"fragments"`
	Entities   int `json:"entities"`
	Tombstones int `json:"tombstones"`
	Queries    int `json:"queries"`
}

// Export copies the cache state. Empty slots (never touched) are omitted.
func (c *Cache) Export() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{Slots: []SlotRecord{}, Queries: []QueryRecord{}}
	for name, frag := range c.fragments {
		for id, s := range frag {
			if s.state == slotEmpty {
				continue
			}
			st.Slots = append(st.Slots, SlotRecord{
				Fragment:   name,
				ID:         id,
				Tombstoned: s.state == slotTombstoned,
				Status:     s.status,
				Timestamp:  s.timestamp,
				Data:       s.data,
			})
		}
	}
	for path, q := range c.queries {
		if q.state == slotEmpty {
			continue
		}
		st.Queries = append(st.Queries, QueryRecord{
			Path:       path,
			Tombstoned: q.state == slotTombstoned,
			Status:     q.status,
			Timestamp:  q.timestamp,
			Partial:    q.partial,
			Kind:       q.kind,
			IDs:        slices.Clone(q.ids),
			Ref:        q.ref,
			Raw:        q.raw,
		})
	}

	slices.SortFunc(st.Slots, func(a, b SlotRecord) int {
		return cmp.Or(cmp.Compare(a.Fragment, b.Fragment), cmp.Compare(a.ID, b.ID))
	})
	slices.SortFunc(st.Queries, func(a, b QueryRecord) int {
		return cmp.Compare(a.Path, b.Path)
	})
	return st
}

// Import replaces the cache contents with st. The cache is left unchanged
// if st is invalid.
func (c *Cache) Import(st State) error {
	fragments := make(map[string]map[string]*slot)
	queries := make(map[string]*query)

	for i, r := range st.Slots {
		if r.ID == "" {
			return fmt.Errorf("slot %d: empty id", i)
		}
		name := r.Fragment
		if name == "" {
			name = ir.DefaultFragment
		}
		if fragments[name] == nil {
			fragments[name] = make(map[string]*slot)
		}
		s := &slot{state: slotPresent, status: r.Status, timestamp: r.Timestamp, data: r.Data}
		if r.Tombstoned {
			s = &slot{state: slotTombstoned}
		}
		fragments[name][r.ID] = s
	}

	for i, r := range st.Queries {
		if r.Path == "" {
			return fmt.Errorf("query %d: empty path", i)
		}
		if r.Tombstoned {
			queries[r.Path] = &query{state: slotTombstoned}
			continue
		}
		switch r.Kind {
		case QueryNone, QueryIDs, QueryRef, QueryRaw:
		default:
			return fmt.Errorf("query %q: unknown kind %q", r.Path, r.Kind)
		}
		if r.Kind == QueryRef && r.Ref == "" {
			return fmt.Errorf("query %q: reference without id", r.Path)
		}
		queries[r.Path] = &query{
			state:     slotPresent,
			status:    r.Status,
			timestamp: r.Timestamp,
			partial:   r.Partial,
			kind:      r.Kind,
			ids:       slices.Clone(r.IDs),
			ref:       r.Ref,
			raw:       r.Raw,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fragments = fragments
	c.queries = queries
	return nil
}

// Stats counts the cache contents.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Fragments: len(c.fragments)}
	for _, frag := range c.fragments {
		for _, s := range frag {
			switch s.state {
			case slotPresent:
				st.Entities++
			case slotTombstoned:
				st.Tombstones++
			}
		}
	}
	for _, q := range c.queries {
		if q.state == slotPresent {
			st.Queries++
		}
	}
	return st
}
