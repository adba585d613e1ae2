// Package fragment implements the per-type fragment cache.
//
// A Cache holds named fragments, each a map of entity id to slot, plus a
// map of query path to query entry. Reads composite fallback fragments when
// the requested fragment has no data; collection writes are normalised into
// entity slots with the query keeping only ids.
//
// Deleted slots are tombstoned, never removed: the key is retained and the
// slot state records the deletion. A tombstoned slot reads as absent.
//
// All operations are atomic with respect to each other. There is no
// protection against two in-flight requests writing the same slot; the last
// write wins.
package fragment

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/strata/internal/ir"
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotPresent
	slotTombstoned
)

type slot struct {
	state     slotState
	status    ir.Status
	timestamp int64
	data      any
}

// QueryKind says how a query entry's data is stored.
type QueryKind string

const (
	// QueryNone is a query that was touched but never written.
	QueryNone QueryKind = ""

	// QueryIDs is a collection: an ordered list of entity ids.
	QueryIDs QueryKind = "ids"

	// QueryRef points at a single entity slot.
	QueryRef QueryKind = "id"

	// QueryRaw holds an opaque non-entity payload.
	QueryRaw QueryKind = "raw"
)

type query struct {
	state     slotState
	status    ir.Status
	timestamp int64
	partial   string
	kind      QueryKind
	ids       []string
	ref       string
	raw       any
}

// Cache is the fragment cache of one store.
type Cache struct {
	mu        sync.Mutex
	fragments map[string]map[string]*slot
	queries   map[string]*query
	now       func() int64
	logger    *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the wall-clock source for write timestamps, in
// milliseconds.
func WithClock(now func() int64) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		fragments: make(map[string]map[string]*slot),
		queries:   make(map[string]*query),
		now:       func() int64 { return time.Now().UnixMilli() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the cache's current wall-clock time.
func (c *Cache) Now() int64 {
	return c.now()
}

// Fetch reads what d addresses. Anything that cannot be found yields
// ir.StaleSnapshot. The returned data must be treated as read-only.
func (c *Cache) Fetch(d *ir.Descriptor) (ir.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := ir.StaleSnapshot()
	frag := c.fragment(d.Fragment())

	switch {
	case d.HasID():
		if s := frag[d.ID]; s != nil && s.state == slotPresent {
			result.Status = s.status
			result.Timestamp = s.timestamp
			result.Data = s.data
		}
		if result.Data != nil {
			return result, nil
		}

		fallbacks := append(slices.Clone(d.Fragments), ir.DefaultFragment)
		var acc any
		for _, name := range fallbacks {
			s := c.fragment(name)[d.ID]
			if s == nil || s.state != slotPresent || s.data == nil {
				continue
			}
			acc = shallowMerge(acc, s.data)
			result.Status = ir.StatusPartial
		}
		result.Data = acc
		return result, nil

	case d.Path != "":
		q := c.queries[d.Path]
		if q == nil || q.state != slotPresent {
			return result, nil
		}
		result.Status = q.status
		result.Timestamp = q.timestamp

		switch q.kind {
		case QueryIDs:
			items := make([]any, 0, len(q.ids))
			for _, id := range q.ids {
				s := frag[id]
				if s == nil || s.state != slotPresent {
					return ir.Snapshot{}, &IntegrityError{Path: d.Path, Fragment: d.Fragment(), ID: id}
				}
				items = append(items, s.data)
			}
			result.Data = items
		case QueryRef:
			s := frag[q.ref]
			if s == nil || s.state != slotPresent {
				return ir.Snapshot{}, &IntegrityError{Path: d.Path, Fragment: d.Fragment(), ID: q.ref}
			}
			result.Data = s.data
		case QueryRaw:
			result.Data = q.raw
		}
		return result, nil
	}

	return result, nil
}

// Touch merges metadata into the slot d addresses, creating it if absent.
// Cached data is left unchanged. A zero touch is a no-op.
func (c *Cache) Touch(d *ir.Descriptor, t ir.Touch) {
	if t.IsZero() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case d.HasID():
		frag := c.fragment(d.Fragment())
		s := frag[d.ID]
		if s == nil {
			s = &slot{}
			frag[d.ID] = s
		}
		if s.state != slotPresent {
			*s = slot{state: slotPresent}
		}
		if t.Status != "" {
			s.status = t.Status
		}
		if t.Timestamp != nil {
			s.timestamp = *t.Timestamp
		}

	case d.Path != "":
		q := c.queries[d.Path]
		if q == nil {
			q = &query{}
			c.queries[d.Path] = q
		}
		if q.state != slotPresent {
			*q = query{state: slotPresent}
		}
		if t.Status != "" {
			q.status = t.Status
		}
		if t.Timestamp != nil {
			q.timestamp = *t.Timestamp
		}
	}
}

// Update writes data at the location d addresses with the given status
// and the current time.
//
//   - With an id, data is stored as is at (fragment, id).
//   - A collection ([]any of mappings) is normalised: each element goes to
//     its own slot and the query at d.Path keeps the list of ids.
//   - A mapping carrying its own id goes to its slot and the query at
//     d.Path keeps that id.
//   - Anything else is stored raw at d.Path.
//
// Without an id, a path, or an id-bearing payload nothing is persisted;
// the computed entry is still returned.
//
// Collections are validated before any slot is written.
func (c *Cache) Update(d *ir.Descriptor, data any, status ir.Status) (ir.Entry, error) {
	fragName := d.Fragment()
	entry := ir.Entry{Status: status, Timestamp: c.now()}

	if d.HasID() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.fragment(fragName)[d.ID] = &slot{state: slotPresent, status: status, timestamp: entry.Timestamp, data: data}
		entry.Data = data
		return entry, nil
	}

	if items, ok := asCollection(data); ok {
		ids := make([]string, len(items))
		maps := make([]map[string]any, len(items))
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return ir.Entry{}, &ShapeError{Index: i, Reason: fmt.Sprintf("expected a mapping, found %T", item)}
			}
			id, ok := ir.IDString(m["id"])
			if !ok {
				return ir.Entry{}, &ShapeError{Index: i, Reason: "mapping has no usable id"}
			}
			ids[i], maps[i] = id, m
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		frag := c.fragment(fragName)
		for i, m := range maps {
			frag[ids[i]] = &slot{state: slotPresent, status: status, timestamp: entry.Timestamp, data: m}
		}
		entry.Data = slices.Clone(ids)
		entry.Partial = fragName
		if d.Path != "" {
			c.queries[d.Path] = &query{
				state: slotPresent, status: status, timestamp: entry.Timestamp,
				partial: fragName, kind: QueryIDs, ids: ids,
			}
		}
		return entry, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := data.(map[string]any); ok {
		if id, ok := ir.IDString(m["id"]); ok {
			c.fragment(fragName)[id] = &slot{state: slotPresent, status: status, timestamp: entry.Timestamp, data: m}
			entry.Data = id
			entry.Partial = fragName
			if d.Path != "" {
				c.queries[d.Path] = &query{
					state: slotPresent, status: status, timestamp: entry.Timestamp,
					partial: fragName, kind: QueryRef, ref: id,
				}
			}
			return entry, nil
		}
	}

	entry.Data = data
	entry.Partial = fragName
	if d.Path == "" {
		c.logger.Debug("update has no addressable destination; result not stored",
			"type", d.Type, "fragment", fragName)
		return entry, nil
	}
	c.queries[d.Path] = &query{
		state: slotPresent, status: status, timestamp: entry.Timestamp,
		partial: fragName, kind: QueryRaw, raw: data,
	}
	return entry, nil
}

// Delete tombstones what d addresses. Deleting an id also removes it from
// every collection query. Deleting a path tombstones only that query; its
// member entities are kept.
func (c *Cache) Delete(d *ir.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case d.HasID():
		s := c.fragment(d.Fragment())[d.ID]
		if s == nil || s.state != slotPresent {
			return
		}
		*s = slot{state: slotTombstoned}

		for _, q := range c.queries {
			if q.state == slotPresent && q.kind == QueryIDs {
				q.ids = slices.DeleteFunc(q.ids, func(id string) bool { return id == d.ID })
			}
		}

	case d.Path != "":
		q := c.queries[d.Path]
		if q == nil || q.state != slotPresent {
			return
		}
		*q = query{state: slotTombstoned}
	}
}

func (c *Cache) fragment(name string) map[string]*slot {
	f := c.fragments[name]
	if f == nil {
		f = make(map[string]*slot)
		c.fragments[name] = f
	}
	return f
}

func asCollection(data any) ([]any, bool) {
	switch v := data.(type) {
	case []any:
		return v, true
	case []map[string]any:
		items := make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
		return items, true
	default:
		return nil, false
	}
}

// shallowMerge overlays next onto acc. Mappings merge key by key into a
// fresh map; any other value replaces the accumulation.
func shallowMerge(acc, next any) any {
	nm, ok := next.(map[string]any)
	if !ok {
		return next
	}
	out := make(map[string]any)
	if am, ok := acc.(map[string]any); ok {
		for k, v := range am {
			out[k] = v
		}
	}
	for k, v := range nm {
		out[k] = v
	}
	return out
}
