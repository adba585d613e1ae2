// Package prefetch seeds stores with data known ahead of any request, such
// as values rendered into a page or shipped with a fixture file.
//
// Prefetched data goes through the same importer as responses, in prefetch
// mode: a type with no store gets a shadow store that a later definition
// can claim.
package prefetch

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/ingest"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
)

// Loader writes prefetched entities and query results into a registry.
type Loader struct {
	registry *store.Registry
	importer *ingest.Importer
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithImporter sets the importer. The default is a nested importer over
// the loader's registry.
func WithImporter(im *ingest.Importer) Option {
	return func(l *Loader) { l.importer = im }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a loader over registry.
func New(registry *store.Registry, opts ...Option) *Loader {
	l := &Loader{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.importer == nil {
		l.importer = ingest.New(registry, ingest.WithLogger(l.logger))
	}
	return l
}

// SetEntries imports one entity or a list of entities and returns their
// ids in input order. Each entity's type is its "_type" marker or, failing
// that, typ. Every entity needs an id. With allowCrossType false all
// entities of a list must share one type.
func (l *Loader) SetEntries(typ string, data any, allowCrossType bool) ([]string, error) {
	var entries []any
	switch v := data.(type) {
	case []any:
		entries = v
	case map[string]any:
		entries = []any{v}
	default:
		return nil, fmt.Errorf("set entries: expected mapping or list of mappings, got %T", data)
	}

	ids := make([]string, 0, len(entries))
	first := ""
	for i, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			return ids, fmt.Errorf("set entries: entry %d: expected mapping, got %T", i, raw)
		}

		entryType := typ
		if marker, ok := entry["_type"].(string); ok && marker != "" {
			entryType = marker
		}
		if entryType == "" {
			return ids, fmt.Errorf("set entries: entry %d: %w", i, ingest.ErrUntyped)
		}
		id, ok := ir.IDString(entry["id"])
		if !ok {
			return ids, fmt.Errorf("set entries: entry %d: missing id", i)
		}

		if !allowCrossType {
			if first == "" {
				first = entryType
			} else if entryType != first {
				return ids, &ingest.ConflictError{Marker: "_type", First: first, Second: entryType}
			}
		}

		d := &ir.Descriptor{Type: entryType, ID: id}
		if _, err := l.importer.Import(d, entry, ingest.AsPrefetch()); err != nil {
			return ids, fmt.Errorf("set entries: entry %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Query is one prefetched query result.
type Query struct {
	Type    string `yaml:"type" json:"type"`
	Partial string `yaml:"partial,omitempty" json:"partial,omitempty"`
	Data    any    `yaml:"data" json:"data"`
}

// SetQueries imports query results keyed by path. Each result is stored
// under its path as well as in the entity slots of its elements. Paths are
// processed in sorted order; the first failure stops the run.
func (l *Loader) SetQueries(queries map[string]Query) error {
	paths := make([]string, 0, len(queries))
	for path := range queries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		q := queries[path]
		switch q.Data.(type) {
		case []any, map[string]any:
		default:
			return fmt.Errorf("set queries: %s: expected mapping or list of mappings, got %T", path, q.Data)
		}
		d := &ir.Descriptor{Type: q.Type, Path: path, Partial: q.Partial}
		if _, err := l.importer.Import(d, q.Data, ingest.AsPrefetch()); err != nil {
			return fmt.Errorf("set queries: %s: %w", path, err)
		}
	}
	return nil
}

// EntrySet is one group of entities in a prefetch document.
type EntrySet struct {
	Type      string `yaml:"type,omitempty" json:"type,omitempty"`
	CrossType *bool  `yaml:"crossType,omitempty" json:"crossType,omitempty"`
	Data      any    `yaml:"data" json:"data"`
}

// Document is the file form of a prefetch.
//
//	entries:
//	  - type: projects
//	    data: [{id: 1, name: alpha}]
//	queries:
//	  /projects:
//	    type: projects
//	    data: [{id: 1, name: alpha}]
type Document struct {
	Entries []EntrySet       `yaml:"entries" json:"entries"`
	Queries map[string]Query `yaml:"queries" json:"queries"`
}

// Summary counts what Apply imported.
type Summary struct {
	Entries int `json:"entries"`
	Queries int `json:"queries"`
}

// Apply imports every entry set, then every query.
func (l *Loader) Apply(doc Document) (Summary, error) {
	var sum Summary
	for i, set := range doc.Entries {
		cross := true
		if set.CrossType != nil {
			cross = *set.CrossType
		}
		ids, err := l.SetEntries(set.Type, set.Data, cross)
		sum.Entries += len(ids)
		if err != nil {
			return sum, fmt.Errorf("entries[%d]: %w", i, err)
		}
	}
	if err := l.SetQueries(doc.Queries); err != nil {
		return sum, err
	}
	sum.Queries = len(doc.Queries)
	l.logger.Debug("prefetch applied", "entries", sum.Entries, "queries", sum.Queries)
	return sum, nil
}

// ParseDocument decodes a YAML or JSON prefetch document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse prefetch document: %w", err)
	}
	return doc, nil
}

// LoadFile reads, parses and applies a prefetch document.
func (l *Loader) LoadFile(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("read prefetch file: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", path, err)
	}
	sum, err := l.Apply(doc)
	if err != nil {
		return sum, fmt.Errorf("%s: %w", path, err)
	}
	return sum, nil
}
