// Package ingest imports response data into stores.
//
// Response bodies are plain JSON-like values. Objects may carry a "_type"
// marker naming the store they belong to and a "_partial" marker naming
// the fragment. Arrays and objects found inside an object are embedded
// resources and are imported into their own stores when they carry a
// type. Other "_"-prefixed keys are dropped with a warning.
//
// Two strategies decide what happens to typed embedded values:
//   - nested keeps their marker-stripped data inline in the parent
//   - unnested removes them from the parent once imported
//
// Untyped embedded values always stay inline.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
)

// Strategy selects how embedded resources are treated.
type Strategy string

const (
	Nested   Strategy = "nested"
	Unnested Strategy = "unnested"
)

// ParseStrategy validates a strategy name. The empty string selects Nested.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "", Nested:
		return Nested, nil
	case Unnested:
		return Unnested, nil
	default:
		return "", fmt.Errorf("unknown import strategy %q", name)
	}
}

const (
	markerType    = "_type"
	markerPartial = "_partial"
)

// ErrUntyped is returned when no type can be resolved for a top-level
// response value.
var ErrUntyped = errors.New("cannot resolve data type")

// ConflictError is returned when the elements of one array disagree on a
// marker.
type ConflictError struct {
	Marker string
	First  string
	Second string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting %s values inside array: %q and %q", e.Marker, e.First, e.Second)
}

// UnknownTypeError is returned when data names a type with no store and
// the import is not a prefetch.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("no store for data type %q", e.Type)
}

// Write records one cache update performed by an import. An object
// stored behind a path is reported with its own id so subscribers of that
// id are notified.
type Write struct {
	Store      *store.Store
	Descriptor *ir.Descriptor
	Entry      ir.Entry
}

// Importer writes response data into the stores of a registry.
type Importer struct {
	registry *store.Registry
	strategy Strategy
	logger   *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithStrategy selects the embedding strategy. The default is Nested.
func WithStrategy(s Strategy) Option {
	return func(im *Importer) { im.strategy = s }
}

// WithLogger sets the importer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) {
		if logger != nil {
			im.logger = logger
		}
	}
}

// New creates an importer over registry.
func New(registry *store.Registry, opts ...Option) *Importer {
	im := &Importer{
		registry: registry,
		strategy: Nested,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Strategy returns the configured strategy.
func (im *Importer) Strategy() Strategy {
	return im.strategy
}

type importOptions struct {
	prefetch bool
}

// ImportOption configures a single Import call.
type ImportOption func(*importOptions)

// AsPrefetch marks the import as a prefetch: data naming an unknown type
// creates a shadow store instead of failing.
func AsPrefetch() ImportOption {
	return func(o *importOptions) { o.prefetch = true }
}

// Import writes data into the cache addressed by target, importing any
// typed embedded resources into their own stores first. target supplies
// the default type, partial, id and path; it is not modified.
//
// On error some embedded resources may already have been written.
func (im *Importer) Import(target *ir.Descriptor, data any, opts ...ImportOption) ([]Write, error) {
	var o importOptions
	for _, opt := range opts {
		opt(&o)
	}

	run := &importRun{im: im, opts: o}
	d := &ir.Descriptor{}
	if target != nil {
		d = target.Clone()
	}
	if _, _, err := run.value(d, data, false); err != nil {
		return run.writes, err
	}
	return run.writes, nil
}

type importRun struct {
	im     *Importer
	opts   importOptions
	writes []Write
}

// value imports data addressed by d. It returns the marker-stripped data
// and whether it was written to a store. Embedded values that cannot be
// typed are returned unwritten instead of failing.
func (r *importRun) value(d *ir.Descriptor, data any, embedded bool) (any, bool, error) {
	var (
		result            any
		discoveredType    string
		discoveredPartial string
		refID             string
	)

	switch v := data.(type) {
	case []any:
		items := make([]any, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				if embedded {
					return data, false, nil
				}
				return nil, false, fmt.Errorf("import: element %d: expected object, got %T", i, item)
			}
			entry, err := r.object(obj)
			if err != nil {
				return nil, false, err
			}
			if entry.typ != "" {
				if discoveredType != "" && discoveredType != entry.typ {
					return nil, false, &ConflictError{Marker: markerType, First: discoveredType, Second: entry.typ}
				}
				discoveredType = entry.typ
			}
			if entry.partial != "" {
				if discoveredPartial != "" && discoveredPartial != entry.partial {
					return nil, false, &ConflictError{Marker: markerPartial, First: discoveredPartial, Second: entry.partial}
				}
				discoveredPartial = entry.partial
			}
			items = append(items, entry.data)
		}
		result = items

	case map[string]any:
		entry, err := r.object(v)
		if err != nil {
			return nil, false, err
		}
		result = entry.data
		discoveredType = entry.typ
		discoveredPartial = entry.partial
		// A top-level object read from a path is stored by the cache as
		// the path's reference to its id; embedded objects have no path.
		if id, ok := ir.IDString(entry.data["id"]); ok {
			if embedded || d.Path == "" {
				d.ID = id
				d.Event = ""
			} else if !d.HasID() {
				refID = id
			}
		}

	default:
		if embedded {
			return data, false, nil
		}
		return nil, false, fmt.Errorf("import: expected object or array, got %T", data)
	}

	if d.Type == "" {
		d.Type = discoveredType
	}
	if d.Partial == "" {
		d.Partial = discoveredPartial
	}
	if d.Type == "" {
		if embedded {
			return result, false, nil
		}
		return nil, false, ErrUntyped
	}

	s, err := r.store(d)
	if err != nil {
		return nil, false, err
	}
	d.Store = s
	entry, err := s.Update(d, result, ir.StatusSuccess)
	if err != nil {
		return nil, false, fmt.Errorf("import %s: %w", d.Type, err)
	}
	written := d
	if refID != "" {
		written = d.Clone()
		written.ID = refID
		written.Event = ir.EventName(refID)
	}
	r.writes = append(r.writes, Write{Store: s, Descriptor: written, Entry: entry})
	return result, true, nil
}

type parsedObject struct {
	typ     string
	partial string
	data    map[string]any
}

// object strips markers from obj and imports its embedded values.
func (r *importRun) object(obj map[string]any) (parsedObject, error) {
	out := parsedObject{data: make(map[string]any, len(obj))}

	for _, key := range sortedKeys(obj) {
		value := obj[key]

		if len(key) > 0 && key[0] == '_' {
			switch key {
			case markerType, markerPartial:
				s, ok := value.(string)
				if !ok {
					return parsedObject{}, fmt.Errorf("import: %s must be a string, got %T", key, value)
				}
				if key == markerType {
					out.typ = s
				} else {
					out.partial = s
				}
			default:
				r.im.logger.Warn("ignoring unknown response property", "key", key)
			}
			continue
		}

		switch value.(type) {
		case []any, map[string]any:
			stripped, typed, err := r.value(&ir.Descriptor{}, value, true)
			if err != nil {
				return parsedObject{}, fmt.Errorf("import %s: %w", key, err)
			}
			if typed && r.im.strategy == Unnested {
				continue
			}
			out.data[key] = stripped
		default:
			out.data[key] = value
		}
	}

	return out, nil
}

func (r *importRun) store(d *ir.Descriptor) (*store.Store, error) {
	if s, ok := r.im.registry.Lookup(d.Type); ok {
		return s, nil
	}
	if s, ok := d.Store.(*store.Store); ok && s.Type() == d.Type {
		return s, nil
	}
	if !r.opts.prefetch {
		return nil, &UnknownTypeError{Type: d.Type}
	}
	return r.im.registry.Shadow(d.Type)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
