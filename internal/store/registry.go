package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/ir"
)

// ErrRedefined is returned when a definition names a type whose store
// already exists and is not a shadow.
var ErrRedefined = errors.New("store already defined")

// Registry is the table of stores keyed by type name. It is passed
// explicitly to everything that looks stores up by name.
type Registry struct {
	mu        sync.RWMutex
	stores    map[string]*Store
	logger    *slog.Logger
	cacheOpts []fragment.Option
	names     func() string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used by the registry and its stores.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCacheOptions configures every fragment cache the registry creates,
// including caches created by Reset.
func WithCacheOptions(opts ...fragment.Option) RegistryOption {
	return func(r *Registry) {
		r.cacheOpts = append(r.cacheOpts, opts...)
	}
}

// WithNameGenerator sets how anonymous stores are named.
func WithNameGenerator(gen func() string) RegistryOption {
	return func(r *Registry) {
		if gen != nil {
			r.names = gen
		}
	}
}

// NewRegistry returns an empty registry. Anonymous stores are named with
// UUIDv7 strings unless WithNameGenerator is given.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		stores: make(map[string]*Store),
		logger: slog.Default(),
		names:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a store for def.
//
// A definition without a type gets a generated one. Redefining an existing
// type fails with ErrRedefined unless the existing store is a shadow, in
// which case its definition is replaced and its cache kept.
func (r *Registry) Create(def ir.Definition) (*Store, error) {
	d := def.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if d.Type == "" {
		for {
			d.Type = r.names()
			if _, taken := r.stores[d.Type]; !taken {
				break
			}
		}
	}

	if existing, ok := r.stores[d.Type]; ok {
		if !existing.IsShadow() {
			return nil, fmt.Errorf("create store %q: %w", d.Type, ErrRedefined)
		}
		existing.redefine(d)
		r.logger.Info("shadow store replaced by definition", "type", d.Type)
		return existing, nil
	}

	s := newStore(d, r.logger, r.cacheOpts)
	r.stores[d.Type] = s
	r.logger.Debug("store created", "type", d.Type, "shadow", d.Shadow)
	return s, nil
}

// Shadow returns the store for typ, creating a shadow store if none
// exists. A shadow store may later be replaced by Create.
func (r *Registry) Shadow(typ string) (*Store, error) {
	if typ == "" {
		return nil, errors.New("shadow store: empty type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[typ]; ok {
		return s, nil
	}
	s := newStore(&ir.Definition{Type: typ, Shadow: true}, r.logger, r.cacheOpts)
	r.stores[typ] = s
	r.logger.Debug("shadow store created", "type", typ)
	return s, nil
}

// Lookup returns the store for typ.
func (r *Registry) Lookup(typ string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[typ]
	return s, ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.stores))
	for t := range r.stores {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Reset gives every store a fresh empty cache.
func (r *Registry) Reset() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.stores {
		s.Reset()
	}
}

// Dispose removes the store for typ. It reports whether a store was removed.
func (r *Registry) Dispose(typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[typ]; !ok {
		return false
	}
	delete(r.stores, typ)
	return true
}
