package store

import (
	"log/slog"
	"sync"

	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/pubsub"
)

// Store is the cache and subscription unit of one entity-collection type.
//
// Thread-safety: all methods are safe for concurrent use. The fragment
// cache serialises its own operations; the store lock only guards the
// definition and the cache pointer, which Reset and shadow replacement swap.
type Store struct {
	mu        sync.RWMutex
	typ       string
	def       *ir.Definition
	cache     *fragment.Cache
	emitter   *pubsub.Emitter
	logger    *slog.Logger
	cacheOpts []fragment.Option
}

func newStore(def *ir.Definition, logger *slog.Logger, cacheOpts []fragment.Option) *Store {
	s := &Store{
		typ:       def.Type,
		def:       def,
		emitter:   pubsub.New(),
		logger:    logger.With("type", def.Type),
		cacheOpts: cacheOpts,
	}
	s.cache = s.newCache()
	return s
}

func (s *Store) newCache() *fragment.Cache {
	opts := append([]fragment.Option{fragment.WithLogger(s.logger)}, s.cacheOpts...)
	return fragment.New(opts...)
}

// Type returns the store's type name. It never changes.
func (s *Store) Type() string {
	return s.typ
}

// Definition returns a copy of the current definition.
func (s *Store) Definition() *ir.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def.Clone()
}

// IsShadow reports whether the store was created implicitly and may still
// be replaced by an explicit definition.
func (s *Store) IsShadow() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def.Shadow
}

// Op returns the stack entry this store contributes to a chain.
func (s *Store) Op() ir.Op {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ir.StoreOp(s.def, s)
}

func (s *Store) current() *fragment.Cache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// Now returns the wall-clock time used for cache timestamps.
func (s *Store) Now() int64 {
	return s.current().Now()
}

// Fetch reads from the fragment cache.
func (s *Store) Fetch(d *ir.Descriptor) (ir.Snapshot, error) {
	return s.current().Fetch(d)
}

// Touch updates slot metadata without altering cached data.
func (s *Store) Touch(d *ir.Descriptor, t ir.Touch) {
	s.current().Touch(d, t)
}

// Update writes data into the fragment cache.
func (s *Store) Update(d *ir.Descriptor, data any, status ir.Status) (ir.Entry, error) {
	return s.current().Update(d, data, status)
}

// Delete tombstones the addressed slot.
func (s *Store) Delete(d *ir.Descriptor) {
	s.current().Delete(d)
}

// NotifyChange fires "change" and, when d carries an id, d's event.
func (s *Store) NotifyChange(d *ir.Descriptor) {
	s.emitter.Trigger(ir.EventName(""))
	if d != nil && d.HasID() {
		event := d.Event
		if event == "" {
			event = ir.EventName(d.ID)
		}
		s.emitter.Trigger(event)
	}
}

// Subscribe registers fn for event and returns an unsubscribe function.
func (s *Store) Subscribe(event string, fn func()) func() {
	return s.emitter.Subscribe(event, fn)
}

// Reset replaces the fragment cache with a fresh empty one. Subscribers
// are kept.
func (s *Store) Reset() {
	c := s.newCache()
	s.mu.Lock()
	s.cache = c
	s.mu.Unlock()
}

// Export copies the cache state.
func (s *Store) Export() fragment.State {
	return s.current().Export()
}

// Import replaces the cache state.
func (s *Store) Import(st fragment.State) error {
	return s.current().Import(st)
}

// Stats summarises the cache contents.
func (s *Store) Stats() fragment.Stats {
	return s.current().Stats()
}

func (s *Store) redefine(def *ir.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = def
}
