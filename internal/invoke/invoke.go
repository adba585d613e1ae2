// Package invoke dispatches resolved stacks to resolvers.
//
// Invoke strips every resolve marker from a stack (the last one wins),
// reduces the rest into a descriptor and hands it to the named resolver.
// Network resolvers touch the target slot to loading, issue one transport
// call in the background and return a Future. When the call settles the
// cache is updated, or on failure only the slot timestamp moves, and the
// store emits its change events.
//
// In-flight calls are never cancelled or deduplicated: the cache reflects
// whichever response lands last.
package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/strata/internal/chain"
	"github.com/roach88/strata/internal/ingest"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/reduce"
	"github.com/roach88/strata/internal/store"
)

// Resolver handles one resolved descriptor against its store.
type Resolver func(ctx context.Context, s *store.Store, d *ir.Descriptor) (*Result, error)

// Result is what Invoke returns.
type Result struct {
	// Resolver is the dispatched resolver, empty for a bare descriptor.
	Resolver string

	// Descriptor is the reduced descriptor.
	Descriptor *ir.Descriptor

	// Snapshot is the cache read taken by fetch, before any background
	// request it triggered settles.
	Snapshot ir.Snapshot

	// Future is set when a transport call was issued.
	Future *Future
}

// Wait waits for the result's transport call, if any.
func (r *Result) Wait(ctx context.Context) (any, error) {
	if r.Future == nil {
		return nil, nil
	}
	return r.Future.Wait(ctx)
}

// Invoker dispatches stacks to resolvers.
type Invoker struct {
	registry      *store.Registry
	transport     ir.Transport
	importer      *ingest.Importer
	reduceOpts    []reduce.Option
	resolvers     map[string]Resolver
	notifyLoading bool
	logger        *slog.Logger
	inflight      sync.WaitGroup
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithTransport sets the transport used by network resolvers.
func WithTransport(t ir.Transport) Option {
	return func(inv *Invoker) { inv.transport = t }
}

// WithImporter sets the response importer. The default is a nested
// importer over the invoker's registry.
func WithImporter(im *ingest.Importer) Option {
	return func(inv *Invoker) {
		if im != nil {
			inv.importer = im
		}
	}
}

// WithReduceOptions passes options to every reduction.
func WithReduceOptions(opts ...reduce.Option) Option {
	return func(inv *Invoker) { inv.reduceOpts = append(inv.reduceOpts, opts...) }
}

// WithResolver registers or replaces a resolver.
func WithResolver(name string, r Resolver) Option {
	return func(inv *Invoker) { inv.resolvers[name] = r }
}

// WithLoadingNotify controls whether touching a slot to loading emits
// change events. It is on by default.
func WithLoadingNotify(on bool) Option {
	return func(inv *Invoker) { inv.notifyLoading = on }
}

// WithLogger sets the invoker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// New creates an invoker over registry with the built-in resolvers.
func New(registry *store.Registry, opts ...Option) *Invoker {
	inv := &Invoker{
		registry:      registry,
		notifyLoading: true,
		logger:        slog.Default(),
	}
	inv.resolvers = map[string]Resolver{
		ir.ResolverGet:        inv.get,
		ir.ResolverCreate:     inv.create,
		ir.ResolverUpdate:     inv.update,
		ir.ResolverDelete:     inv.remove,
		ir.ResolverFetch:      inv.fetch,
		ir.ResolverInvalidate: inv.invalidate,
	}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.importer == nil {
		inv.importer = ingest.New(registry, ingest.WithLogger(inv.logger))
	}
	return inv
}

// Invoke reduces stack and dispatches it. With no resolve marker, or when
// the descriptor has no store, the bare descriptor is returned.
func (inv *Invoker) Invoke(ctx context.Context, stack []ir.Op) (*Result, error) {
	resolver, rest := StripResolve(stack)

	d, err := reduce.Reduce(rest, inv.reduceOpts...)
	if err != nil {
		return nil, err
	}
	if resolver == "" || d.Store == nil {
		return &Result{Descriptor: d}, nil
	}

	fn, ok := inv.resolvers[resolver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolver, resolver)
	}
	s, err := inv.storeOf(d)
	if err != nil {
		return nil, err
	}

	inv.logger.Debug("dispatch", "resolver", resolver, "type", d.Type, "path", d.Path, "id", d.ID)
	res, err := fn(ctx, s, d)
	if err != nil {
		return nil, err
	}
	res.Resolver = resolver
	res.Descriptor = d
	return res, nil
}

// ChainInvoker adapts the invoker to a chain root invoker.
func (inv *Invoker) ChainInvoker() chain.Invoker {
	return func(ctx context.Context, stack []ir.Op) (any, error) {
		return inv.Invoke(ctx, stack)
	}
}

// Wait blocks until every transport call issued so far has settled.
func (inv *Invoker) Wait() {
	inv.inflight.Wait()
}

// Importer returns the importer used for responses.
func (inv *Invoker) Importer() *ingest.Importer {
	return inv.importer
}

// StripResolve removes every resolve marker from stack and returns the
// last marker's resolver with the remaining ops.
func StripResolve(stack []ir.Op) (string, []ir.Op) {
	resolver := ""
	rest := make([]ir.Op, 0, len(stack))
	for _, op := range stack {
		if r, ok := op.(ir.Resolve); ok {
			resolver = string(r)
			continue
		}
		rest = append(rest, op)
	}
	return resolver, rest
}

func (inv *Invoker) storeOf(d *ir.Descriptor) (*store.Store, error) {
	if s, ok := d.Store.(*store.Store); ok {
		return s, nil
	}
	if inv.registry != nil {
		if s, ok := inv.registry.Lookup(d.Type); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: type %q", ErrNoStore, d.Type)
}
