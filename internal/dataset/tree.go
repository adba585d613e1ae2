// Package dataset builds chains of store and dataset nodes.
//
// A Tree owns a chain.Arena. Store nodes are roots: their contribution is
// the store's current definition and, when the tree has an invoker, they
// hand resolved stacks to it. Dataset nodes hang below a store or another
// dataset and contribute their definition, preceded by the resolved
// stacks of any datasets they include.
//
// Nodes expose three capabilities through the Resolvable, Subscribable
// and Subsettable interfaces.
package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/strata/internal/chain"
	"github.com/roach88/strata/internal/definition"
	"github.com/roach88/strata/internal/invoke"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/reduce"
	"github.com/roach88/strata/internal/store"
)

// ErrNoInvoker is returned by Invoke on a tree built without an invoker.
var ErrNoInvoker = errors.New("tree has no invoker")

// Tree is a set of nodes sharing one arena.
type Tree struct {
	mu         sync.RWMutex
	arena      *chain.Arena
	registry   *store.Registry
	invoker    *invoke.Invoker
	reduceOpts []reduce.Option
	logger     *slog.Logger
	roots      map[string]*Node
	named      map[string]*Node
	nodes      map[ir.NodeID]*Node
}

// Option configures a Tree.
type Option func(*Tree)

// WithInvoker installs inv as the terminal invoker of every store root.
func WithInvoker(inv *invoke.Invoker) Option {
	return func(t *Tree) { t.invoker = inv }
}

// WithReduceOptions passes options to Descriptor and Invoke reductions.
func WithReduceOptions(opts ...reduce.Option) Option {
	return func(t *Tree) { t.reduceOpts = append(t.reduceOpts, opts...) }
}

// WithLogger sets the tree's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates an empty tree over registry.
func New(registry *store.Registry, opts ...Option) *Tree {
	t := &Tree{
		arena:    chain.NewArena(),
		registry: registry,
		logger:   slog.Default(),
		roots:    make(map[string]*Node),
		named:    make(map[string]*Node),
		nodes:    make(map[ir.NodeID]*Node),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Registry returns the registry the tree resolves stores in.
func (t *Tree) Registry() *store.Registry {
	return t.registry
}

// Store returns the root node of s, creating it on first use.
func (t *Tree) Store(s *store.Store) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.roots[s.Type()]; ok {
		return n
	}

	opts := []chain.NodeOption{chain.WithLabel("store:" + s.Type())}
	if t.invoker != nil {
		opts = append(opts, chain.WithInvoker(t.invoker.ChainInvoker()))
	}
	id := t.arena.AddDynamic(func() []ir.Op { return []ir.Op{s.Op()} }, opts...)

	n := &Node{tree: t, id: id, kind: ir.KindStore, store: s, parent: nil}
	t.roots[s.Type()] = n
	t.nodes[id] = n
	return n
}

// NodeOption configures a dataset node.
type NodeOption func(*nodeConfig)

type nodeConfig struct {
	name     string
	includes []*Node
}

// Named registers the node under name for Lookup.
func Named(name string) NodeOption {
	return func(c *nodeConfig) { c.name = name }
}

// Include splices the resolved stacks of nodes, in order, ahead of the
// node's own definition.
func Include(nodes ...*Node) NodeOption {
	return func(c *nodeConfig) { c.includes = append(c.includes, nodes...) }
}

// Dataset adds a dataset node below parent.
func (t *Tree) Dataset(parent *Node, def *ir.Definition, opts ...NodeOption) (*Node, error) {
	var cfg nodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if parent == nil || parent.tree != t {
		return nil, errors.New("dataset: parent must be a node of this tree")
	}
	for _, inc := range cfg.includes {
		if inc == nil || inc.tree != t {
			return nil, errors.New("dataset: included node must belong to this tree")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cfg.name != "" {
		if _, taken := t.named[cfg.name]; taken {
			return nil, fmt.Errorf("dataset %q already defined", cfg.name)
		}
	}

	d := def.Clone()
	if d == nil {
		d = &ir.Definition{}
	}

	ops := make([]ir.Op, 0, len(cfg.includes)+1)
	for _, inc := range cfg.includes {
		ops = append(ops, ir.Ref{Node: inc.id})
	}
	ops = append(ops, ir.DatasetOp(d))

	id := t.arena.Add(ops, chain.WithParent(parent.id), chain.WithLabel(cfg.name))
	n := &Node{
		tree:     t,
		id:       id,
		name:     cfg.name,
		kind:     ir.KindDataset,
		def:      d,
		includes: append([]*Node(nil), cfg.includes...),
		parent:   parent,
	}
	t.nodes[id] = n
	if cfg.name != "" {
		t.named[cfg.name] = n
	}
	return n, nil
}

// Lookup returns the dataset registered under name.
func (t *Tree) Lookup(name string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.named[name]
	return n, ok
}

// Root returns the root node of a store type.
func (t *Tree) Root(typ string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.roots[typ]
	return n, ok
}

// Names returns the registered dataset names in sorted order.
func (t *Tree) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.named))
	for name := range t.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load creates the catalog's stores in the registry and its datasets in
// the tree. Parents and includes are built before the datasets that use
// them. A store already in the registry as a shadow is replaced; any other
// existing store fails with store.ErrRedefined.
func (t *Tree) Load(cat *definition.Catalog) error {
	for _, spec := range cat.Stores {
		s, err := t.registry.Create(*spec.Def)
		if err != nil {
			return err
		}
		t.Store(s)
	}

	specs := make(map[string]definition.DatasetSpec, len(cat.Datasets))
	for _, ds := range cat.Datasets {
		specs[ds.Name] = ds
	}

	building := make(map[string]bool)
	var build func(name string) (*Node, error)
	build = func(name string) (*Node, error) {
		if n, ok := t.Lookup(name); ok {
			return n, nil
		}
		spec, ok := specs[name]
		if !ok {
			return nil, fmt.Errorf("dataset %q: not in catalog", name)
		}
		if building[name] {
			return nil, fmt.Errorf("dataset %q: %w", name, chain.ErrCycle)
		}
		building[name] = true
		defer delete(building, name)

		var parent *Node
		if spec.Store != "" {
			root, ok := t.Root(spec.Store)
			if !ok {
				s, found := t.registry.Lookup(spec.Store)
				if !found {
					return nil, fmt.Errorf("dataset %q: unknown store %q", name, spec.Store)
				}
				root = t.Store(s)
			}
			parent = root
		} else {
			p, err := build(spec.Parent)
			if err != nil {
				return nil, err
			}
			parent = p
		}

		includes := make([]*Node, 0, len(spec.Includes))
		for _, inc := range spec.Includes {
			n, err := build(inc)
			if err != nil {
				return nil, err
			}
			includes = append(includes, n)
		}

		return t.Dataset(parent, spec.Def, Named(name), Include(includes...))
	}

	for _, name := range cat.DatasetNames() {
		if _, err := build(name); err != nil {
			return err
		}
	}
	t.logger.Debug("catalog loaded", "stores", len(cat.Stores), "datasets", len(cat.Datasets))
	return nil
}
