package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/strata/internal/invoke"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/reduce"
	"github.com/roach88/strata/internal/store"
)

// Resolvable is a node whose chain can be flattened and resolved.
type Resolvable interface {
	Stack(extra ...ir.Op) ([]ir.Op, error)
	Resolve(ctx context.Context, extra ...ir.Op) (any, error)
}

// Subscribable is a node whose cache slot can be watched.
type Subscribable interface {
	Subscribe(params map[string]any, fn func()) (func(), error)
}

// Subsettable is a node that owns named sub-datasets.
type Subsettable interface {
	Subset(name string, def *ir.Definition) (*Node, error)
	Sub(name string) (*Node, bool)
}

var (
	_ Resolvable   = (*Node)(nil)
	_ Subscribable = (*Node)(nil)
	_ Subsettable  = (*Node)(nil)
)

// Node is a store root or a dataset in a Tree.
type Node struct {
	tree     *Tree
	id       ir.NodeID
	name     string
	kind     ir.OpKind
	def      *ir.Definition
	store    *store.Store
	parent   *Node
	includes []*Node

	mu      sync.Mutex
	subsets map[string]*Node
}

// ID returns the node's arena handle.
func (n *Node) ID() ir.NodeID { return n.id }

// Name returns the name the node was registered under, if any.
func (n *Node) Name() string { return n.name }

// Kind reports whether the node is a store root or a dataset.
func (n *Node) Kind() ir.OpKind { return n.kind }

// Parent returns the node's parent, or nil for a store root.
func (n *Node) Parent() *Node { return n.parent }

// Store returns the store at the root of the node's chain.
func (n *Node) Store() *store.Store {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.store != nil {
			return cur.store
		}
	}
	return nil
}

// Ref returns a stack entry that splices this node's resolved stack.
func (n *Node) Ref() ir.Op { return ir.Ref{Node: n.id} }

// Stack returns the flattened stack of the node with extra appended.
func (n *Node) Stack(extra ...ir.Op) ([]ir.Op, error) {
	return n.tree.arena.Stack(n.id, extra...)
}

// Resolve resolves the node's chain. With an invoker on the tree the
// result is the invoker's; otherwise it is the flattened stack.
func (n *Node) Resolve(ctx context.Context, extra ...ir.Op) (any, error) {
	return n.tree.arena.Resolve(ctx, n.id, extra...)
}

// Descriptor reduces the node's stack with params and returns the result
// without invoking anything.
func (n *Node) Descriptor(params map[string]any) (*ir.Descriptor, error) {
	var extra []ir.Op
	if len(params) > 0 {
		extra = append(extra, ir.Params(params))
	}
	stack, err := n.Stack(extra...)
	if err != nil {
		return nil, err
	}
	return reduce.Reduce(stack, n.tree.reduceOpts...)
}

// Invoke runs the named action. The action's ops come first, then the
// caller's params and payload, then the action's resolve marker.
func (n *Node) Invoke(ctx context.Context, action string, params, payload map[string]any) (*invoke.Result, error) {
	if n.tree.invoker == nil {
		return nil, ErrNoInvoker
	}

	d, err := n.Descriptor(params)
	if err != nil {
		return nil, err
	}
	a, ok := d.Actions[action]
	if !ok {
		return nil, &reduce.ResolutionError{
			Code:    reduce.ErrCodeUnknownAction,
			Message: fmt.Sprintf("action %q is not available", action),
			Details: map[string]string{"available": strings.Join(d.Actions.Names(), ",")},
		}
	}

	extra := make([]ir.Op, 0, len(a.Ops)+3)
	extra = append(extra, a.Ops...)
	if len(params) > 0 {
		extra = append(extra, ir.Params(params))
	}
	if len(payload) > 0 {
		extra = append(extra, ir.Payload(payload))
	}
	if a.Resolver != "" {
		extra = append(extra, ir.Resolve(a.Resolver))
	}

	out, err := n.Resolve(ctx, extra...)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*invoke.Result)
	if !ok {
		return nil, fmt.Errorf("node %d: root has no invoker", n.id)
	}
	return res, nil
}

// Subscribe calls fn on every change event for the slot the node
// addresses with params. The returned function unsubscribes.
func (n *Node) Subscribe(params map[string]any, fn func()) (func(), error) {
	d, err := n.Descriptor(params)
	if err != nil {
		return nil, err
	}
	s, ok := d.Store.(*store.Store)
	if !ok {
		return nil, errors.New("subscribe: node has no store")
	}
	return s.Subscribe(d.Event, fn), nil
}

// Subset registers a named sub-dataset below n.
func (n *Node) Subset(name string, def *ir.Definition) (*Node, error) {
	if name == "" {
		return nil, errors.New("subset: name is required")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.subsets[name]; taken {
		return nil, fmt.Errorf("subset %q already defined", name)
	}
	child, err := n.tree.Dataset(n, def)
	if err != nil {
		return nil, err
	}
	child.name = name
	if n.subsets == nil {
		n.subsets = make(map[string]*Node)
	}
	n.subsets[name] = child
	return child, nil
}

// Sub returns the named subset.
func (n *Node) Sub(name string) (*Node, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.subsets[name]
	return s, ok
}

// Subsets returns the subset names in sorted order.
func (n *Node) Subsets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.subsets))
	for name := range n.subsets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mount rebuilds n below parent: the copy carries n's definition and
// includes, and every subset of n is mounted below the copy under the same
// name. n itself is left in place.
func (n *Node) Mount(parent *Node) (*Node, error) {
	if n.kind != ir.KindDataset {
		return nil, errors.New("mount: store roots cannot be re-parented")
	}
	cp, err := n.tree.Dataset(parent, n.def, Include(n.includes...))
	if err != nil {
		return nil, err
	}
	cp.name = n.name

	for _, name := range n.Subsets() {
		sub, _ := n.Sub(name)
		mounted, err := sub.Mount(cp)
		if err != nil {
			return nil, fmt.Errorf("mount subset %q: %w", name, err)
		}
		cp.mu.Lock()
		if cp.subsets == nil {
			cp.subsets = make(map[string]*Node)
		}
		cp.subsets[name] = mounted
		cp.mu.Unlock()
	}
	return cp, nil
}
