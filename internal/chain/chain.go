// Package chain holds resolvable nodes in an arena and flattens a node's
// ancestry into one resolution stack.
//
// Nodes are addressed by ir.NodeID. Each node stores an optional parent
// handle, its own contribution and, on roots only, an optional invoker that
// receives the flattened stack. Resolution always walks root-ward: each node
// prepends its contribution and defers to its parent, so the root sees
//
//	[root's own..., ..., leaf's own..., extra...]
//
// Flattening splices ir.Group entries in place (recursively) and replaces
// ir.Ref entries with the flattened stack of the referenced node. Nil
// entries are dropped.
//
// Cycles through parents or references are detected and reported as
// ErrCycle instead of recursing.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/strata/internal/ir"
)

// Invoker receives the flattened stack of a root node.
type Invoker func(ctx context.Context, stack []ir.Op) (any, error)

// ErrUnknownNode is returned when an id does not address a node in the arena.
var ErrUnknownNode = errors.New("unknown node")

// ErrCycle is returned when a parent chain or a nested reference leads back
// to a node that is already being resolved.
var ErrCycle = errors.New("cycle in resolvable chain")

// CycleError reports the node at which a cycle was detected.
type CycleError struct {
	Node  ir.NodeID
	Label string
}

func (e *CycleError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s: node %d (%s)", ErrCycle, e.Node, e.Label)
	}
	return fmt.Sprintf("%s: node %d", ErrCycle, e.Node)
}

// Unwrap lets errors.Is match ErrCycle.
func (e *CycleError) Unwrap() error { return ErrCycle }

type node struct {
	parent  ir.NodeID
	ops     []ir.Op
	dynamic func() []ir.Op
	invoker Invoker
	label   string
}

func (n *node) contribution() []ir.Op {
	if n.dynamic != nil {
		return n.dynamic()
	}
	return n.ops
}

// NodeOption configures a node when it is added.
type NodeOption func(*node)

// WithParent sets the node's parent.
func WithParent(parent ir.NodeID) NodeOption {
	return func(n *node) { n.parent = parent }
}

// WithInvoker sets the terminal invoker. It is only consulted while the
// node is a root.
func WithInvoker(inv Invoker) NodeOption {
	return func(n *node) { n.invoker = inv }
}

// WithLabel attaches a name used in error messages.
func WithLabel(label string) NodeOption {
	return func(n *node) { n.label = label }
}

// Arena owns resolvable nodes. It is safe for concurrent use; resolution
// takes a read lock for the duration of one walk.
type Arena struct {
	mu    sync.RWMutex
	nodes []node
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Add registers a node contributing ops and returns its handle.
func (a *Arena) Add(ops []ir.Op, opts ...NodeOption) ir.NodeID {
	n := node{parent: ir.NoNode, ops: append([]ir.Op(nil), ops...)}
	for _, opt := range opts {
		opt(&n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodes = append(a.nodes, n)
	return ir.NodeID(len(a.nodes) - 1)
}

// AddDynamic registers a node whose contribution is computed on every
// resolution, for owners whose definition can change after the node is
// created.
func (a *Arena) AddDynamic(contribution func() []ir.Op, opts ...NodeOption) ir.NodeID {
	n := node{parent: ir.NoNode, dynamic: contribution}
	for _, opt := range opts {
		opt(&n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodes = append(a.nodes, n)
	return ir.NodeID(len(a.nodes) - 1)
}

// SetParent re-parents id. Passing ir.NoNode makes it a root.
// Cycles are not rejected here; they surface when the node is resolved.
func (a *Arena) SetParent(id, parent ir.NodeID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.valid(id) || (parent != ir.NoNode && !a.valid(parent)) {
		return fmt.Errorf("set parent of %d to %d: %w", id, parent, ErrUnknownNode)
	}
	a.nodes[id].parent = parent
	return nil
}

// SetInvoker replaces the terminal invoker of id.
func (a *Arena) SetInvoker(id ir.NodeID, inv Invoker) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.valid(id) {
		return fmt.Errorf("set invoker of %d: %w", id, ErrUnknownNode)
	}
	a.nodes[id].invoker = inv
	return nil
}

// Parent returns the parent of id, or ir.NoNode for roots.
func (a *Arena) Parent(id ir.NodeID) (ir.NodeID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.valid(id) {
		return ir.NoNode, fmt.Errorf("parent of %d: %w", id, ErrUnknownNode)
	}
	return a.nodes[id].parent, nil
}

// Root returns the outermost ancestor of id.
func (a *Arena) Root(id ir.NodeID) (ir.NodeID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	seen := make(map[ir.NodeID]bool)
	for {
		if !a.valid(id) {
			return ir.NoNode, fmt.Errorf("root of %d: %w", id, ErrUnknownNode)
		}
		if seen[id] {
			return ir.NoNode, &CycleError{Node: id, Label: a.nodes[id].label}
		}
		seen[id] = true
		if a.nodes[id].parent == ir.NoNode {
			return id, nil
		}
		id = a.nodes[id].parent
	}
}

// Len returns the number of nodes in the arena.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// Stack returns the flattened stack of id with extra appended, without
// calling any invoker.
func (a *Arena) Stack(id ir.NodeID, extra ...ir.Op) ([]ir.Op, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stack, _, err := a.stack(id, extra, make(map[ir.NodeID]bool))
	return stack, err
}

// Resolve flattens the stack of id with extra appended. When the root
// holds an invoker the stack is handed to it and its result returned;
// otherwise the flattened []ir.Op is returned.
//
// The arena lock is released before the invoker runs, so invokers may
// resolve other nodes.
func (a *Arena) Resolve(ctx context.Context, id ir.NodeID, extra ...ir.Op) (any, error) {
	a.mu.RLock()
	stack, root, err := a.stack(id, extra, make(map[ir.NodeID]bool))
	var inv Invoker
	if err == nil {
		inv = a.nodes[root].invoker
	}
	a.mu.RUnlock()

	if err != nil {
		return nil, err
	}
	if inv == nil {
		return stack, nil
	}
	return inv(ctx, stack)
}

// stack walks id root-ward collecting contributions, then flattens each
// node's contribution. active holds nodes whose contribution is being
// flattened further up the call tree; meeting one again is a cycle.
func (a *Arena) stack(id ir.NodeID, extra []ir.Op, active map[ir.NodeID]bool) ([]ir.Op, ir.NodeID, error) {
	var path []ir.NodeID
	seen := make(map[ir.NodeID]bool)

	cur := id
	for {
		if !a.valid(cur) {
			return nil, ir.NoNode, fmt.Errorf("resolve %d: %w", cur, ErrUnknownNode)
		}
		if seen[cur] {
			return nil, ir.NoNode, &CycleError{Node: cur, Label: a.nodes[cur].label}
		}
		seen[cur] = true
		path = append(path, cur)
		if a.nodes[cur].parent == ir.NoNode {
			break
		}
		cur = a.nodes[cur].parent
	}

	var out []ir.Op
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		if active[n] {
			return nil, ir.NoNode, &CycleError{Node: n, Label: a.nodes[n].label}
		}
		active[n] = true
		flat, err := a.flatten(a.nodes[n].contribution(), active)
		delete(active, n)
		if err != nil {
			return nil, ir.NoNode, err
		}
		out = append(out, flat...)
	}

	flat, err := a.flatten(extra, active)
	if err != nil {
		return nil, ir.NoNode, err
	}
	if out == nil {
		out = []ir.Op{}
	}
	return append(out, flat...), cur, nil
}

// Flatten expands groups and references in stack against the arena.
func (a *Arena) Flatten(stack []ir.Op) ([]ir.Op, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.flatten(stack, make(map[ir.NodeID]bool))
}

func (a *Arena) flatten(stack []ir.Op, active map[ir.NodeID]bool) ([]ir.Op, error) {
	out := make([]ir.Op, 0, len(stack))
	for _, op := range stack {
		switch v := op.(type) {
		case nil:
			continue
		case ir.Group:
			inner, err := a.flatten(v, active)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		case ir.Ref:
			inner, _, err := a.stack(v.Node, nil, active)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		default:
			out = append(out, op)
		}
	}
	return out, nil
}

func (a *Arena) valid(id ir.NodeID) bool {
	return id >= 0 && int(id) < len(a.nodes)
}
