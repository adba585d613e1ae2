package ir

// Op is a sealed interface for the entries of a resolution stack.
// Only DefinitionOp, Params, Payload, Resolve, Literal, Group and Ref
// implement it.
type Op interface {
	op() // Sealed
}

// OpKind identifies who contributed a DefinitionOp.
type OpKind string

const (
	// KindStore marks a store contribution. It is a hard scope boundary
	// for the reducer.
	KindStore OpKind = "store"

	// KindDataset marks a dataset contribution.
	KindDataset OpKind = "dataset"

	// KindAction marks an action contribution.
	KindAction OpKind = "action"
)

// NodeID addresses a resolvable node inside a chain arena.
// The zero value is a valid id; NoNode marks "no node".
type NodeID int

// NoNode is the NodeID used for "no parent".
const NoNode NodeID = -1

// DefinitionOp carries the definition contributed by a store, dataset or
// action node.
type DefinitionOp struct {
	Kind OpKind
	Def  *Definition

	// Store is set for KindStore entries and references the owning cache.
	Store StoreRef
}

func (DefinitionOp) op() {}

// Params is a raw parameter carrier. Its values are merged into the
// reducer's parameter mapping, newer values winning.
type Params map[string]any

func (Params) op() {}

// Payload is a plain object merged into the request body.
type Payload map[string]any

func (Payload) op() {}

// Resolve names the resolver an invocation should dispatch to.
// The invoker strips these markers before reduction; the last one wins.
type Resolve string

func (Resolve) op() {}

// Literal is a primitive contribution with no meaning to the reducer.
// It survives flattening untouched and is ignored during reduction.
type Literal struct {
	Value any
}

func (Literal) op() {}

// Group is a definition that is itself a sequence. Flattening splices
// its (recursively flattened) contents in place.
type Group []Op

func (Group) op() {}

// Ref points at another resolvable node. Flattening splices the fully
// resolved stack of that node in place.
type Ref struct {
	Node NodeID
}

func (Ref) op() {}

// StoreRef is the minimal view of a store carried on a stack entry and on a
// resolved Descriptor.
type StoreRef interface {
	Type() string
}

// StoreOp builds the stack entry a store contributes.
func StoreOp(def *Definition, store StoreRef) DefinitionOp {
	return DefinitionOp{Kind: KindStore, Def: def, Store: store}
}

// DatasetOp builds the stack entry a dataset contributes.
func DatasetOp(def *Definition) DefinitionOp {
	return DefinitionOp{Kind: KindDataset, Def: def}
}
