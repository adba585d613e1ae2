package ir

import "sort"

// Resolver names understood by the invoker.
const (
	ResolverGet        = "get"
	ResolverCreate     = "create"
	ResolverUpdate     = "update"
	ResolverDelete     = "delete"
	ResolverFetch      = "fetch"
	ResolverInvalidate = "invalidate"
)

// Definition is the declarative configuration contributed by a store,
// dataset or action node. Fields that do not apply to a given kind are left
// at their zero value; definition validation rejects misplaced options.
type Definition struct {
	// Type is the logical entity-collection name (stores only).
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// URI is a path template fragment, e.g. "/projects/:projectId".
	URI string `json:"uri,omitempty" yaml:"uri,omitempty"`

	// Partial names the fragment reads and writes go to.
	Partial string `json:"partial,omitempty" yaml:"partial,omitempty"`

	// Fragments lists fallback fragments used to compose partial data.
	Fragments []string `json:"fragments,omitempty" yaml:"fragments,omitempty"`

	// ParamID names the parameter holding the entity id.
	ParamID string `json:"paramId,omitempty" yaml:"paramId,omitempty"`

	// ParamMap translates logical parameter names to aliases.
	ParamMap map[string]string `json:"paramMap,omitempty" yaml:"paramMap,omitempty"`

	// Actions are merged into the current action set.
	Actions ActionSet `json:"-" yaml:"-"`

	// OnlyActions replaces the current action set.
	OnlyActions *ActionFilter `json:"-" yaml:"-"`

	// Shadow allows a later explicit definition to replace this store's
	// definition (stores only).
	Shadow bool `json:"shadow,omitempty" yaml:"shadow,omitempty"`
}

// Clone returns a deep copy of d.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	if d.Fragments != nil {
		c.Fragments = append([]string(nil), d.Fragments...)
	}
	if d.ParamMap != nil {
		c.ParamMap = make(map[string]string, len(d.ParamMap))
		for k, v := range d.ParamMap {
			c.ParamMap[k] = v
		}
	}
	c.Actions = d.Actions.Clone()
	if d.OnlyActions != nil {
		f := ActionFilter{
			Set:   d.OnlyActions.Set.Clone(),
			Names: append([]string(nil), d.OnlyActions.Names...),
		}
		c.OnlyActions = &f
	}
	return &c
}

// Action is a named operation permitted at a point in the chain. Invoking
// it contributes its Ops followed by a Resolve marker for Resolver.
type Action struct {
	Name     string
	Resolver string
	Ops      []Op
}

// Contribution returns the stack entries the action contributes when it
// is invoked.
func (a Action) Contribution() []Op {
	ops := make([]Op, 0, len(a.Ops)+1)
	ops = append(ops, a.Ops...)
	if a.Resolver != "" {
		ops = append(ops, Resolve(a.Resolver))
	}
	return ops
}

// ActionSet maps action names to actions.
type ActionSet map[string]Action

// Clone returns a shallow copy of the set.
func (s ActionSet) Clone() ActionSet {
	if s == nil {
		return nil
	}
	c := make(ActionSet, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Names returns the action names in sorted order.
func (s ActionSet) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ActionFilter is the value of an onlyActions option. Exactly one of Set
// and Names is expected: Set replaces the action set outright, Names keeps
// the named subset of the actions established so far.
type ActionFilter struct {
	Set   ActionSet
	Names []string
}

// OnlySet builds a filter that replaces the action set.
func OnlySet(set ActionSet) *ActionFilter {
	return &ActionFilter{Set: set}
}

// OnlyNames builds a filter that retains the named actions.
func OnlyNames(names ...string) *ActionFilter {
	return &ActionFilter{Names: names}
}

// NewAction builds an action that dispatches to resolver.
func NewAction(name, resolver string, ops ...Op) Action {
	return Action{Name: name, Resolver: resolver, Ops: ops}
}

// DefaultActions returns a fresh copy of the default action set.
func DefaultActions() ActionSet {
	return ActionSet{
		"invalidate": NewAction("invalidate", ResolverInvalidate),
		"get":        NewAction("get", ResolverGet),
		"create":     NewAction("create", ResolverCreate),
		"post":       NewAction("post", ResolverCreate),
		"update":     NewAction("update", ResolverUpdate),
		"put":        NewAction("put", ResolverUpdate),
		"delete":     NewAction("delete", ResolverDelete),
	}
}
