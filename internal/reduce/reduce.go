// Package reduce folds a flattened resolution stack into one ir.Descriptor.
//
// Reduction makes exactly two passes over the stack. The first pass
// collects everything except the path: store scope, type, actions, partial,
// fragments, parameter mapping, params and payload. The second pass
// substitutes URI templates using the final parameters. The entity id is
// then chosen from, in order, the last paramId, the last URI token and the
// literal "id".
//
// Reduce is pure: it never touches a cache and returns the same descriptor
// for the same stack.
package reduce

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/strata/internal/ir"
)

var tokenPattern = regexp.MustCompile(`:(\w+)`)

// Option configures a reduction.
type Option func(*config)

type config struct {
	host     string
	defaults func() ir.ActionSet
}

// WithHost prefixes every resolved path.
func WithHost(host string) Option {
	return func(c *config) { c.host = host }
}

// WithDefaultActions replaces the action set a store scope resets to.
func WithDefaultActions(fn func() ir.ActionSet) Option {
	return func(c *config) { c.defaults = fn }
}

// Reduce folds stack into a descriptor.
func Reduce(stack []ir.Op, opts ...Option) (*ir.Descriptor, error) {
	cfg := config{defaults: ir.DefaultActions}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &ir.Descriptor{
		Params:    map[string]any{},
		Payload:   map[string]any{},
		Fragments: []string{},
		Actions:   cfg.defaults(),
	}
	paramMap := map[string]string{}
	paramID := ""

	// Pass 1: everything except the path.
	for _, op := range stack {
		switch v := op.(type) {
		case ir.DefinitionOp:
			def := v.Def
			if def == nil {
				def = &ir.Definition{}
			}

			switch v.Kind {
			case ir.KindStore:
				d.Actions = cfg.defaults()
				d.Store = v.Store
				paramID = def.ParamID
				if def.Type != "" {
					d.Type = def.Type
				} else if v.Store != nil {
					d.Type = v.Store.Type()
				}
			default:
				if v.Kind == ir.KindDataset {
					for k, alias := range def.ParamMap {
						paramMap[k] = alias
					}
					if def.Partial != "" {
						d.Partial = def.Partial
					}
					d.Fragments = concatUnique(d.Fragments, def.Fragments)
				}
				if def.ParamID != "" {
					paramID = def.ParamID
				}
			}

			if def.OnlyActions != nil {
				set, err := applyOnly(d.Actions, def.OnlyActions)
				if err != nil {
					return nil, err
				}
				d.Actions = set
			}
			if def.Actions != nil {
				if err := validateActions(def.Actions, "actions"); err != nil {
					return nil, err
				}
				for name, a := range def.Actions {
					d.Actions[name] = a
				}
			}

		case ir.Params:
			for k, val := range v {
				d.Params[k] = val
			}

		case ir.Payload:
			for k, val := range v {
				d.Payload[k] = val
			}
		}
	}

	// Pass 2: path construction from the final params.
	var path strings.Builder
	lastToken := ""
	for _, op := range stack {
		v, ok := op.(ir.DefinitionOp)
		if !ok || v.Def == nil || v.Def.URI == "" {
			continue
		}
		filled, last, err := fillURI(v.Def.URI, d.Params, paramMap)
		if err != nil {
			return nil, err
		}
		path.WriteString(filled)
		// A fragment without tokens clears the fallback key, so a nested
		// collection does not inherit its parent's id.
		lastToken = last
	}
	d.Path = cfg.host + path.String()

	key := paramID
	if key == "" {
		key = lastToken
	}
	if key == "" {
		key = "id"
	}
	if alias, ok := paramMap[key]; ok && alias != "" {
		key = alias
	}
	if id, ok := ir.IDString(d.Params[key]); ok {
		d.ID = id
	}
	d.Event = ir.EventName(d.ID)

	slices.Reverse(d.Fragments)
	return d, nil
}

// fillURI substitutes every :token in uri. It returns the filled template
// and the logical name of the last token.
func fillURI(uri string, params map[string]any, paramMap map[string]string) (string, string, error) {
	matches := tokenPattern.FindAllStringSubmatchIndex(uri, -1)
	if len(matches) == 0 {
		return uri, "", nil
	}

	var b strings.Builder
	prev := 0
	last := ""
	for _, m := range matches {
		name := uri[m[2]:m[3]]
		key := name
		if alias, ok := paramMap[name]; ok && alias != "" {
			key = alias
		}

		value, ok := ir.IDString(params[key])
		if !ok {
			return "", "", &ResolutionError{
				Code:    ErrCodeMissingParam,
				Message: fmt.Sprintf("failed to map path component %q for %q", key, uri),
				Details: map[string]string{"uri": uri, "param": key, "params": paramNames(params)},
			}
		}

		b.WriteString(uri[prev:m[0]])
		b.WriteString(value)
		prev = m[1]
		last = name
	}
	b.WriteString(uri[prev:])
	return b.String(), last, nil
}

// applyOnly replaces or narrows the current action set.
func applyOnly(current ir.ActionSet, f *ir.ActionFilter) (ir.ActionSet, error) {
	switch {
	case f.Set != nil && f.Names != nil:
		return nil, &ResolutionError{
			Code:    ErrCodeInvalidActions,
			Message: "onlyActions must be either an action mapping or a list of names, not both",
		}
	case f.Set != nil:
		if err := validateActions(f.Set, "onlyActions"); err != nil {
			return nil, err
		}
		return f.Set.Clone(), nil
	case f.Names != nil:
		next := make(ir.ActionSet, len(f.Names))
		for _, name := range f.Names {
			a, ok := current[name]
			if !ok {
				return nil, &ResolutionError{
					Code:    ErrCodeUnknownAction,
					Message: fmt.Sprintf("onlyActions names %q which is not an available action", name),
					Details: map[string]string{"available": strings.Join(current.Names(), ",")},
				}
			}
			next[name] = a
		}
		return next, nil
	default:
		return nil, &ResolutionError{
			Code:    ErrCodeInvalidActions,
			Message: "onlyActions is empty",
		}
	}
}

func validateActions(set ir.ActionSet, option string) error {
	for name, a := range set {
		if name == "" {
			return &ResolutionError{
				Code:    ErrCodeInvalidActions,
				Message: option + " contains an unnamed action",
			}
		}
		if a.Resolver == "" && len(a.Ops) == 0 {
			return &ResolutionError{
				Code:    ErrCodeInvalidActions,
				Message: fmt.Sprintf("%s entry %q has neither a resolver nor operations", option, name),
			}
		}
	}
	return nil
}

func concatUnique(dst, src []string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func paramNames(params map[string]any) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}
