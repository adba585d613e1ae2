package definition

import (
	"fmt"
	"sort"

	"github.com/roach88/strata/internal/ir"
)

// Definition kinds accepted by Decode.
const (
	KindStore   = "store"
	KindDataset = "dataset"
)

var allowedKeys = map[string]map[string]bool{
	KindStore: {
		"type":        true,
		"actions":     true,
		"onlyActions": true,
		"paramId":     true,
		"shadow":      true,
	},
	KindDataset: {
		"partial":     true,
		"fragments":   true,
		"uri":         true,
		"actions":     true,
		"onlyActions": true,
		"paramId":     true,
		"paramMap":    true,
	},
}

// DecodeStore decodes an untyped store definition, as read from YAML, JSON
// or CUE, into an ir.Definition.
func DecodeStore(m map[string]any) (*ir.Definition, error) {
	return Decode(KindStore, m)
}

// DecodeDataset decodes an untyped dataset definition.
func DecodeDataset(m map[string]any) (*ir.Definition, error) {
	return Decode(KindDataset, m)
}

// Decode decodes m as a definition of the given kind. Unknown keys and
// values of the wrong type are reported together in a *DecodeError.
func Decode(kind string, m map[string]any) (*ir.Definition, error) {
	allowed, ok := allowedKeys[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported definition kind %q", kind)
	}

	d := &decoder{}
	def := &ir.Definition{}

	for _, key := range sortedKeys(m) {
		if !allowed[key] {
			d.fail(key, ErrUnknownKey, fmt.Sprintf("unknown %s option", kind))
		}
	}

	def.Type = d.str(m, "type", allowed)
	def.URI = d.str(m, "uri", allowed)
	def.Partial = d.str(m, "partial", allowed)
	def.ParamID = d.str(m, "paramId", allowed)
	def.Fragments = d.strList(m, "fragments", allowed)
	def.ParamMap = d.strMap(m, "paramMap", allowed)

	if allowed["shadow"] {
		if raw, ok := m["shadow"]; ok {
			b, isBool := raw.(bool)
			if !isBool {
				d.fail("shadow", ErrWrongType, fmt.Sprintf("expected bool, got %T", raw))
			}
			def.Shadow = b
		}
	}

	if raw, ok := m["actions"]; ok {
		def.Actions = d.actionSet("actions", raw)
	}
	if raw, ok := m["onlyActions"]; ok {
		def.OnlyActions = d.onlyActions("onlyActions", raw)
	}

	if len(d.errs) > 0 {
		return nil, &DecodeError{Kind: kind, Errors: d.errs}
	}
	return def, nil
}

type decoder struct {
	errs []ValidationError
}

func (d *decoder) fail(field, code, msg string) {
	d.errs = append(d.errs, ValidationError{Field: field, Message: msg, Code: code})
}

func (d *decoder) str(m map[string]any, key string, allowed map[string]bool) string {
	raw, ok := m[key]
	if !ok || !allowed[key] {
		return ""
	}
	s, isString := raw.(string)
	if !isString {
		d.fail(key, ErrWrongType, fmt.Sprintf("expected string, got %T", raw))
		return ""
	}
	if s == "" {
		d.fail(key, ErrEmptyValue, "must not be empty")
	}
	return s
}

func (d *decoder) strList(m map[string]any, key string, allowed map[string]bool) []string {
	raw, ok := m[key]
	if !ok || !allowed[key] {
		return nil
	}
	switch list := raw.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, isString := item.(string)
			if !isString || s == "" {
				d.fail(fmt.Sprintf("%s[%d]", key, i), ErrWrongType, fmt.Sprintf("expected non-empty string, got %T", item))
				continue
			}
			out = append(out, s)
		}
		return out
	default:
		d.fail(key, ErrWrongType, fmt.Sprintf("expected list of strings, got %T", raw))
		return nil
	}
}

func (d *decoder) strMap(m map[string]any, key string, allowed map[string]bool) map[string]string {
	raw, ok := m[key]
	if !ok || !allowed[key] {
		return nil
	}
	switch mm := raw.(type) {
	case map[string]string:
		out := make(map[string]string, len(mm))
		for k, v := range mm {
			out[k] = v
		}
		return out
	case map[string]any:
		out := make(map[string]string, len(mm))
		for _, k := range sortedKeys(mm) {
			s, isString := mm[k].(string)
			if !isString {
				d.fail(key+"."+k, ErrWrongType, fmt.Sprintf("expected string, got %T", mm[k]))
				continue
			}
			out[k] = s
		}
		return out
	default:
		d.fail(key, ErrWrongType, fmt.Sprintf("expected mapping of strings, got %T", raw))
		return nil
	}
}

// actionSet decodes a mapping of action name to action. An action is
// either a resolver name or a mapping with a resolver and optional params
// and payload.
func (d *decoder) actionSet(field string, raw any) ir.ActionSet {
	mm, ok := raw.(map[string]any)
	if !ok {
		d.fail(field, ErrWrongType, fmt.Sprintf("expected mapping of actions, got %T", raw))
		return nil
	}
	set := make(ir.ActionSet, len(mm))
	for _, name := range sortedKeys(mm) {
		if a, ok := d.action(field+"."+name, name, mm[name]); ok {
			set[name] = a
		}
	}
	return set
}

func (d *decoder) action(field, name string, raw any) (ir.Action, bool) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			d.fail(field, ErrInvalidAction, "resolver must not be empty")
			return ir.Action{}, false
		}
		return ir.NewAction(name, v), true
	case map[string]any:
		before := len(d.errs)
		for _, k := range sortedKeys(v) {
			switch k {
			case "resolver", "params", "payload":
			default:
				d.fail(field+"."+k, ErrUnknownKey, "unknown action option")
			}
		}
		resolver, _ := v["resolver"].(string)
		if resolver == "" {
			d.fail(field+".resolver", ErrInvalidAction, "resolver is required")
		}
		var ops []ir.Op
		if p, ok := v["params"]; ok {
			pm, isMap := p.(map[string]any)
			if !isMap {
				d.fail(field+".params", ErrWrongType, fmt.Sprintf("expected mapping, got %T", p))
			} else {
				ops = append(ops, ir.Params(pm))
			}
		}
		if p, ok := v["payload"]; ok {
			pm, isMap := p.(map[string]any)
			if !isMap {
				d.fail(field+".payload", ErrWrongType, fmt.Sprintf("expected mapping, got %T", p))
			} else {
				ops = append(ops, ir.Payload(pm))
			}
		}
		if len(d.errs) > before {
			return ir.Action{}, false
		}
		return ir.NewAction(name, resolver, ops...), true
	default:
		d.fail(field, ErrInvalidAction, fmt.Sprintf("expected resolver name or mapping, got %T", raw))
		return ir.Action{}, false
	}
}

func (d *decoder) onlyActions(field string, raw any) *ir.ActionFilter {
	switch v := raw.(type) {
	case []string:
		return ir.OnlyNames(append([]string(nil), v...)...)
	case []any:
		names := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				d.fail(fmt.Sprintf("%s[%d]", field, i), ErrInvalidOnly, fmt.Sprintf("expected action name, got %T", item))
				continue
			}
			names = append(names, s)
		}
		return ir.OnlyNames(names...)
	case map[string]any:
		return ir.OnlySet(d.actionSet(field, v))
	default:
		d.fail(field, ErrInvalidOnly, fmt.Sprintf("expected list of names or mapping of actions, got %T", raw))
		return nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
