package definition

import (
	"errors"
	"fmt"
	"sort"

	"cuelang.org/go/cue"

	"github.com/roach88/strata/internal/ir"
)

// StoreSpec is a named store definition from a catalog.
type StoreSpec struct {
	Name string
	Def  *ir.Definition
}

// DatasetSpec is a named dataset definition from a catalog. Exactly one
// of Store and Parent anchors the dataset's chain.
type DatasetSpec struct {
	Name     string
	Store    string   // root store type
	Parent   string   // parent dataset name
	Includes []string // datasets spliced in, in order, before Def
	Def      *ir.Definition
}

// Catalog is a compiled set of store and dataset definitions.
type Catalog struct {
	Stores   []StoreSpec
	Datasets []DatasetSpec
}

// Dataset returns the dataset named name.
func (c *Catalog) Dataset(name string) (DatasetSpec, bool) {
	for _, ds := range c.Datasets {
		if ds.Name == name {
			return ds, true
		}
	}
	return DatasetSpec{}, false
}

// DatasetNames returns dataset names in sorted order.
func (c *Catalog) DatasetNames() []string {
	names := make([]string, len(c.Datasets))
	for i, ds := range c.Datasets {
		names[i] = ds.Name
	}
	sort.Strings(names)
	return names
}

// Keys a catalog dataset may carry in addition to the dataset options.
var anchorKeys = []string{"store", "parent", "include"}

// CompileCatalog walks a CUE value of the form
//
//	store: projects: { paramId: "projectId" }
//	dataset: project: { store: "projects", uri: "/projects/:projectId" }
//	dataset: tasks: { parent: "project", uri: "/tasks" }
//
// into a Catalog. The store label is the store type. The catalog is
// checked with Check before it is returned.
func CompileCatalog(v cue.Value) (*Catalog, error) {
	cat, err := compileCatalog(v)
	if err != nil {
		return nil, err
	}
	if err := Check(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func compileCatalog(v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, fromCUE(err)
	}

	cat := &Catalog{}

	storesVal := v.LookupPath(cue.ParsePath("store"))
	if storesVal.Exists() {
		iter, err := storesVal.Fields()
		if err != nil {
			return nil, fromCUE(err)
		}
		for iter.Next() {
			spec, err := compileStore(iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				return nil, err
			}
			cat.Stores = append(cat.Stores, spec)
		}
	}

	datasetsVal := v.LookupPath(cue.ParsePath("dataset"))
	if datasetsVal.Exists() {
		iter, err := datasetsVal.Fields()
		if err != nil {
			return nil, fromCUE(err)
		}
		for iter.Next() {
			spec, err := compileDataset(iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				return nil, err
			}
			cat.Datasets = append(cat.Datasets, spec)
		}
	}

	return cat, nil
}

func compileStore(name string, v cue.Value) (StoreSpec, error) {
	m, err := structToMap(v)
	if err != nil {
		return StoreSpec{}, err
	}
	spec, err := storeFromMap(name, m)
	if err != nil {
		return StoreSpec{}, positioned("store."+name, v, err)
	}
	return spec, nil
}

func compileDataset(name string, v cue.Value) (DatasetSpec, error) {
	m, err := structToMap(v)
	if err != nil {
		return DatasetSpec{}, err
	}
	spec, err := datasetFromMap(name, m)
	if err != nil {
		return DatasetSpec{}, positioned("dataset."+name, v, err)
	}
	return spec, nil
}

// CatalogFromMap builds a Catalog from an untyped document with the same
// shape as a CUE catalog, as decoded from YAML or JSON.
func CatalogFromMap(doc map[string]any) (*Catalog, error) {
	cat, err := catalogFromMap(doc)
	if err != nil {
		return nil, err
	}
	if err := Check(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func catalogFromMap(doc map[string]any) (*Catalog, error) {
	cat := &Catalog{}
	for _, key := range sortedKeys(doc) {
		if key != "store" && key != "dataset" {
			return nil, &DecodeError{Kind: "catalog", Errors: []ValidationError{{
				Field: key, Code: ErrUnknownKey, Message: "expected store or dataset",
			}}}
		}
	}

	stores, err := section(doc, "store")
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(stores) {
		m, ok := stores[name].(map[string]any)
		if !ok {
			return nil, sectionError("store."+name, stores[name])
		}
		spec, err := storeFromMap(name, m)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		cat.Stores = append(cat.Stores, spec)
	}

	datasets, err := section(doc, "dataset")
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(datasets) {
		m, ok := datasets[name].(map[string]any)
		if !ok {
			return nil, sectionError("dataset."+name, datasets[name])
		}
		spec, err := datasetFromMap(name, m)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
		cat.Datasets = append(cat.Datasets, spec)
	}

	return cat, nil
}

func section(doc map[string]any, key string) (map[string]any, error) {
	raw, ok := doc[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, sectionError(key, raw)
	}
	return m, nil
}

func sectionError(field string, raw any) error {
	return &DecodeError{Kind: "catalog", Errors: []ValidationError{{
		Field: field, Code: ErrWrongType, Message: fmt.Sprintf("expected mapping, got %T", raw),
	}}}
}

func storeFromMap(name string, src map[string]any) (StoreSpec, error) {
	m := copyMap(src)
	if t, ok := m["type"]; ok && t != name {
		return StoreSpec{}, &DecodeError{Kind: KindStore, Errors: []ValidationError{{
			Field: "type", Code: ErrWrongType, Message: fmt.Sprintf("type %v does not match name %q", t, name),
		}}}
	}
	m["type"] = name

	def, err := DecodeStore(m)
	if err != nil {
		return StoreSpec{}, err
	}
	return StoreSpec{Name: name, Def: def}, nil
}

func datasetFromMap(name string, src map[string]any) (DatasetSpec, error) {
	m := copyMap(src)
	spec := DatasetSpec{Name: name}
	var errs []ValidationError

	for _, key := range anchorKeys {
		raw, ok := m[key]
		if !ok {
			continue
		}
		delete(m, key)

		switch key {
		case "store", "parent":
			s, isString := raw.(string)
			if !isString || s == "" {
				errs = append(errs, ValidationError{Field: key, Code: ErrWrongType, Message: "expected non-empty string"})
				continue
			}
			if key == "store" {
				spec.Store = s
			} else {
				spec.Parent = s
			}
		case "include":
			names, ok := stringList(raw)
			if !ok {
				errs = append(errs, ValidationError{Field: key, Code: ErrWrongType, Message: "expected list of dataset names"})
				continue
			}
			spec.Includes = names
		}
	}

	def, err := DecodeDataset(m)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			return DatasetSpec{}, err
		}
		errs = append(errs, de.Errors...)
	}
	if len(errs) > 0 {
		return DatasetSpec{}, &DecodeError{Kind: KindDataset, Errors: errs}
	}
	spec.Def = def
	return spec, nil
}

func stringList(raw any) ([]string, bool) {
	switch list := raw.(type) {
	case []string:
		return append([]string(nil), list...), true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// positioned turns the first problem of a DecodeError into a CompileError
// pointing at the offending field.
func positioned(prefix string, v cue.Value, err error) error {
	var de *DecodeError
	if !errors.As(err, &de) || len(de.Errors) == 0 {
		return err
	}
	first := de.Errors[0]
	pos := v.Pos()
	if fv := v.LookupPath(cue.ParsePath(topLevel(first.Field))); fv.Exists() {
		pos = fv.Pos()
	}
	return &CompileError{
		Field:   prefix + "." + first.Field,
		Code:    first.Code,
		Message: first.Message,
		Pos:     pos,
	}
}

// topLevel strips selectors and indices from a decode field path.
func topLevel(field string) string {
	for i, r := range field {
		if r == '.' || r == '[' {
			return field[:i]
		}
	}
	return field
}

func structToMap(v cue.Value) (map[string]any, error) {
	raw, err := toGo(v)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &CompileError{Field: "cue", Code: ErrWrongType, Message: "expected struct", Pos: v.Pos()}
	}
	return m, nil
}

// toGo converts a concrete CUE value into the untyped shape produced by a
// YAML or JSON decoder, so all definition sources share one decoder.
func toGo(v cue.Value) (any, error) {
	if err := v.Err(); err != nil {
		return nil, fromCUE(err)
	}
	if !v.IsConcrete() {
		return nil, &CompileError{
			Field:   "cue",
			Code:    ErrWrongType,
			Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	switch v.IncompleteKind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, fromCUE(err)
		}
		m := make(map[string]any)
		for iter.Next() {
			item, err := toGo(iter.Value())
			if err != nil {
				return nil, err
			}
			m[iter.Selector().Unquoted()] = item
		}
		return m, nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, fromCUE(err)
		}
		list := []any{}
		for iter.Next() {
			item, err := toGo(iter.Value())
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil

	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, fromCUE(err)
		}
		return s, nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, fromCUE(err)
		}
		return b, nil

	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, fromCUE(err)
		}
		return n, nil

	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, fromCUE(err)
		}
		return f, nil

	case cue.NullKind:
		return nil, nil

	default:
		return nil, &CompileError{
			Field:   "cue",
			Code:    ErrWrongType,
			Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
