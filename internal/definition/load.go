package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"
)

// Load error codes (E210-E219)
const (
	ErrNotFound    = "E210" // path does not exist or is not the expected kind
	ErrNoFiles     = "E211" // directory holds no catalog files
	ErrLoadFailed  = "E212" // file could not be read or parsed
	ErrUnsupported = "E213" // file extension is not a catalog format
)

// LoadError is returned when catalog files cannot be located or read.
type LoadError struct {
	Path    string
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
}

// IsCatalogFile reports whether path has a catalog extension.
func IsCatalogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// FindFiles returns the catalog files directly inside dir, sorted.
func FindFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsCatalogFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadDir loads every catalog file in dir into one checked catalog. The
// CUE files are built together as one instance so they can share
// definitions; YAML and JSON files are decoded one by one.
func LoadDir(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Path: dir, Code: ErrNotFound, Message: "definitions directory not found"}
	}
	if err != nil {
		return nil, &LoadError{Path: dir, Code: ErrNotFound, Message: err.Error()}
	}
	if !info.IsDir() {
		return nil, &LoadError{Path: dir, Code: ErrNotFound, Message: "not a directory"}
	}

	files, err := FindFiles(dir)
	if err != nil {
		return nil, &LoadError{Path: dir, Code: ErrLoadFailed, Message: err.Error()}
	}
	if len(files) == 0 {
		return nil, &LoadError{Path: dir, Code: ErrNoFiles, Message: "no .cue, .yaml or .json files"}
	}

	var cueFiles []string
	var parts []*Catalog
	for _, f := range files {
		if filepath.Ext(f) == ".cue" {
			cueFiles = append(cueFiles, filepath.Base(f))
			continue
		}
		cat, err := loadData(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, cat)
	}

	if len(cueFiles) > 0 {
		instances := load.Instances(cueFiles, &load.Config{Dir: dir})
		if len(instances) == 0 {
			return nil, &LoadError{Path: dir, Code: ErrLoadFailed, Message: "no CUE instances loaded"}
		}
		inst := instances[0]
		if inst.Err != nil {
			return nil, &LoadError{Path: dir, Code: ErrLoadFailed, Message: inst.Err.Error()}
		}
		value := cuecontext.New().BuildInstance(inst)
		cat, err := compileCatalog(value)
		if err != nil {
			return nil, err
		}
		parts = append([]*Catalog{cat}, parts...)
	}

	return Merge(parts...)
}

// LoadFiles loads the named catalog files, each compiled on its own, into
// one checked catalog. Entries may refer across files.
func LoadFiles(paths ...string) (*Catalog, error) {
	parts := make([]*Catalog, 0, len(paths))
	cctx := cuecontext.New()
	for _, p := range paths {
		if !IsCatalogFile(p) {
			return nil, &LoadError{Path: p, Code: ErrUnsupported, Message: "expected .cue, .yaml, .yml or .json"}
		}
		if filepath.Ext(p) != ".cue" {
			cat, err := loadData(p)
			if err != nil {
				return nil, err
			}
			parts = append(parts, cat)
			continue
		}

		src, err := os.ReadFile(p)
		if err != nil {
			return nil, &LoadError{Path: p, Code: ErrLoadFailed, Message: err.Error()}
		}
		cat, err := compileCatalog(cctx.CompileBytes(src, cue.Filename(p)))
		if err != nil {
			return nil, err
		}
		parts = append(parts, cat)
	}
	return Merge(parts...)
}

// loadData decodes a YAML or JSON catalog without checking references.
func loadData(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Code: ErrLoadFailed, Message: err.Error()}
	}
	var doc map[string]any
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, &LoadError{Path: path, Code: ErrLoadFailed, Message: err.Error()}
	}
	cat, err := catalogFromMap(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Merge concatenates catalogs in order and checks the result.
func Merge(parts ...*Catalog) (*Catalog, error) {
	out := &Catalog{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		out.Stores = append(out.Stores, p.Stores...)
		out.Datasets = append(out.Datasets, p.Datasets...)
	}
	if err := Check(out); err != nil {
		return nil, err
	}
	return out, nil
}
