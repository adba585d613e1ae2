package definition

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
)

// =============================================================================
// CUE catalogs
// =============================================================================

func TestCompileCatalog(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		store: projects: {
			paramId: "projectId"
			actions: archive: "update"
		}

		dataset: projects: {
			store: "projects"
			uri:   "/projects"
		}

		dataset: project: {
			parent:    "projects"
			uri:       "/:projectId"
			paramId:   "projectId"
			partial:   "full"
			fragments: ["minimal"]
		}

		dataset: projectTasks: {
			parent:  "project"
			include: ["paged"]
			uri:     "/tasks"
		}

		dataset: paged: {
			store: "projects"
			actions: next: {
				resolver: "get"
				params: page: 2
			}
		}
	`)
	require.NoError(t, v.Err())

	cat, err := CompileCatalog(v)
	require.NoError(t, err)

	require.Len(t, cat.Stores, 1)
	assert.Equal(t, "projects", cat.Stores[0].Name)
	assert.Equal(t, "projects", cat.Stores[0].Def.Type)
	assert.Equal(t, "projectId", cat.Stores[0].Def.ParamID)
	assert.Equal(t, ir.NewAction("archive", "update"), cat.Stores[0].Def.Actions["archive"])

	assert.Equal(t, []string{"paged", "project", "projectTasks", "projects"}, cat.DatasetNames())

	project, ok := cat.Dataset("project")
	require.True(t, ok)
	assert.Equal(t, "projects", project.Parent)
	assert.Empty(t, project.Store)
	assert.Equal(t, "/:projectId", project.Def.URI)
	assert.Equal(t, []string{"minimal"}, project.Def.Fragments)

	tasks, ok := cat.Dataset("projectTasks")
	require.True(t, ok)
	assert.Equal(t, []string{"paged"}, tasks.Includes)

	paged, ok := cat.Dataset("paged")
	require.True(t, ok)
	assert.Equal(t, ir.NewAction("next", "get", ir.Params{"page": int64(2)}), paged.Def.Actions["next"])

	_, ok = cat.Dataset("missing")
	assert.False(t, ok)
}

func TestCompileCatalogEmpty(t *testing.T) {
	ctx := cuecontext.New()
	cat, err := CompileCatalog(ctx.CompileString(`{}`))
	require.NoError(t, err)
	assert.Empty(t, cat.Stores)
	assert.Empty(t, cat.Datasets)
}

func TestCompileCatalogPositionedDecodeError(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
store: projects: {
	uri: "/projects"
}
`, cue.Filename("defs.cue"))
	require.NoError(t, v.Err())

	_, err := CompileCatalog(v)
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "store.projects.uri", ce.Field)
	assert.Equal(t, ErrUnknownKey, ce.Code)
	assert.True(t, ce.Pos.IsValid())
	assert.Equal(t, 3, ce.Pos.Line())
	assert.Contains(t, err.Error(), "defs.cue:3")
}

func TestCompileCatalogTypeMustMatchLabel(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`store: projects: type: "tasks"`)

	_, err := CompileCatalog(v)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrWrongType, ce.Code)
}

func TestCompileCatalogIncompleteValue(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`dataset: d: { store: "s", uri: string }`)

	_, err := CompileCatalog(v)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrWrongType, ce.Code)
	assert.Contains(t, ce.Message, "concrete")
}

func TestCompileCatalogConflict(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		dataset: d: uri: "/a"
		dataset: d: uri: "/b"
	`)

	_, err := CompileCatalog(v)
	require.Error(t, err)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cue", ce.Field)
}

func TestCompileCatalogRunsCheck(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`dataset: orphan: uri: "/x"`)

	_, err := CompileCatalog(v)
	var ce *CheckError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrMissingAnchor, ce.Errors[0].Code)
}

// =============================================================================
// Untyped catalogs (YAML / JSON)
// =============================================================================

func TestCatalogFromMap(t *testing.T) {
	cat, err := CatalogFromMap(map[string]any{
		"store": map[string]any{
			"projects": map[string]any{"paramId": "projectId"},
		},
		"dataset": map[string]any{
			"projects": map[string]any{"store": "projects", "uri": "/projects"},
			"project":  map[string]any{"parent": "projects", "uri": "/:projectId"},
		},
	})
	require.NoError(t, err)

	require.Len(t, cat.Stores, 1)
	assert.Equal(t, "projects", cat.Stores[0].Def.Type)
	assert.Equal(t, []string{"project", "projects"}, cat.DatasetNames())
}

func TestCatalogFromMapErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
	}{
		{"unknown section", map[string]any{"action": map[string]any{}}},
		{"section not mapping", map[string]any{"store": []any{}}},
		{"entry not mapping", map[string]any{"store": map[string]any{"p": "x"}}},
		{"bad anchor", map[string]any{"dataset": map[string]any{"d": map[string]any{"store": 1}}}},
		{"bad include", map[string]any{"dataset": map[string]any{"d": map[string]any{"store": "s", "include": "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CatalogFromMap(tt.doc)
			var de *DecodeError
			assert.True(t, errors.As(err, &de), "got %v", err)
		})
	}
}
