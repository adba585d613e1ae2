package prefetch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ingest"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
)

func fetch(t *testing.T, r *store.Registry, d *ir.Descriptor) ir.Snapshot {
	t.Helper()
	s, ok := r.Lookup(d.Type)
	require.True(t, ok, "store %s", d.Type)
	snap, err := s.Fetch(d)
	require.NoError(t, err)
	return snap
}

// =============================================================================
// SetEntries
// =============================================================================

func TestSetEntriesCreatesShadowStores(t *testing.T) {
	r := store.NewRegistry()
	l := New(r)

	ids, err := l.SetEntries("projects", []any{
		map[string]any{"id": 1, "name": "alpha"},
		map[string]any{"id": "u1", "_type": "users", "name": "ann"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "u1"}, ids)

	assert.Equal(t, []string{"projects", "users"}, r.Types())
	users, _ := r.Lookup("users")
	assert.True(t, users.IsShadow())

	snap := fetch(t, r, &ir.Descriptor{Type: "users", ID: "u1"})
	assert.Equal(t, map[string]any{"id": "u1", "name": "ann"}, snap.Data)
}

func TestSetEntriesSingleObject(t *testing.T) {
	r := store.NewRegistry()
	_, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)

	ids, err := New(r).SetEntries("projects", map[string]any{"id": 7, "name": "x"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids)

	s, _ := r.Lookup("projects")
	assert.False(t, s.IsShadow(), "existing definition kept")
	assert.Equal(t, ir.StatusSuccess, fetch(t, r, &ir.Descriptor{Type: "projects", ID: "7"}).Status)
}

func TestSetEntriesCrossTypeRejected(t *testing.T) {
	l := New(store.NewRegistry())

	ids, err := l.SetEntries("projects", []any{
		map[string]any{"id": 1},
		map[string]any{"id": 2, "_type": "users"},
	}, false)
	var conflict *ingest.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "projects", conflict.First)
	assert.Equal(t, "users", conflict.Second)
	assert.Equal(t, []string{"1"}, ids)
}

func TestSetEntriesErrors(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		data any
		is   error
	}{
		{name: "scalar", typ: "projects", data: "nope"},
		{name: "non-mapping element", typ: "projects", data: []any{1}},
		{name: "untyped", data: map[string]any{"id": 1}, is: ingest.ErrUntyped},
		{name: "missing id", typ: "projects", data: map[string]any{"name": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(store.NewRegistry()).SetEntries(tt.typ, tt.data, true)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

// =============================================================================
// SetQueries
// =============================================================================

func TestSetQueries(t *testing.T) {
	r := store.NewRegistry()
	err := New(r).SetQueries(map[string]Query{
		"/projects": {Type: "projects", Data: []any{
			map[string]any{"id": 1, "name": "alpha"},
			map[string]any{"id": 2, "name": "beta"},
		}},
		"/projects/1/summary": {Type: "projects", Partial: "summary", Data: map[string]any{"id": 1, "count": 3}},
	})
	require.NoError(t, err)

	snap := fetch(t, r, &ir.Descriptor{Type: "projects", Path: "/projects"})
	assert.Equal(t, []any{
		map[string]any{"id": 1, "name": "alpha"},
		map[string]any{"id": 2, "name": "beta"},
	}, snap.Data)

	snap = fetch(t, r, &ir.Descriptor{Type: "projects", ID: "1", Partial: "summary"})
	assert.Equal(t, map[string]any{"id": 1, "count": 3}, snap.Data)
}

func TestSetQueriesRejectsScalars(t *testing.T) {
	err := New(store.NewRegistry()).SetQueries(map[string]Query{"/n": {Type: "numbers", Data: 3}})
	assert.Error(t, err)
}

func TestSetQueriesMarkerConflict(t *testing.T) {
	err := New(store.NewRegistry()).SetQueries(map[string]Query{
		"/mixed": {Data: []any{
			map[string]any{"id": 1, "_type": "a"},
			map[string]any{"id": 2, "_type": "b"},
		}},
	})
	var conflict *ingest.ConflictError
	assert.True(t, errors.As(err, &conflict))
}

// =============================================================================
// Documents
// =============================================================================

const document = `
entries:
  - type: users
    data:
      - {id: u1, name: ann}
      - {id: u2, name: bob}
  - crossType: false
    data:
      - {id: 9, _type: projects, name: nine}
queries:
  /projects:
    type: projects
    data:
      - {id: 1, name: alpha}
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o644))

	r := store.NewRegistry()
	sum, err := New(r).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Summary{Entries: 3, Queries: 1}, sum)

	assert.Equal(t, []string{"projects", "users"}, r.Types())
	snap := fetch(t, r, &ir.Descriptor{Type: "projects", ID: "9"})
	assert.Equal(t, map[string]any{"id": 9, "name": "nine"}, snap.Data)
	snap = fetch(t, r, &ir.Descriptor{Type: "projects", Path: "/projects"})
	assert.Equal(t, []any{map[string]any{"id": 1, "name": "alpha"}}, snap.Data)
}

func TestParseDocumentJSON(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"queries": {"/x": {"type": "t", "data": {"id": "a"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, Query{Type: "t", Data: map[string]any{"id": "a"}}, doc.Queries["/x"])
}

func TestLoadFileErrors(t *testing.T) {
	l := New(store.NewRegistry())

	_, err := l.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("entries: [\n"), 0o644))
	_, err = l.LoadFile(bad)
	assert.Error(t, err)
}
