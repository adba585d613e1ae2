package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/snapshot"
)

const seedFile = "testdata/seed.yaml"

func prefetchInto(t *testing.T, db string, extra ...string) string {
	t.Helper()
	args := append([]string{seedFile, "--db", db}, extra...)
	out, err := execute(t, NewPrefetchCommand(testOpts("text")), args...)
	require.NoError(t, err)
	return out
}

// =============================================================================
// prefetch
// =============================================================================

func TestPrefetchCreatesShadowStores(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")

	out := prefetchInto(t, db)
	assert.Contains(t, out, "✓ Prefetched testdata/seed.yaml: 2 entr(ies), 1 query(ies)")

	out, err := execute(t, NewInspectCommand(testOpts("json")), "--db", db)
	require.NoError(t, err)

	var resp struct {
		Data InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Stores, 1)
	info := resp.Data.Stores[0]
	assert.Equal(t, snapshot.StoreInfo{Type: "projects", Shadow: true, Slots: 2, Queries: 1}, info)
	assert.Positive(t, resp.Data.SavedAt)
}

func TestPrefetchWithDefinitions(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")
	prefetchInto(t, db, "--defs", defsDir)

	out, err := execute(t, NewInspectCommand(testOpts("text")), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "TYPE")
	assert.Regexp(t, `projects\s+false\s+projectId\s+2\s+0\s+1`, out)
	assert.Regexp(t, `tasks\s+false\s+taskId\s+0\s+0\s+0`, out)
}

func TestPrefetchServesFetchFromSnapshot(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")
	prefetchInto(t, db, "--defs", defsDir)

	out, err := execute(t, NewFetchCommand(testOpts("json")),
		defsDir, "project", "-p", "projectId=2", "-a", "load", "--db", db)
	require.NoError(t, err)

	resp := decodeFetch(t, out)
	assert.True(t, resp.Data.Cached)
	assert.Equal(t, "beta", resp.Data.Data.(map[string]any)["name"])
}

func TestPrefetchErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("queries:\n  /x:\n    type: projects\n    data: 3\n"), 0o644))

	tests := []struct {
		name string
		args []string
		exit int
		code string
	}{
		{"no db", []string{seedFile}, ExitCommandError, ErrCodeBadArgs},
		{"missing file", []string{filepath.Join(dir, "none.yaml"), "--db", filepath.Join(dir, "a.db")}, ExitFailure, ErrCodePrefetch},
		{"bad document", []string{bad, "--db", filepath.Join(dir, "b.db")}, ExitFailure, ErrCodePrefetch},
		{"missing defs", []string{seedFile, "--db", filepath.Join(dir, "c.db"), "--defs", filepath.Join(dir, "none")}, ExitCommandError, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewPrefetchCommand(testOpts("text")), tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.code)
		})
	}
}

// =============================================================================
// inspect
// =============================================================================

func TestInspectType(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")
	prefetchInto(t, db)

	out, err := execute(t, NewInspectCommand(testOpts("text")), "--db", db, "--type", "projects")
	require.NoError(t, err)
	assert.Contains(t, out, "store projects: 2 slot(s), 1 query(ies)")
	assert.Contains(t, out, `{"id":1,"name":"alpha"}`)
	assert.Regexp(t, `/projects\s+success\s+\d+\s+1,2`, out)

	out, err = execute(t, NewInspectCommand(testOpts("json")), "--db", db, "--type", "projects")
	require.NoError(t, err)
	var resp struct {
		Data StoreState `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "projects", resp.Data.Type)
	assert.Len(t, resp.Data.Slots, 2)
	require.Len(t, resp.Data.Queries, 1)
	assert.Equal(t, []string{"1", "2"}, resp.Data.Queries[0].IDs)
}

func TestInspectEmptySnapshot(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")
	s, err := snapshot.Open(db)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	out, err := execute(t, NewInspectCommand(testOpts("text")), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No stores in snapshot.")
}

func TestInspectErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")
	prefetchInto(t, db)

	tests := []struct {
		name string
		args []string
		exit int
		code string
	}{
		{"no db", nil, ExitCommandError, ErrCodeBadArgs},
		{"missing db", []string{"--db", filepath.Join(t.TempDir(), "none.db")}, ExitCommandError, ErrCodeNotFound},
		{"unknown type", []string{"--db", db, "--type", "users"}, ExitCommandError, ErrCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewInspectCommand(testOpts("text")), tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.code)
		})
	}
}
