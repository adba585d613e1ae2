package definition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storesCUE = `
store: projects: {
	paramId: "projectId"
}
store: users: {}
`

const datasetsYAML = `
dataset:
  projects:
    store: projects
    uri: /projects
  project:
    parent: projects
    uri: /:projectId
`

const usersJSON = `{"dataset": {"users": {"store": "users", "uri": "/users"}}}`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoadFilesAcrossFormats(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"stores.cue":    storesCUE,
		"datasets.yaml": datasetsYAML,
		"users.json":    usersJSON,
	})

	cat, err := LoadFiles(
		filepath.Join(dir, "stores.cue"),
		filepath.Join(dir, "datasets.yaml"),
		filepath.Join(dir, "users.json"),
	)
	require.NoError(t, err)
	require.Len(t, cat.Stores, 2)
	assert.Equal(t, "projects", cat.Stores[0].Name)
	assert.Equal(t, "projectId", cat.Stores[0].Def.ParamID)
	assert.Equal(t, []string{"project", "projects", "users"}, cat.DatasetNames())

	project, ok := cat.Dataset("project")
	require.True(t, ok)
	assert.Equal(t, "projects", project.Parent)
}

func TestLoadFilesChecksMergedCatalog(t *testing.T) {
	dir := writeFiles(t, map[string]string{"datasets.yaml": datasetsYAML})

	_, err := LoadFiles(filepath.Join(dir, "datasets.yaml"))
	var ce *CheckError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, ErrUnknownRef, ce.Errors[0].Code)
}

func TestLoadFilesErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"notes.txt": "hello",
		"bad.yaml":  "store: [\n",
		"bad.cue":   "store: {",
	})

	tests := []struct {
		name string
		file string
		code string
	}{
		{"unsupported", "notes.txt", ErrUnsupported},
		{"missing", "gone.yaml", ErrLoadFailed},
		{"malformed yaml", "bad.yaml", ErrLoadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFiles(filepath.Join(dir, tt.file))
			var le *LoadError
			require.True(t, errors.As(err, &le), "got %v", err)
			assert.Equal(t, tt.code, le.Code)
		})
	}

	_, err := LoadFiles(filepath.Join(dir, "bad.cue"))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"stores.cue":    storesCUE,
		"datasets.yaml": datasetsYAML,
		"README.md":     "ignored",
	})

	cat, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, cat.Stores, 2)
	assert.Equal(t, []string{"project", "projects"}, cat.DatasetNames())
}

func TestLoadDirErrors(t *testing.T) {
	empty := t.TempDir()
	file := filepath.Join(writeFiles(t, map[string]string{"a.yaml": "{}"}), "a.yaml")

	tests := []struct {
		name string
		dir  string
		code string
	}{
		{"missing", filepath.Join(empty, "nope"), ErrNotFound},
		{"not a directory", file, ErrNotFound},
		{"no files", empty, ErrNoFiles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDir(tt.dir)
			var le *LoadError
			require.True(t, errors.As(err, &le), "got %v", err)
			assert.Equal(t, tt.code, le.Code)
		})
	}
}

func TestMergeDetectsDuplicates(t *testing.T) {
	a, err := CatalogFromMap(map[string]any{"store": map[string]any{"p": map[string]any{}}})
	require.NoError(t, err)

	_, err = Merge(a, a)
	var ce *CheckError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrDuplicateName, ce.Errors[0].Code)
}
