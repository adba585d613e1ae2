package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/testutil"
)

func newRegistry() *Registry {
	clock := testutil.NewDeterministicClock(1000, 1)
	return NewRegistry(
		WithCacheOptions(fragment.WithClock(clock.Now)),
		WithNameGenerator(testutil.NewSequenceNames("anon").Generate),
	)
}

// =============================================================================
// Registry
// =============================================================================

func TestCreateNamedStore(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(ir.Definition{Type: "projects", ParamID: "projectId"})
	require.NoError(t, err)

	assert.Equal(t, "projects", s.Type())
	assert.Equal(t, "projectId", s.Definition().ParamID)

	got, ok := r.Lookup("projects")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestCreateAnonymousStore(t *testing.T) {
	r := newRegistry()
	a, err := r.Create(ir.Definition{})
	require.NoError(t, err)
	b, err := r.Create(ir.Definition{})
	require.NoError(t, err)

	assert.Equal(t, "anon-1", a.Type())
	assert.Equal(t, "anon-2", b.Type())
	assert.Equal(t, []string{"anon-1", "anon-2"}, r.Types())
}

func TestCreateAnonymousStoreDefaultNamesAreUnique(t *testing.T) {
	r := NewRegistry()
	a, err := r.Create(ir.Definition{})
	require.NoError(t, err)
	b, err := r.Create(ir.Definition{})
	require.NoError(t, err)

	assert.Len(t, a.Type(), 36)
	assert.NotEqual(t, a.Type(), b.Type())
}

func TestCreateSkipsTakenGeneratedName(t *testing.T) {
	r := NewRegistry(WithNameGenerator(testutil.NewSequenceNames("x").Generate))
	_, err := r.Create(ir.Definition{Type: "x-1"})
	require.NoError(t, err)

	s, err := r.Create(ir.Definition{})
	require.NoError(t, err)
	assert.Equal(t, "x-2", s.Type())
}

func TestCreateRedefinitionFails(t *testing.T) {
	r := newRegistry()
	_, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)

	_, err = r.Create(ir.Definition{Type: "projects"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRedefined)
}

func TestCreateReplacesShadow(t *testing.T) {
	r := newRegistry()
	shadow, err := r.Shadow("projects")
	require.NoError(t, err)
	assert.True(t, shadow.IsShadow())

	_, err = shadow.Update(&ir.Descriptor{ID: "1"}, map[string]any{"id": 1}, ir.StatusSuccess)
	require.NoError(t, err)

	s, err := r.Create(ir.Definition{Type: "projects", ParamID: "projectId"})
	require.NoError(t, err)
	assert.Same(t, shadow, s)
	assert.False(t, s.IsShadow())
	assert.Equal(t, "projectId", s.Definition().ParamID)

	snap, err := s.Fetch(&ir.Descriptor{ID: "1"})
	require.NoError(t, err)
	assert.True(t, snap.HasData(), "cache survives shadow replacement")

	_, err = r.Create(ir.Definition{Type: "projects"})
	assert.ErrorIs(t, err, ErrRedefined, "an explicit definition is final")
}

func TestShadowReturnsExisting(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)

	got, err := r.Shadow("projects")
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.False(t, got.IsShadow())

	_, err = r.Shadow("")
	assert.Error(t, err)
}

func TestRegistryResetClearsCaches(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)
	_, err = s.Update(&ir.Descriptor{ID: "1"}, map[string]any{"id": 1}, ir.StatusSuccess)
	require.NoError(t, err)

	notified := 0
	s.Subscribe("change", func() { notified++ })

	r.Reset()

	snap, err := s.Fetch(&ir.Descriptor{ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, ir.StaleSnapshot(), snap)

	s.NotifyChange(&ir.Descriptor{})
	assert.Equal(t, 1, notified, "subscribers survive reset")

	_, ok := r.Lookup("projects")
	assert.True(t, ok, "reset keeps the stores")
}

func TestDispose(t *testing.T) {
	r := newRegistry()
	_, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)

	assert.True(t, r.Dispose("projects"))
	assert.False(t, r.Dispose("projects"))
	_, ok := r.Lookup("projects")
	assert.False(t, ok)

	_, err = r.Create(ir.Definition{Type: "projects"})
	assert.NoError(t, err, "a disposed type can be defined again")
}

// =============================================================================
// Store
// =============================================================================

func TestStoreOpIsScopeBoundary(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)

	op, ok := s.Op().(ir.DefinitionOp)
	require.True(t, ok)
	assert.Equal(t, ir.KindStore, op.Kind)
	assert.Equal(t, "projects", op.Def.Type)
	assert.Same(t, s, op.Store)
}

func TestNotifyChange(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)

	var events []string
	s.Subscribe("change", func() { events = append(events, "change") })
	s.Subscribe("change:42", func() { events = append(events, "change:42") })

	s.NotifyChange(&ir.Descriptor{})
	assert.Equal(t, []string{"change"}, events)

	events = nil
	s.NotifyChange(&ir.Descriptor{ID: "42", Event: "change:42"})
	assert.Equal(t, []string{"change", "change:42"}, events)

	events = nil
	s.NotifyChange(&ir.Descriptor{ID: "42"})
	assert.Equal(t, []string{"change", "change:42"}, events, "event derived from id when absent")
}

func TestStoreCacheDelegation(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)

	d := &ir.Descriptor{Path: "/projects"}
	s.Touch(d, ir.TouchLoading(ir.StatusStale))
	_, err = s.Update(d, []any{map[string]any{"id": 1}}, ir.StatusSuccess)
	require.NoError(t, err)

	snap, err := s.Fetch(d)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": 1}}, snap.Data)
	assert.Equal(t, fragment.Stats{Fragments: 1, Entities: 1, Queries: 1}, s.Stats())

	st := s.Export()
	s.Delete(&ir.Descriptor{ID: "1"})
	require.NoError(t, s.Import(st))

	snap, err = s.Fetch(&ir.Descriptor{ID: "1"})
	require.NoError(t, err)
	assert.True(t, snap.HasData())
}
