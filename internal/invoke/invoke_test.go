package invoke

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/chain"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/reduce"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/transport/mock"
)

type fixture struct {
	registry  *store.Registry
	projects  *store.Store
	transport *mock.Transport
	invoker   *Invoker
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	r := store.NewRegistry()
	s, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)

	m := mock.New()
	opts = append([]Option{WithTransport(m)}, opts...)
	return &fixture{registry: r, projects: s, transport: m, invoker: New(r, opts...)}
}

// projectStack resolves to /projects/42 with id 42.
func (f *fixture) projectStack(extra ...ir.Op) []ir.Op {
	stack := []ir.Op{
		f.projects.Op(),
		ir.DatasetOp(&ir.Definition{URI: "/projects"}),
		ir.DatasetOp(&ir.Definition{URI: "/:projectId", ParamID: "projectId"}),
		ir.Params{"projectId": "42"},
	}
	return append(stack, extra...)
}

func (f *fixture) collectionStack(extra ...ir.Op) []ir.Op {
	stack := []ir.Op{
		f.projects.Op(),
		ir.DatasetOp(&ir.Definition{URI: "/projects"}),
	}
	return append(stack, extra...)
}

func (f *fixture) fetch(t *testing.T, d *ir.Descriptor) ir.Snapshot {
	t.Helper()
	snap, err := f.projects.Fetch(d)
	require.NoError(t, err)
	return snap
}

func counter(s *store.Store, event string) *atomic.Int32 {
	var n atomic.Int32
	s.Subscribe(event, func() { n.Add(1) })
	return &n
}

func wait(t *testing.T, res *Result) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return res.Wait(ctx)
}

// =============================================================================
// Dispatch
// =============================================================================

func TestInvokeWithoutMarkerReturnsDescriptor(t *testing.T) {
	f := newFixture(t)

	res, err := f.invoker.Invoke(context.Background(), f.projectStack())
	require.NoError(t, err)
	assert.Empty(t, res.Resolver)
	assert.Nil(t, res.Future)
	assert.Equal(t, "/projects/42", res.Descriptor.Path)
	assert.Equal(t, "42", res.Descriptor.ID)
	assert.Equal(t, "change:42", res.Descriptor.Event)
	assert.Empty(t, f.transport.Calls())
}

func TestInvokeWithoutStoreReturnsDescriptor(t *testing.T) {
	f := newFixture(t)

	res, err := f.invoker.Invoke(context.Background(), []ir.Op{
		ir.DatasetOp(&ir.Definition{URI: "/health"}),
		ir.Resolve(ir.ResolverGet),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Resolver)
	assert.Equal(t, "/health", res.Descriptor.Path)
	assert.Empty(t, f.transport.Calls())
}

func TestInvokeLastMarkerWins(t *testing.T) {
	resolver, rest := StripResolve([]ir.Op{
		ir.Resolve("get"),
		ir.Literal{Value: 1},
		ir.Resolve("invalidate"),
	})
	assert.Equal(t, "invalidate", resolver)
	assert.Equal(t, []ir.Op{ir.Literal{Value: 1}}, rest)
}

func TestInvokeUnknownResolver(t *testing.T) {
	f := newFixture(t)
	_, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve("frobnicate")))
	assert.ErrorIs(t, err, ErrUnknownResolver)
	assert.Contains(t, err.Error(), "frobnicate")
}

type foreignStore string

func (s foreignStore) Type() string { return string(s) }

func TestInvokeNoStore(t *testing.T) {
	f := newFixture(t)
	_, err := f.invoker.Invoke(context.Background(), []ir.Op{
		ir.StoreOp(&ir.Definition{Type: "ghosts"}, foreignStore("ghosts")),
		ir.Resolve(ir.ResolverGet),
	})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestInvokeReductionError(t *testing.T) {
	f := newFixture(t)
	_, err := f.invoker.Invoke(context.Background(), []ir.Op{
		f.projects.Op(),
		ir.DatasetOp(&ir.Definition{URI: "/projects/:projectId"}),
		ir.Resolve(ir.ResolverGet),
	})
	assert.True(t, reduce.IsMissingParam(err))
	assert.Empty(t, f.transport.Calls(), "no request on a failed reduction")
}

func TestInvokeHostPrefix(t *testing.T) {
	f := newFixture(t, WithReduceOptions(reduce.WithHost("/api")))
	f.transport.On(http.MethodGet, "/api/projects/42", mock.Reply{Data: map[string]any{"id": 42}})

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverGet)))
	require.NoError(t, err)
	_, err = wait(t, res)
	require.NoError(t, err)
}

func TestCustomResolver(t *testing.T) {
	var seen *ir.Descriptor
	f := newFixture(t, WithResolver("peek", func(_ context.Context, s *store.Store, d *ir.Descriptor) (*Result, error) {
		seen = d
		return &Result{}, nil
	}))

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve("peek")))
	require.NoError(t, err)
	assert.Equal(t, "peek", res.Resolver)
	require.NotNil(t, seen)
	assert.Equal(t, "42", seen.ID)
}

// =============================================================================
// get
// =============================================================================

func TestGetSuccess(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Data: map[string]any{"id": 42, "name": "alpha"}})
	changes := counter(f.projects, "change")
	idChanges := counter(f.projects, "change:42")

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverGet)))
	require.NoError(t, err)
	require.NotNil(t, res.Future)

	data, err := wait(t, res)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 42, "name": "alpha"}, data)

	snap := f.fetch(t, &ir.Descriptor{ID: "42"})
	assert.Equal(t, ir.StatusSuccess, snap.Status)
	assert.Positive(t, snap.Timestamp)
	assert.Equal(t, map[string]any{"id": 42, "name": "alpha"}, snap.Data)

	assert.Equal(t, int32(2), changes.Load(), "loading and settled")
	assert.Equal(t, int32(2), idChanges.Load())
}

func TestGetLoadingState(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Data: map[string]any{"id": 42}})
	started, release := f.transport.Hold()

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverGet)))
	require.NoError(t, err)
	<-started

	snap := f.fetch(t, &ir.Descriptor{ID: "42"})
	assert.Equal(t, ir.StatusStale, snap.Status)
	assert.Equal(t, ir.TimestampLoading, snap.Timestamp)

	release()
	_, err = wait(t, res)
	require.NoError(t, err)
}

func TestGetFailureTouchesTimestampOnly(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Status: http.StatusInternalServerError})
	changes := counter(f.projects, "change")

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverGet)))
	require.NoError(t, err)

	_, err = wait(t, res)
	require.Error(t, err, "the error reaches the caller")

	snap := f.fetch(t, &ir.Descriptor{ID: "42"})
	assert.Equal(t, ir.StatusStale, snap.Status, "status is left as it was")
	assert.Positive(t, snap.Timestamp)
	assert.False(t, snap.HasData())
	assert.Equal(t, int32(2), changes.Load())
	assert.Equal(t, 1, f.transport.CallCount(http.MethodGet, "/projects/42"), "no retry")
}

func TestGetFailureKeepsCachedData(t *testing.T) {
	f := newFixture(t)
	_, err := f.projects.Update(&ir.Descriptor{ID: "42"}, map[string]any{"id": 42}, ir.StatusSuccess)
	require.NoError(t, err)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Err: errors.New("offline")})

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverGet)))
	require.NoError(t, err)
	_, err = wait(t, res)
	require.Error(t, err)

	snap := f.fetch(t, &ir.Descriptor{ID: "42"})
	assert.Equal(t, map[string]any{"id": 42}, snap.Data)
	assert.Equal(t, ir.StatusStale, snap.Status, "loading touch set the status")
}

func TestGetCollection(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodGet, "/projects", mock.Reply{Data: []any{
		map[string]any{"id": 1},
		map[string]any{"id": 2},
	}})

	res, err := f.invoker.Invoke(context.Background(), f.collectionStack(ir.Resolve(ir.ResolverGet)))
	require.NoError(t, err)
	_, err = wait(t, res)
	require.NoError(t, err)

	snap := f.fetch(t, &ir.Descriptor{Path: "/projects"})
	assert.Equal(t, []any{map[string]any{"id": 1}, map[string]any{"id": 2}}, snap.Data)
}

func TestCancelledCallerStillUpdatesCache(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Data: map[string]any{"id": 42}})
	started, release := f.transport.Hold()

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.invoker.Invoke(ctx, f.projectStack(ir.Resolve(ir.ResolverGet)))
	require.NoError(t, err)
	<-started

	cancel()
	_, err = res.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	release()
	f.invoker.Wait()

	snap := f.fetch(t, &ir.Descriptor{ID: "42"})
	assert.Equal(t, ir.StatusSuccess, snap.Status)
}

func TestNoTransport(t *testing.T) {
	r := store.NewRegistry()
	s, err := r.Create(ir.Definition{Type: "projects"})
	require.NoError(t, err)
	inv := New(r)

	_, err = inv.Invoke(context.Background(), []ir.Op{s.Op(), ir.Params{"id": 1}, ir.Resolve(ir.ResolverGet)})
	assert.ErrorIs(t, err, ErrNoTransport)

	res, err := inv.Invoke(context.Background(), []ir.Op{s.Op(), ir.Params{"id": 1}, ir.Resolve(ir.ResolverFetch)})
	require.NoError(t, err)
	assert.Nil(t, res.Future)
	assert.Equal(t, ir.StaleSnapshot(), res.Snapshot)
}

// =============================================================================
// create / update / delete
// =============================================================================

func TestCreateWritesResponse(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodPost, "/projects", mock.Reply{Status: http.StatusCreated, Data: map[string]any{"id": 43, "name": "new"}})
	created := counter(f.projects, "change:43")

	res, err := f.invoker.Invoke(context.Background(), f.collectionStack(
		ir.Payload{"name": "new"},
		ir.Resolve(ir.ResolverCreate),
	))
	require.NoError(t, err)
	_, err = wait(t, res)
	require.NoError(t, err)

	calls := f.transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"name": "new"}, calls[0].Body)

	snap := f.fetch(t, &ir.Descriptor{ID: "43"})
	assert.Equal(t, ir.StatusSuccess, snap.Status)
	assert.Equal(t, int32(1), created.Load())
}

func TestUpdateWithEmptyResponseMarksSuccess(t *testing.T) {
	f := newFixture(t)
	_, err := f.projects.Update(&ir.Descriptor{ID: "42"}, map[string]any{"id": 42, "name": "old"}, ir.StatusSuccess)
	require.NoError(t, err)
	f.transport.On(http.MethodPut, "/projects/42", mock.Reply{Status: http.StatusNoContent})

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(
		ir.Payload{"name": "new"},
		ir.Resolve(ir.ResolverUpdate),
	))
	require.NoError(t, err)
	_, err = wait(t, res)
	require.NoError(t, err)

	snap := f.fetch(t, &ir.Descriptor{ID: "42"})
	assert.Equal(t, ir.StatusSuccess, snap.Status)
	assert.Equal(t, map[string]any{"id": 42, "name": "old"}, snap.Data)
	assert.Equal(t, ir.MethodPut, f.transport.Calls()[0].Method)
}

func TestDeleteTombstonesAndFansOut(t *testing.T) {
	f := newFixture(t)
	_, err := f.projects.Update(&ir.Descriptor{Path: "/projects"}, []any{
		map[string]any{"id": 42},
		map[string]any{"id": 7},
	}, ir.StatusSuccess)
	require.NoError(t, err)
	f.transport.On(http.MethodDelete, "/projects/42", mock.Reply{Status: http.StatusNoContent})

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverDelete)))
	require.NoError(t, err)
	_, err = wait(t, res)
	require.NoError(t, err)

	assert.False(t, f.fetch(t, &ir.Descriptor{ID: "42"}).HasData())
	assert.Equal(t, []any{map[string]any{"id": 7}}, f.fetch(t, &ir.Descriptor{Path: "/projects"}).Data)
}

func TestDeleteFailureKeepsEntity(t *testing.T) {
	f := newFixture(t)
	_, err := f.projects.Update(&ir.Descriptor{ID: "42"}, map[string]any{"id": 42}, ir.StatusSuccess)
	require.NoError(t, err)
	f.transport.On(http.MethodDelete, "/projects/42", mock.Reply{Status: http.StatusForbidden})

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverDelete)))
	require.NoError(t, err)
	_, err = wait(t, res)
	require.Error(t, err)

	assert.True(t, f.fetch(t, &ir.Descriptor{ID: "42"}).HasData())
}

// =============================================================================
// fetch / invalidate
// =============================================================================

func TestFetchReadThrough(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Data: map[string]any{"id": 42}})

	changes := counter(f.projects, "change:42")
	started, release := f.transport.Hold()

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverFetch)))
	require.NoError(t, err)
	require.NotNil(t, res.Future)
	<-started
	assert.Equal(t, ir.Snapshot{Status: ir.StatusStale, Timestamp: ir.TimestampLoading}, res.Snapshot,
		"snapshot is read after the loading touch")
	assert.Zero(t, changes.Load(), "the loading touch does not notify")

	release()
	_, err = wait(t, res)
	require.NoError(t, err)

	res, err = f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverFetch)))
	require.NoError(t, err)
	assert.Nil(t, res.Future, "fresh data is served from cache")
	assert.Equal(t, map[string]any{"id": 42}, res.Snapshot.Data)
	assert.Equal(t, 1, f.transport.CallCount(http.MethodGet, "/projects/42"))
}

func TestFetchFromChangeSubscriberDoesNotRecurse(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Data: map[string]any{"id": 42, "name": "alpha"}})
	started, release := f.transport.Hold()

	var reads atomic.Int32
	var last atomic.Value
	f.projects.Subscribe("change:42", func() {
		if reads.Add(1) > 5 {
			return
		}
		res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverFetch)))
		if err == nil {
			last.Store(res)
		}
	})

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverFetch)))
	require.NoError(t, err)
	<-started
	assert.Zero(t, reads.Load(), "no subscriber runs before the response")

	release()
	_, err = wait(t, res)
	require.NoError(t, err)
	f.invoker.Wait()

	assert.Equal(t, int32(1), reads.Load(), "one re-read after the response lands")
	reread, ok := last.Load().(*Result)
	require.True(t, ok)
	assert.Nil(t, reread.Future, "the re-read is served from cache")
	assert.Equal(t, map[string]any{"id": 42, "name": "alpha"}, reread.Snapshot.Data)
	assert.Equal(t, 1, f.transport.CallCount(http.MethodGet, "/projects/42"))
}

func TestInvalidateForcesRefetch(t *testing.T) {
	f := newFixture(t)
	_, err := f.projects.Update(&ir.Descriptor{ID: "42"}, map[string]any{"id": 42}, ir.StatusSuccess)
	require.NoError(t, err)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Data: map[string]any{"id": 42, "v": 2}})
	changes := counter(f.projects, "change:42")

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverInvalidate)))
	require.NoError(t, err)
	assert.Nil(t, res.Future)
	assert.Empty(t, f.transport.Calls())
	assert.Equal(t, int32(1), changes.Load())

	snap := f.fetch(t, &ir.Descriptor{ID: "42"})
	assert.Equal(t, ir.StatusStale, snap.Status)
	assert.Equal(t, ir.TimestampStale, snap.Timestamp)
	assert.True(t, snap.HasData(), "data is kept")

	res, err = f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverFetch)))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 42}, res.Snapshot.Data)
	require.NotNil(t, res.Future, "never-requested data triggers a get")
	_, err = wait(t, res)
	require.NoError(t, err)
}

func TestLoadingNotifyDisabled(t *testing.T) {
	f := newFixture(t, WithLoadingNotify(false))
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Data: map[string]any{"id": 42}})
	changes := counter(f.projects, "change")

	res, err := f.invoker.Invoke(context.Background(), f.projectStack(ir.Resolve(ir.ResolverGet)))
	require.NoError(t, err)
	_, err = wait(t, res)
	require.NoError(t, err)
	assert.Equal(t, int32(1), changes.Load())
}

// =============================================================================
// Chain integration
// =============================================================================

func TestChainInvoker(t *testing.T) {
	f := newFixture(t)
	f.transport.On(http.MethodGet, "/projects/42", mock.Reply{Data: map[string]any{"id": 42}})

	a := chain.NewArena()
	root := a.AddDynamic(func() []ir.Op { return []ir.Op{f.projects.Op()} }, chain.WithInvoker(f.invoker.ChainInvoker()))
	list := a.Add([]ir.Op{ir.DatasetOp(&ir.Definition{URI: "/projects"})}, chain.WithParent(root))
	item := a.Add([]ir.Op{ir.DatasetOp(&ir.Definition{URI: "/:projectId", ParamID: "projectId"})}, chain.WithParent(list))

	out, err := a.Resolve(context.Background(), item, ir.Params{"projectId": 42}, ir.Resolve(ir.ResolverGet))
	require.NoError(t, err)

	res, ok := out.(*Result)
	require.True(t, ok)
	assert.Equal(t, ir.ResolverGet, res.Resolver)
	_, err = wait(t, res)
	require.NoError(t, err)
}
