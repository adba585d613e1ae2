package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/definition"
	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/ingest"
	"github.com/roach88/strata/internal/invoke"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/prefetch"
	"github.com/roach88/strata/internal/reduce"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/testutil"
	"github.com/roach88/strata/internal/transport/mock"
)

// Clock settings for scenario runs: the first cache write is stamped
// ClockStart+ClockStep.
const (
	ClockStart int64 = 1_700_000_000_000
	ClockStep  int64 = 1000
)

// DefaultStepTimeout bounds how long a flow step waits for its request.
const DefaultStepTimeout = 5 * time.Second

// Harness runs one scenario over a fresh registry and mock backend.
type Harness struct {
	registry  *store.Registry
	tree      *dataset.Tree
	transport *mock.Transport
	clock     *testutil.DeterministicClock
	logger    *slog.Logger
	timeout   time.Duration
	seq       int64
	seen      int // mock calls already copied into the trace
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger handed to every component. Runs are silent
// by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithStepTimeout bounds how long a flow step waits for its request.
func WithStepTimeout(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Run executes scenario with a background context.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext executes scenario and evaluates its assertions.
//
// Execution flow:
//  1. Load definitions into a fresh registry and dataset tree
//  2. Apply the prefetch document, if any
//  3. Run the flow, waiting for each step's request to settle
//  4. Evaluate assertions against the trace and the final cache
//
// The returned error reports a scenario that could not be set up or run;
// failed expectations are recorded in the Result.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(scenario, opts...)
	if err != nil {
		return nil, err
	}

	if scenario.Prefetch != nil {
		loader := prefetch.New(h.registry,
			prefetch.WithImporter(h.importer(scenario)),
			prefetch.WithLogger(h.logger),
		)
		if _, err := loader.Apply(*scenario.Prefetch); err != nil {
			return nil, fmt.Errorf("failed to apply prefetch: %w", err)
		}
	}

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Ctx: ctx, Tree: h.tree}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, opts ...Option) (*Harness, error) {
	if err := validateShape(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	h := &Harness{
		transport: mock.New(),
		clock:     testutil.NewDeterministicClock(ClockStart, ClockStep),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:   DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}

	cat, err := definition.LoadFiles(scenario.Definitions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}

	h.registry = store.NewRegistry(
		store.WithLogger(h.logger),
		store.WithCacheOptions(fragment.WithClock(h.clock.Now)),
		store.WithNameGenerator(testutil.NewSequenceNames("anon").Generate),
	)

	for _, r := range scenario.Replies {
		reply := mock.Reply{Status: r.Status, Data: r.Data}
		if r.Error != "" {
			reply = mock.Reply{Err: errors.New(r.Error)}
		}
		h.transport.On(r.Method, r.Path, reply)
	}

	host := reduce.WithHost(scenario.Host)
	inv := invoke.New(h.registry,
		invoke.WithTransport(h.transport),
		invoke.WithImporter(h.importer(scenario)),
		invoke.WithReduceOptions(host),
		invoke.WithLogger(h.logger),
	)
	h.tree = dataset.New(h.registry,
		dataset.WithInvoker(inv),
		dataset.WithReduceOptions(host),
		dataset.WithLogger(h.logger),
	)
	if err := h.tree.Load(cat); err != nil {
		return nil, fmt.Errorf("failed to build datasets: %w", err)
	}
	return h, nil
}

// importer builds the scenario's response importer. The handler was
// validated by validateShape.
func (h *Harness) importer(scenario *Scenario) *ingest.Importer {
	strategy, _ := ingest.ParseStrategy(scenario.Handler)
	return ingest.New(h.registry, ingest.WithStrategy(strategy), ingest.WithLogger(h.logger))
}

func (h *Harness) next() int64 {
	h.seq++
	return h.seq
}

// executeFlow runs each step and checks its expect clause. Unknown
// datasets abort the run; everything else is recorded in result.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		node, ok := h.tree.Lookup(step.Dataset)
		if !ok {
			return fmt.Errorf("flow[%d]: unknown dataset %q (have %s)", i, step.Dataset, strings.Join(h.tree.Names(), ", "))
		}

		result.Trace = append(result.Trace, TraceEvent{
			Type:    EventInvoke,
			Seq:     h.next(),
			Dataset: step.Dataset,
			Action:  step.Action,
			Args:    step.Params,
		})

		out := h.runStep(ctx, node, step)
		h.recordRequests(result)

		done := TraceEvent{
			Type:     EventComplete,
			Seq:      h.next(),
			Resolver: out.resolver,
			Path:     out.path,
			ID:       out.id,
			Status:   out.status,
			Result:   out.value,
		}
		if out.err != nil {
			done.Error = out.err.Error()
		}
		result.Trace = append(result.Trace, done)

		for _, msg := range checkExpect(step.Expect, out) {
			result.AddError(fmt.Sprintf("flow[%d] %s.%s: %s", i, step.Dataset, step.Action, msg))
		}

		h.logger.Debug("flow step completed",
			"step", i,
			"dataset", step.Dataset,
			"action", step.Action,
			"resolver", out.resolver,
			"path", out.path,
		)
	}
	return nil
}

// stepOutcome is what one flow step produced.
type stepOutcome struct {
	resolver string
	path     string
	id       string
	status   string // status of the cache read, fetch only
	data     any    // data of the cache read, fetch only
	value    any    // settled response data
	err      error
}

func (h *Harness) runStep(ctx context.Context, node *dataset.Node, step FlowStep) stepOutcome {
	if step.Action == "" {
		d, err := node.Descriptor(step.Params)
		if err != nil {
			return stepOutcome{err: err}
		}
		return stepOutcome{path: d.Path, id: d.ID}
	}

	res, err := node.Invoke(ctx, step.Action, step.Params, step.Payload)
	if err != nil {
		return stepOutcome{err: err}
	}

	out := stepOutcome{resolver: res.Resolver}
	if res.Descriptor != nil {
		out.path = res.Descriptor.Path
		out.id = res.Descriptor.ID
	}
	if res.Resolver == ir.ResolverFetch {
		out.status = string(res.Snapshot.Status)
		out.data = res.Snapshot.Data
	}

	wctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	out.value, out.err = res.Wait(wctx)
	return out
}

// recordRequests copies transport calls made since the last step into
// the trace.
func (h *Harness) recordRequests(result *Result) {
	calls := h.transport.Calls()
	for _, c := range calls[h.seen:] {
		result.Trace = append(result.Trace, TraceEvent{
			Type:   EventRequest,
			Seq:    h.next(),
			Method: c.Method,
			Path:   c.Path,
			Args:   c.Body,
		})
	}
	h.seen = len(calls)
}

// checkExpect compares a step's outcome with its expect clause. A step
// without a clause must not fail.
func checkExpect(expect *ExpectClause, out stepOutcome) []string {
	if expect == nil {
		if out.err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", out.err)}
		}
		return nil
	}

	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("expected %s %v, got %v", field, want, got))
	}

	switch {
	case expect.Error != "" && out.err == nil:
		errs = append(errs, fmt.Sprintf("expected error containing %q, got success", expect.Error))
	case expect.Error != "" && !strings.Contains(out.err.Error(), expect.Error):
		errs = append(errs, fmt.Sprintf("expected error containing %q, got %q", expect.Error, out.err.Error()))
	case expect.Error == "" && out.err != nil:
		errs = append(errs, fmt.Sprintf("unexpected error: %v", out.err))
	}

	if expect.Resolver != "" && expect.Resolver != out.resolver {
		mismatch("resolver", expect.Resolver, out.resolver)
	}
	if expect.Path != "" && expect.Path != out.path {
		mismatch("path", expect.Path, out.path)
	}
	if expect.ID != "" && expect.ID != out.id {
		mismatch("id", expect.ID, out.id)
	}
	if expect.Status != "" && expect.Status != out.status {
		mismatch("status", expect.Status, out.status)
	}
	if expect.Data != nil && !subsetMatch(expect.Data, out.data) {
		mismatch("data", describe(expect.Data), describe(out.data))
	}
	if expect.Result != nil && !subsetMatch(expect.Result, out.value) {
		mismatch("result", describe(expect.Result), describe(out.value))
	}
	return errs
}
