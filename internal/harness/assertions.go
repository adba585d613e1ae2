package harness

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"

	exprlang "github.com/expr-lang/expr"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nRequests:\n")
		n := 0
		for _, event := range e.Trace {
			if c := event.Call(); c != "" {
				n++
				fmt.Fprintf(&buf, "  [%d] %s %s\n", n, c, describe(event.Args))
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks that a request with the assertion's call was
// made, with a body containing the assertion's body.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Call() != a.Call {
			continue
		}
		if len(a.Body) == 0 || subsetMatch(a.Body, event.Args) {
			return nil
		}
	}

	expected := a.Call
	if len(a.Body) > 0 {
		expected += " with body " + describe(a.Body)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the assertion's
// calls appear in the given order. Other requests may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	n := 0
	for _, event := range trace {
		c := event.Call()
		if c == "" {
			continue
		}
		n++
		if positions[c] == 0 {
			positions[c] = n
		}
	}

	for _, c := range a.Calls {
		if positions[c] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all calls present: %v", a.Calls),
				Actual:   fmt.Sprintf("missing call: %s", c),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Calls); i++ {
		prev, curr := a.Calls[i-1], a.Calls[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("calls in order: %v", a.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the call was made exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Call() == a.Call {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Call),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads the dataset's slot from the cache and compares
// the expected keys.
func assertFinalState(tree *dataset.Tree, a Assertion) error {
	actual, err := readSnapshot(tree, a.Dataset, a.Params)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("cache read of %s %s", a.Dataset, describe(a.Params)),
			Actual:   err.Error(),
		}
	}

	for _, key := range sortedKeys(a.Expect) {
		if !subsetMatch(a.Expect[key], actual[key]) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s %s: %s = %s", a.Dataset, describe(a.Params), key, describe(a.Expect[key])),
				Actual:   fmt.Sprintf("%s = %s", key, describe(actual[key])),
			}
		}
	}
	return nil
}

// assertExpr evaluates an expr-lang expression. The environment holds
//
//	calls     []string, "METHOD path" of every request in order
//	requests  list of {method, path, body}
//	count(call)              number of requests for call
//	snapshot(dataset, params) cache read as {status, data, timestamp, stale}
func assertExpr(trace []TraceEvent, tree *dataset.Tree, a Assertion) error {
	calls := []string{}
	requests := []any{}
	for _, event := range trace {
		if c := event.Call(); c != "" {
			calls = append(calls, c)
			requests = append(requests, map[string]any{
				"method": event.Method,
				"path":   event.Path,
				"body":   event.Args,
			})
		}
	}

	env := map[string]any{
		"calls":    calls,
		"requests": requests,
	}
	program, err := exprlang.Compile(a.Expr,
		exprlang.Env(env),
		exprlang.AllowUndefinedVariables(),
		exprlang.Function("count", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("count expects 1 argument, got %d", len(params))
			}
			call, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("count: call must be a string, got %T", params[0])
			}
			n := 0
			for _, c := range calls {
				if c == call {
					n++
				}
			}
			return n, nil
		}),
		exprlang.Function("snapshot", func(params ...any) (any, error) {
			if len(params) < 1 || len(params) > 2 {
				return nil, fmt.Errorf("snapshot expects 1 or 2 arguments, got %d", len(params))
			}
			name, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("snapshot: dataset must be a string, got %T", params[0])
			}
			var args map[string]any
			if len(params) == 2 {
				if args, ok = params[1].(map[string]any); !ok {
					return nil, fmt.Errorf("snapshot: params must be a map, got %T", params[1])
				}
			}
			return readSnapshot(tree, name, args)
		}),
	)
	if err != nil {
		return fmt.Errorf("compile expr %q: %w", a.Expr, err)
	}

	out, err := exprlang.Run(program, env)
	if err != nil {
		return &AssertionError{Type: AssertExpr, Expected: a.Expr, Actual: err.Error(), Trace: trace}
	}
	ok, isBool := out.(bool)
	if !isBool {
		return &AssertionError{
			Type:     AssertExpr,
			Expected: a.Expr + " to be a boolean",
			Actual:   fmt.Sprintf("%T %v", out, out),
			Trace:    trace,
		}
	}
	if !ok {
		return &AssertionError{Type: AssertExpr, Expected: a.Expr, Actual: "false", Trace: trace}
	}
	return nil
}

// readSnapshot reads the slot a dataset addresses with params.
func readSnapshot(tree *dataset.Tree, name string, params map[string]any) (map[string]any, error) {
	if tree == nil {
		return nil, fmt.Errorf("no dataset tree")
	}
	node, ok := tree.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", name)
	}
	d, err := node.Descriptor(params)
	if err != nil {
		return nil, err
	}
	s, ok := d.Store.(*store.Store)
	if !ok {
		return nil, fmt.Errorf("dataset %q has no store", name)
	}
	snap, err := s.Fetch(d)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":    string(snap.Status),
		"data":      snap.Data,
		"timestamp": snap.Timestamp,
		"stale":     snap.Timestamp == ir.TimestampStale,
	}, nil
}

// subsetMatch reports whether actual contains expected. Mappings match
// when every expected key matches; lists match element-wise and must have
// the same length; scalars are compared by their canonical JSON so that
// 1, int64(1) and json.Number("1") are equal.
func subsetMatch(expected, actual any) bool {
	switch exp := expected.(type) {
	case nil:
		return actual == nil
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, exists := act[k]
			if !exists || !subsetMatch(v, av) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !subsetMatch(exp[i], act[i]) {
				return false
			}
		}
		return true
	}

	want, err1 := ir.MarshalCanonical(expected)
	got, err2 := ir.MarshalCanonical(actual)
	if err1 != nil || err2 != nil {
		return reflect.DeepEqual(expected, actual)
	}
	return bytes.Equal(want, got)
}

// describe renders v as canonical JSON for messages.
func describe(v any) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// AssertionContext provides what final_state and expr assertions read.
type AssertionContext struct {
	Ctx  context.Context
	Tree *dataset.Tree
}

// EvaluateAssertions evaluates all assertions against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	var tree *dataset.Tree
	if actx != nil {
		tree = actx.Tree
	}

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			if tree == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a dataset tree", i)
			} else {
				err = assertFinalState(tree, a)
			}
		case AssertExpr:
			err = assertExpr(result.Trace, tree, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
