package harness

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/ingest"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/prefetch"
)

// Scenario is one cache scenario: definitions, seeded data, scripted
// backend replies, a flow of dataset invocations and the assertions over
// the result.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Definitions lists catalog files (.cue, .yaml, .json). Relative paths
	// are resolved against the scenario file's directory.
	Definitions []string `yaml:"definitions"`

	// Host prefixes every resolved path.
	Host string `yaml:"host,omitempty"`

	// Handler selects the import strategy, nested or unnested.
	Handler string `yaml:"handler,omitempty"`

	// Prefetch seeds the cache before the flow runs.
	Prefetch *prefetch.Document `yaml:"prefetch,omitempty"`

	// Replies scripts the mock backend. Replies for the same route are
	// used in order and the last one repeats.
	Replies []Reply `yaml:"replies,omitempty"`

	// Flow is the list of invocations to run.
	Flow []FlowStep `yaml:"flow"`

	// Assertions check the trace and the final cache.
	Assertions []Assertion `yaml:"assertions"`
}

// Reply is one scripted backend response.
type Reply struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Status int    `yaml:"status,omitempty"`
	Data   any    `yaml:"data,omitempty"`

	// Error makes the transport fail without a response.
	Error string `yaml:"error,omitempty"`
}

// FlowStep invokes one action on a named dataset. Without an action the
// step only resolves the dataset's descriptor.
type FlowStep struct {
	Dataset string         `yaml:"dataset"`
	Action  string         `yaml:"action,omitempty"`
	Params  map[string]any `yaml:"params,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`

	// Expect checks the step's outcome. If nil the step must not fail.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks one flow step. Only the fields given are checked.
type ExpectClause struct {
	// Error is a substring of the expected error. When set the step must
	// fail.
	Error string `yaml:"error,omitempty"`

	Resolver string `yaml:"resolver,omitempty"`
	Path     string `yaml:"path,omitempty"`
	ID       string `yaml:"id,omitempty"`

	// Status and Data check the cache read a fetch returned before its
	// request settled.
	Status string `yaml:"status,omitempty"`
	Data   any    `yaml:"data,omitempty"`

	// Result is matched as a subset against the settled response data.
	Result any `yaml:"result,omitempty"`
}

// Assertion checks the trace or the final cache.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count,
	// final_state or expr.
	Type string `yaml:"type"`

	// Call is "METHOD path" (trace_contains, trace_count).
	Call string `yaml:"call,omitempty"`

	// Body is matched as a subset against the request body
	// (trace_contains).
	Body map[string]any `yaml:"body,omitempty"`

	// Calls is the expected order (trace_order).
	Calls []string `yaml:"calls,omitempty"`

	// Count is the expected number of requests (trace_count).
	Count int `yaml:"count,omitempty"`

	// Dataset and Params address the cache read (final_state).
	Dataset string         `yaml:"dataset,omitempty"`
	Params  map[string]any `yaml:"params,omitempty"`

	// Expect holds status, data and stale, matched as a subset
	// (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Expr is an expr-lang expression that must evaluate to true (expr).
	Expr string `yaml:"expr,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertExpr          = "expr"
)

// LoadScenario reads and validates a scenario file. Definition paths are
// resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and validates a scenario file, resolving
// relative definition paths against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, def := range scenario.Definitions {
		if !filepath.IsAbs(def) && basePath != "" {
			scenario.Definitions[i] = filepath.Join(basePath, def)
		}
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes a scenario document. Unknown fields are errors.
// Definition paths are not checked.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every definition file
// exists.
func validateScenario(s *Scenario) error {
	if err := validateShape(s); err != nil {
		return err
	}
	for _, def := range s.Definitions {
		if _, err := os.Stat(def); os.IsNotExist(err) {
			return fmt.Errorf("definition file not found: %s", def)
		}
	}
	return nil
}

func validateShape(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Definitions) == 0 {
		return fmt.Errorf("definitions list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := ingest.ParseStrategy(s.Handler); err != nil {
		return fmt.Errorf("handler: %w", err)
	}

	for i, r := range s.Replies {
		if r.Method == "" || r.Path == "" {
			return fmt.Errorf("replies[%d]: method and path are required", i)
		}
		if r.Method != strings.ToUpper(r.Method) {
			return fmt.Errorf("replies[%d]: method must be upper case, got %q", i, r.Method)
		}
		if r.Status != 0 && (r.Status < 100 || r.Status > 599) {
			return fmt.Errorf("replies[%d]: invalid status %d", i, r.Status)
		}
		if r.Error != "" && (r.Status != 0 || r.Data != nil) {
			return fmt.Errorf("replies[%d]: error excludes status and data", i)
		}
	}

	for i, step := range s.Flow {
		if step.Dataset == "" {
			return fmt.Errorf("flow[%d]: dataset is required", i)
		}
		if step.Expect != nil && step.Expect.Status != "" && !ir.Status(step.Expect.Status).Valid() {
			return fmt.Errorf("flow[%d].expect: unknown status %q", i, step.Expect.Status)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if err := validateCall(a.Call); err != nil {
			return fmt.Errorf("assertions[%d]: trace_contains: %w", index, err)
		}
	case AssertTraceOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for trace_order", index)
		}
		for _, c := range a.Calls {
			if err := validateCall(c); err != nil {
				return fmt.Errorf("assertions[%d]: trace_order: %w", index, err)
			}
		}
	case AssertTraceCount:
		if err := validateCall(a.Call); err != nil {
			return fmt.Errorf("assertions[%d]: trace_count: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Dataset == "" {
			return fmt.Errorf("assertions[%d]: dataset is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		for key := range a.Expect {
			switch key {
			case "status", "data", "stale":
			default:
				return fmt.Errorf("assertions[%d]: final_state expect: unknown key %q", index, key)
			}
		}
	case AssertExpr:
		if strings.TrimSpace(a.Expr) == "" {
			return fmt.Errorf("assertions[%d]: expr is required for expr", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// validateCall checks the "METHOD path" form.
func validateCall(call string) error {
	method, path, ok := strings.Cut(call, " ")
	if !ok || path == "" {
		return fmt.Errorf("call %q must be \"METHOD path\"", call)
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return nil
	}
	return fmt.Errorf("call %q: unknown method %q", call, method)
}
