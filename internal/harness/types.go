package harness

// Trace event types.
const (
	EventInvoke   = "invoke"
	EventRequest  = "request"
	EventComplete = "complete"
)

// TraceEvent is one entry of a scenario trace. Invoke events carry the
// dataset, action and params of a flow step; request events carry one
// transport call; complete events carry what the step produced.
type TraceEvent struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq"`
	Dataset  string `json:"dataset,omitempty"`
	Action   string `json:"action,omitempty"`
	Args     any    `json:"args,omitempty"`
	Method   string `json:"method,omitempty"`
	Path     string `json:"path,omitempty"`
	Resolver string `json:"resolver,omitempty"`
	ID       string `json:"id,omitempty"`
	Status   string `json:"status,omitempty"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Call returns the "METHOD path" form used by trace assertions. It is
// empty for events that are not requests.
func (e TraceEvent) Call() string {
	if e.Type != EventRequest {
		return ""
	}
	return e.Method + " " + e.Path
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists invocations, requests and completions in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Calls returns the "METHOD path" of every request in the trace.
func (r *Result) Calls() []string {
	var calls []string
	for _, e := range r.Trace {
		if c := e.Call(); c != "" {
			calls = append(calls, c)
		}
	}
	return calls
}
