// Package harness runs cache scenarios against a scripted transport.
//
// A scenario loads store and dataset definitions, optionally seeds the
// cache with prefetched data, scripts the replies of a mock backend, then
// invokes dataset actions in order and checks what happened.
//
// # Scenario Format
//
//	name: fetch_then_invalidate
//	description: "A cached project is served until it is invalidated"
//	definitions:
//	  - defs/projects.cue
//	host: /api
//	handler: nested
//	prefetch:
//	  entries:
//	    - type: users
//	      data: [{id: u1, name: ann}]
//	replies:
//	  - method: GET
//	    path: /api/projects/1
//	    data: {id: 1, name: alpha}
//	flow:
//	  - dataset: project
//	    action: load
//	    params: {projectId: 1}
//	    expect:
//	      resolver: fetch
//	      status: stale
//	      result: {name: alpha}
//	assertions:
//	  - type: trace_count
//	    call: GET /api/projects/1
//	    count: 1
//	  - type: final_state
//	    dataset: project
//	    params: {projectId: 1}
//	    expect: {status: success, data: {name: alpha}}
//	  - type: expr
//	    expr: 'len(calls) == 1 && snapshot("project", {projectId: 1}).status == "success"'
//
// A flow step without an action only resolves the dataset's descriptor.
// Every step waits for the transport call it issued, so traces are
// reproducible.
//
// # Assertion Types
//
//   - trace_contains: a request with the given call and body subset was made
//   - trace_order: the given calls were first made in this order
//   - trace_count: the given call was made exactly count times
//   - final_state: the cache read for a dataset matches expect (subset)
//   - expr: an expr-lang boolean over calls, requests and snapshot()
//
// # Determinism
//
// Cache timestamps come from testutil.DeterministicClock and anonymous
// stores from testutil.SequenceNames, so a scenario's trace is byte-stable
// and can be compared against a golden file with RunWithGolden.
package harness
