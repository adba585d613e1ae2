// Package mock provides a scripted in-memory transport for tests and
// scenario runs.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/transport"
)

// Reply is one scripted response. A Status of 400 or more is returned as a
// *transport.HTTPError; Err, when set, is returned as is.
type Reply struct {
	Status int
	Data   any
	Err    error
}

// Call records one request seen by the mock.
type Call struct {
	Method string
	Path   string
	Body   any
}

// Transport replays scripted replies keyed by method and path. Replies for
// one route are consumed in order; the last one repeats.
type Transport struct {
	mu      sync.Mutex
	routes  map[string][]Reply
	calls   []Call
	gate    chan struct{}
	started chan Call
}

var _ ir.Transport = (*Transport)(nil)

// New creates an empty mock.
func New() *Transport {
	return &Transport{routes: make(map[string][]Reply)}
}

func routeKey(method, path string) string {
	return method + " " + path
}

// On scripts replies for method and path.
func (t *Transport) On(method, path string, replies ...Reply) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := routeKey(method, path)
	t.routes[key] = append(t.routes[key], replies...)
	return t
}

// Hold makes every subsequent Do block until the returned release
// function is called. Started requests are reported on the returned
// channel, which is buffered for 64 calls.
func (t *Transport) Hold() (started <-chan Call, release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gate := make(chan struct{})
	t.gate = gate
	t.started = make(chan Call, 64)
	var once sync.Once
	return t.started, func() {
		once.Do(func() {
			t.mu.Lock()
			if t.gate == gate {
				t.gate = nil
			}
			t.mu.Unlock()
			close(gate)
		})
	}
}

// Do records the call and returns the next scripted reply. Unscripted
// routes answer 404.
func (t *Transport) Do(ctx context.Context, method, path string, body any) (*ir.Response, error) {
	call := Call{Method: method, Path: path, Body: body}

	t.mu.Lock()
	t.calls = append(t.calls, call)
	gate, started := t.gate, t.started
	reply, ok := t.next(routeKey(method, path))
	t.mu.Unlock()

	if gate != nil {
		select {
		case started <- call:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return nil, &transport.HTTPError{
			StatusCode: http.StatusNotFound,
			Body:       []byte(fmt.Sprintf("no reply scripted for %s %s", method, path)),
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status >= 400 {
		return nil, &transport.HTTPError{StatusCode: status, JSON: reply.Data}
	}
	return &ir.Response{StatusCode: status, Data: reply.Data}, nil
}

func (t *Transport) next(key string) (Reply, bool) {
	replies := t.routes[key]
	if len(replies) == 0 {
		return Reply{}, false
	}
	r := replies[0]
	if len(replies) > 1 {
		t.routes[key] = replies[1:]
	}
	return r, true
}

// Calls returns a copy of the recorded calls in arrival order.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallCount returns how many times method and path were requested.
func (t *Transport) CallCount(method, path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}
