package ir

import "context"

// HTTP methods issued by the invoker.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

// Response is what a transport hands back for a settled request.
type Response struct {
	StatusCode int
	Data       any
}

// Transport performs one request against the backend. path is fully
// substituted; body is nil for GET and DELETE.
//
// Timeouts and retries are a transport concern. The invoker never retries.
type Transport interface {
	Do(ctx context.Context, method, path string, body any) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, method, path string, body any) (*Response, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	return f(ctx, method, path, body)
}
