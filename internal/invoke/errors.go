package invoke

import "errors"

var (
	// ErrUnknownResolver is returned when a resolve marker names no
	// registered resolver.
	ErrUnknownResolver = errors.New("unknown resolver")

	// ErrNoStore is returned when a descriptor's store cannot be found.
	ErrNoStore = errors.New("no store for descriptor")

	// ErrNoTransport is returned by network resolvers when the invoker
	// has no transport.
	ErrNoTransport = errors.New("no transport configured")
)
