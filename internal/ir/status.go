package ir

// Status describes the freshness of a cached entry or resolved snapshot.
type Status string

const (
	// StatusSuccess marks data written from a successful response.
	StatusSuccess Status = "success"

	// StatusError marks an entry whose last write came from a failure.
	StatusError Status = "error"

	// StatusPartial marks data composed from fallback fragments.
	StatusPartial Status = "partial"

	// StatusStale marks an entry with no usable data.
	StatusStale Status = "stale"
)

// Timestamp sentinels. Any other value is a wall-clock write time in
// milliseconds since the Unix epoch.
const (
	// TimestampStale means the slot was never requested.
	TimestampStale int64 = -1

	// TimestampLoading means a request for the slot is in flight.
	TimestampLoading int64 = 0
)

// DefaultFragment is the fragment holding complete representations. It is
// always checked last when composing partial data.
const DefaultFragment = "full"

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusPartial, StatusStale:
		return true
	default:
		return false
	}
}
