package ir

// Descriptor is the fully reduced description of one request/cache
// operation. It is produced per resolution call and never mutated by the
// cache.
type Descriptor struct {
	Type      string
	Store     StoreRef
	Path      string
	ID        string // empty when addressing a collection or query
	Partial   string // empty means DefaultFragment
	Fragments []string
	Params    map[string]any
	Payload   map[string]any
	Actions   ActionSet
	Event     string
}

// HasID reports whether the descriptor addresses a single entity.
func (d *Descriptor) HasID() bool {
	return d != nil && d.ID != ""
}

// Fragment returns the fragment this descriptor reads and writes.
func (d *Descriptor) Fragment() string {
	if d == nil || d.Partial == "" {
		return DefaultFragment
	}
	return d.Partial
}

// Clone returns a copy of d that can be modified without affecting d.
// Params, Payload and Fragments are copied one level deep.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Fragments = append([]string(nil), d.Fragments...)
	c.Params = copyMap(d.Params)
	c.Payload = copyMap(d.Payload)
	c.Actions = d.Actions.Clone()
	return &c
}

// EventName derives the subscription channel for an id.
func EventName(id string) string {
	if id == "" {
		return "change"
	}
	return "change:" + id
}

// Snapshot is the result of a cache read. A nil Data means "no data";
// callers must not read meaning into Data when it is nil.
type Snapshot struct {
	Status    Status
	Timestamp int64
	Data      any
}

// StaleSnapshot is returned for anything the cache cannot find.
func StaleSnapshot() Snapshot {
	return Snapshot{Status: StatusStale, Timestamp: TimestampStale}
}

// HasData reports whether the snapshot carries data.
func (s Snapshot) HasData() bool {
	return s.Data != nil
}

// NeverRequested reports whether the snapshot's timestamp says no request
// for it was ever issued.
func (s Snapshot) NeverRequested() bool {
	return s.Timestamp < TimestampLoading
}

// Entry is the metadata and data written by a cache update.
type Entry struct {
	Status    Status
	Timestamp int64
	Data      any
	Partial   string
}

// Touch is a metadata-only change applied to a cache slot. An empty Status
// or a nil Timestamp leaves the corresponding field unchanged.
type Touch struct {
	Status    Status
	Timestamp *int64
}

// IsZero reports whether the touch changes nothing.
func (t Touch) IsZero() bool {
	return t.Status == "" && t.Timestamp == nil
}

// TouchLoading marks a slot as loading with the given status.
func TouchLoading(status Status) Touch {
	ts := TimestampLoading
	return Touch{Status: status, Timestamp: &ts}
}

// TouchAt only moves the slot's timestamp.
func TouchAt(ts int64) Touch {
	return Touch{Timestamp: &ts}
}

// TouchStale resets a slot to the never-requested state.
func TouchStale() Touch {
	ts := TimestampStale
	return Touch{Status: StatusStale, Timestamp: &ts}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
