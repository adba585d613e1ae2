package testutil

import (
	"fmt"
	"sync"
)

// SequenceNames generates predictable names for anonymous stores:
// prefix-1, prefix-2, ...
//
// Generate has the func() string shape expected by store.WithNameGenerator,
// replacing the UUIDv7 names used outside tests.
//
// Thread-safety: SequenceNames is safe for concurrent use via internal mutex.
type SequenceNames struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceNames creates a generator. If prefix is empty, "anon" is used.
func NewSequenceNames(prefix string) *SequenceNames {
	if prefix == "" {
		prefix = "anon"
	}
	return &SequenceNames{prefix: prefix}
}

// Generate returns the next name.
func (g *SequenceNames) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
