// Package ir provides the foundational types shared by every strata package.
//
// This package contains type definitions and small pure helpers only. All
// other internal packages import ir; ir imports nothing internal. This keeps
// the data model the bottom layer with no circular dependencies.
//
// The main types are:
//   - Op: a single entry of a resolution stack (definitions, params, payload,
//     resolver markers, groups and references to nested resolvable nodes)
//   - Definition: the declarative configuration of a store, dataset or action
//   - Descriptor: the fully reduced description of one request/cache operation
//   - Snapshot and Entry: what the fragment cache hands back to callers
//
// Key constraints:
//   - Status and Timestamp travel with every cache entry; they are the only
//     consistency signal available to callers
//   - TimestampStale (-1) and TimestampLoading (0) are sentinels, any other
//     timestamp is a wall-clock write time in milliseconds
//   - Entity ids are always normalised to strings (see IDString)
package ir
