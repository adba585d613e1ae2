// Package snapshot persists the fragment caches of a store registry in
// SQLite so a process can start warm.
//
// A snapshot holds, per store type:
//   - Slots: one row per (fragment, id), tombstones included
//   - Queries: one row per path, with the id list, reference or raw value
//
// # Integrity
//
// Every slot and query row carries the fingerprint of its JSON columns.
// Load recomputes it and fails with a *ChecksumError on mismatch instead
// of importing corrupted data.
//
// # Ordering
//
// Reads use ORDER BY store_type, fragment, id COLLATE BINARY (slots) and
// store_type, path COLLATE BINARY (queries) so exports are byte-stable.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Rows are removed with their store
package snapshot
