// Package store provides stores and the registry that names them.
//
// A Store owns the fragment cache and the change emitter of one
// entity-collection type. It contributes a store-kind stack entry to every
// chain it roots, which the reducer treats as a hard scope boundary.
//
// A Registry maps type names to stores. It replaces a process-wide table:
// callers create one and pass it to whatever needs lookups by name.
//
// Lifecycle:
//   - Create registers a store; redefinition fails unless the existing
//     store is a shadow created by the importer
//   - Reset gives every store a fresh empty cache, keeping subscribers
//   - Dispose removes a store from the table
package store
