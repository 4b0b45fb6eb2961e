// Package stores provides the persistence layer for provisioning state.
//
// Three engine.StateTracker implementations are available:
//
//   - SQLiteStore: a single-file database with WAL mode and embedded
//     migrations, the default for single-instance deployments
//   - FirestoreStore: a Firestore collection with transactional claims, for
//     deployments with several service instances
//   - MemoryStore: process-local state for tests and dry runs
//
// All backends share the same mutation rules: a flag only moves from unset to
// set outside an operator Reset, and every write after a claim is conditional
// on the writer still holding that claim.
package stores
