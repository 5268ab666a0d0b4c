// Package store provides SQLite-backed durable state for grid panels.
//
// Two tables are kept:
//   - filter_preferences: the user's saved column filters, keyed by panel
//     and user, read once to seed the filter synchronizer
//   - mutations: an append-only journal of every executed add, update and
//     delete with its outcome
//
// # Ordering
//
// Rows carry a seq INTEGER assigned by the store. Reads order by
// seq ASC, id ASC COLLATE BINARY so results are identical across runs
// regardless of wall time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Stored JSON is canonical (grid.MarshalCanonical) so equal values store
// equal text.
package store
