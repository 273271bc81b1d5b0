// Package store provides SQLite-backed durable storage for applied
// transactions.
//
// The store keeps:
//   - applied_txs: the append-only log of applied transactions, one row per
//     (state_uri, id), stamped with the engine's logical seq
//   - states: the latest state document and its hash per state URI
//
// The resolver's pending queue is deliberately NOT persisted. After a
// restart, callers seed a fresh resolver with AppliedIDs and re-deliver
// anything that was still pending.
//
// # Critical Patterns
//
// Idempotency: UNIQUE(state_uri, id) with ON CONFLICT DO NOTHING. Writing
// the same applied record twice is a no-op.
//
// Deterministic reads: every list query orders by seq ASC.
//
// Canonical encoding: parents, patches, leaves and documents are stored as
// canonical JSON (internal/ir) so state hashes are reproducible.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
