// Package engine runs causal transaction ingestion as a single-writer loop.
//
// The engine receives deliveries from any number of producers (fixture
// loaders, framed network streams), routes each one to the resolver of its
// state URI, and persists every transaction the resolver applies.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All resolution and all store writes happen in the goroutine that calls
// Run. This gives:
//   - one apply order per state URI, identical on replay
//   - a single SQLite writer
//   - no locking inside the resolver, which is not safe for concurrent use
//
// Delivery Processing Flow:
//  1. Producers call Enqueue; deliveries land in an unbounded FIFO queue
//  2. Run dequeues one delivery at a time
//  3. A delivery carrying an upstream error stops Run with INGEST_FAULT
//  4. Otherwise the tx is added to its state URI's resolver, which applies
//     it and any descendants it unblocks
//  5. Each applied tx is stamped with the next logical seq and written to
//     the store together with the resulting state snapshot
//
// Resume:
// The first delivery for a state URI loads its applied ids and latest state
// from the store, and Run advances the clock past the stored maximum seq.
// Restarting on the same database therefore neither re-applies nor
// renumbers.
//
// Store Write Failures:
// A failed WriteApplied is logged and counted, and Run continues. The tx
// stays applied in memory, so the running engine drops redeliveries of it.
// The store has no record of it though, and after a restart a redelivery
// is applied again on top of the persisted state.
//
// Logical Clock:
// Applied records are ordered by seq from Clock.Next. Wall-clock time is
// never used for ordering.
package engine
