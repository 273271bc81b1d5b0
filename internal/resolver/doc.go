// Package resolver implements the causal dependency resolver for txq.
//
// A Queue accepts transactions in any arrival order and hands them to an
// Apply function only after every parent they name has been applied. It is
// the one component in txq with a real ordering invariant; everything around
// it (engine, store, wire) is plumbing.
//
// ALGORITHM:
//
// Fixed-point relaxation over the pending slice, run synchronously on every
// AddTx:
//  1. Scan pending entries from first-inserted to last-inserted.
//  2. An entry is eligible when every parent id is already applied. The check
//     uses the live applied set, so a parent applied earlier in the same scan
//     satisfies its child later in that scan.
//  3. Each eligible entry is marked applied, passed to Apply, then to the
//     Completion callback.
//  4. Consumed entries are compacted out after the scan, including when
//     Apply or Completion panics part way through it.
//  5. Repeat until a scan applies nothing or nothing is pending.
//
// A child scanned before its parent within a pass waits for the next pass.
// A chain delivered in reverse order therefore costs one pass per link.
//
// INVARIANTS:
//   - Apply is called at most once per transaction id. A later entry with an
//     already-applied id is dropped without calling Apply or Completion.
//   - Apply for a parent happens-before Apply for any of its children.
//   - A parent id that never arrives starves its descendants forever. This is
//     not an error and raises nothing; use Missing to inspect it. Pending
//     transactions whose parents form a cycle starve the same way with
//     nothing missing; Cycles reports those.
//
// REENTRANCY:
//
// AddTx called from inside Apply or Completion does not recurse. The entry
// is appended and the outermost AddTx call picks it up, in the current scan
// if it is still running. Nesting depth is therefore always one.
//
// A panic from Apply or Completion propagates out of AddTx. The faulted id
// stays applied and its entry is removed, so the queue remains usable and
// a redelivery of that id is dropped as a duplicate.
//
// CONCURRENCY:
//
// A Queue is not safe for concurrent use and never blocks. Callers that
// receive transactions on several goroutines funnel them through one owner
// (see internal/engine). Queues share nothing; use one per state URI.
package resolver
