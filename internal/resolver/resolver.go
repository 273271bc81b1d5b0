package resolver

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/txq/internal/ir"
)

// ApplyFunc is the state transition invoked exactly once per transaction,
// at the moment all of its parents are satisfied.
type ApplyFunc[S any] func(from, id string, parents, patches []string) S

// CompletionFunc is notified synchronously right after Apply returns for tx.
type CompletionFunc[L, S any] func(tx ir.Tx, leaves L, state S)

// Entry is a queued transaction paired with opaque caller data.
type Entry[L any] struct {
	Tx     ir.Tx
	Leaves L
}

// Stats counts resolver activity since construction.
type Stats struct {
	Scans      int // every pass over the pending slice, including idle ones
	Passes     int // passes that applied at least one transaction
	Applied    int
	Duplicates int
}

// PassReport describes one completed pass.
type PassReport struct {
	Pass       int
	Applied    []string
	Duplicates int
	Pending    int
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	onPass  func(PassReport)
	applied []string
}

// WithLogger sets the logger used for per-pass debug output.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPassHook registers fn to be called after every pass that consumed at
// least one entry.
func WithPassHook(fn func(PassReport)) Option {
	return func(o *options) {
		o.onPass = fn
	}
}

// WithApplied seeds the applied set, e.g. with ir.GenesisTxID or with the
// ids recovered from a durable log after a restart.
func WithApplied(ids ...string) Option {
	return func(o *options) {
		o.applied = append(o.applied, ids...)
	}
}

// Queue is the pending set plus the resolution loop.
//
// The zero value is not usable; construct with New.
type Queue[L, S any] struct {
	apply  ApplyFunc[S]
	done   CompletionFunc[L, S]
	logger *slog.Logger
	onPass func(PassReport)

	pending   []Entry[L]
	applied   map[string]struct{}
	resolving bool
	stats     Stats
}

// New creates a Queue that feeds resolved transactions to apply and done.
// Both must be non-nil.
func New[L, S any](apply ApplyFunc[S], done CompletionFunc[L, S], opts ...Option) *Queue[L, S] {
	if apply == nil || done == nil {
		panic("resolver: New requires non-nil apply and completion functions")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	q := &Queue[L, S]{
		apply:   apply,
		done:    done,
		logger:  o.logger,
		onPass:  o.onPass,
		applied: make(map[string]struct{}, len(o.applied)),
	}
	for _, id := range o.applied {
		q.applied[id] = struct{}{}
	}
	return q
}

// AddTx appends tx to the pending set and runs the resolution loop.
// No validation of tx is performed.
//
// Panics raised by Apply or Completion propagate to the caller.
func (q *Queue[L, S]) AddTx(tx ir.Tx, leaves L) {
	q.pending = append(q.pending, Entry[L]{Tx: tx, Leaves: leaves})
	q.resolve()
}

// AddTxs appends every entry in order, then runs the resolution loop once.
// Use it for batches received together so that within-pass ordering applies
// across the whole batch.
func (q *Queue[L, S]) AddTxs(entries ...Entry[L]) {
	q.pending = append(q.pending, entries...)
	q.resolve()
}

// DefaultTxHandler adapts an ingestion callback of the form
// (err, tx, leaves). A non-nil err is fatal and panics; otherwise tx is
// added as with AddTx.
func (q *Queue[L, S]) DefaultTxHandler(err error, tx ir.Tx, leaves L) {
	if err != nil {
		panic(fmt.Errorf("resolver: ingest fault on tx %q: %w", tx.ID, err))
	}
	q.AddTx(tx, leaves)
}

// resolve runs passes until one applies nothing or nothing is pending.
// Nested calls (from Apply or Completion) return immediately; the outer
// call sees their entries because each scan runs to the live end of pending.
func (q *Queue[L, S]) resolve() {
	if q.resolving {
		return
	}
	q.resolving = true
	defer func() { q.resolving = false }()

	for len(q.pending) > 0 {
		q.stats.Scans++

		appliedIDs, consumed, duplicates := q.scan()

		if consumed > 0 {
			report := PassReport{
				Pass:       q.stats.Scans,
				Applied:    appliedIDs,
				Duplicates: duplicates,
				Pending:    len(q.pending),
			}
			q.logger.Debug("resolver pass",
				"pass", report.Pass,
				"applied", len(report.Applied),
				"duplicates", report.Duplicates,
				"pending", report.Pending,
			)
			if q.onPass != nil {
				q.onPass(report)
			}
		}

		if len(appliedIDs) == 0 {
			return
		}
		q.stats.Passes++
	}
}

// scan makes one pass over pending. Consumed entries are compacted out even
// when Apply or Completion panics, so a faulted entry never lingers to be
// counted again as a duplicate.
func (q *Queue[L, S]) scan() (appliedIDs []string, consumed, duplicates int) {
	var positions []int
	defer func() {
		q.compact(positions)
		q.stats.Duplicates += duplicates
	}()

	for i := 0; i < len(q.pending); i++ {
		entry := q.pending[i]
		if _, seen := q.applied[entry.Tx.ID]; seen {
			positions = append(positions, i)
			duplicates++
			q.logger.Debug("dropping duplicate tx", "id", entry.Tx.ID)
			continue
		}
		if !q.ready(entry.Tx) {
			continue
		}

		positions = append(positions, i)
		appliedIDs = append(appliedIDs, entry.Tx.ID)
		q.applied[entry.Tx.ID] = struct{}{}
		q.stats.Applied++

		state := q.apply(entry.Tx.From, entry.Tx.ID, entry.Tx.Parents, entry.Tx.Patches)
		q.done(entry.Tx, entry.Leaves, state)
	}
	return appliedIDs, len(positions), duplicates
}

// ready reports whether every parent of tx has been applied.
func (q *Queue[L, S]) ready(tx ir.Tx) bool {
	for _, p := range tx.Parents {
		if _, ok := q.applied[p]; !ok {
			return false
		}
	}
	return true
}

// compact removes the entries at the given ascending positions. Entries
// appended during the pass sit past every recorded position and are kept.
func (q *Queue[L, S]) compact(consumed []int) {
	if len(consumed) == 0 {
		return
	}
	kept := q.pending[:0]
	next := 0
	for i, entry := range q.pending {
		if next < len(consumed) && consumed[next] == i {
			next++
			continue
		}
		kept = append(kept, entry)
	}
	// Zero the tail so dropped entries' leaves can be collected.
	clear(q.pending[len(kept):])
	q.pending = kept
}

// Len returns the number of pending entries.
func (q *Queue[L, S]) Len() int {
	return len(q.pending)
}

// Pending returns the pending transactions in arrival order.
func (q *Queue[L, S]) Pending() []ir.Tx {
	out := make([]ir.Tx, len(q.pending))
	for i, entry := range q.pending {
		out[i] = entry.Tx
	}
	return out
}

// IsApplied reports whether id has been applied (or seeded via WithApplied).
func (q *Queue[L, S]) IsApplied(id string) bool {
	_, ok := q.applied[id]
	return ok
}

// Missing returns, sorted, the parent ids named by pending entries that are
// neither applied nor pending themselves. These are the ids whose arrival
// would unblock the queue.
func (q *Queue[L, S]) Missing() []string {
	pendingIDs := make(map[string]struct{}, len(q.pending))
	for _, entry := range q.pending {
		pendingIDs[entry.Tx.ID] = struct{}{}
	}

	seen := make(map[string]struct{})
	var missing []string
	for _, entry := range q.pending {
		for _, p := range entry.Tx.Parents {
			if _, ok := q.applied[p]; ok {
				continue
			}
			if _, ok := pendingIDs[p]; ok {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			missing = append(missing, p)
		}
	}
	slices.Sort(missing)
	return missing
}

// Stats returns activity counters.
func (q *Queue[L, S]) Stats() Stats {
	return q.stats
}
