package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/txq/internal/ir"
	"github.com/roach88/txq/internal/metrics"
	"github.com/roach88/txq/internal/resolver"
	"github.com/roach88/txq/internal/state"
	"github.com/roach88/txq/internal/store"
)

// AppliedHook is called for every applied transaction after it has been
// persisted. It runs on the Run goroutine outside the engine lock, so it may
// call Status, Pending or Acks.
type AppliedHook func(rec ir.Applied, doc map[string]any)

// Engine is the single-writer ingestion loop.
//
// Thread-safety model:
//   - Enqueue, Stop, Drain: safe from any goroutine
//   - Status, Pending, Acks, HaveTx: safe from any goroutine
//   - Run: must be called exactly once, from one goroutine
//
// INVARIANTS:
//   - one resolver and one state document per state URI, created on the
//     first delivery for that URI
//   - applied records are persisted in the order the resolver applied them
//   - seq values are strictly increasing across all state URIs
type Engine struct {
	store     *store.Store
	clock     *Clock
	queue     *deliveryQueue
	sessions  SessionGenerator
	session   string
	seeds     []string
	metrics   *metrics.Collectors
	onApplied AppliedHook

	mu   sync.Mutex
	uris map[string]*uriState
	acks map[string]map[string]struct{} // peer -> tx ids seen from that peer

	// batch collects what the resolver applied while processing the
	// current delivery. Only touched on the Run goroutine under mu.
	batch []appliedEvent

	done chan struct{}
}

// uriState is the resolver and document of one state URI.
type uriState struct {
	queue   *resolver.Queue[[]string, map[string]any]
	doc     *state.Document
	resumed int
	hash    string
	seq     int64
}

type appliedEvent struct {
	rec ir.Applied
	doc map[string]any
	err error
}

// Option configures an Engine.
type Option func(*Engine)

// WithSessionGenerator sets the generator for the engine's session id.
// Default: UUIDv7Generator.
func WithSessionGenerator(g SessionGenerator) Option {
	return func(e *Engine) {
		e.sessions = g
	}
}

// WithMetrics reports resolver and engine activity to m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithOnApplied registers fn to run after each applied transaction is
// persisted.
func WithOnApplied(fn AppliedHook) Option {
	return func(e *Engine) {
		e.onApplied = fn
	}
}

// WithSeeds marks ids as applied in every state URI before any delivery,
// typically ir.GenesisTxID.
func WithSeeds(ids ...string) Option {
	return func(e *Engine) {
		e.seeds = append(e.seeds, ids...)
	}
}

// WithClock sets the logical clock. Run still advances it past the store's
// highest seq.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine that persists to s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		clock:    NewClock(),
		queue:    newDeliveryQueue(),
		sessions: UUIDv7Generator{},
		uris:     make(map[string]*uriState),
		acks:     make(map[string]map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.session = e.sessions.Generate()
	return e
}

// Enqueue submits a delivery for processing by the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(d Delivery) bool {
	return e.queue.Enqueue(d)
}

// Session returns the id stamped on every record this engine applies.
func (e *Engine) Session() string {
	return e.session
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the number of deliveries not yet processed.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the single-writer loop. It returns nil once Stop or Drain has
// been called and every queued delivery is processed, ctx.Err() when ctx is
// cancelled, or an INGEST_FAULT RuntimeError when a delivery carries an
// upstream error.
//
// Store and state errors are logged with the delivery and processing
// continues.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	maxSeq, err := e.store.MaxSeq(ctx)
	if err != nil {
		e.queue.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newStoreReadError("", err)
	}
	e.clock.AdvanceTo(maxSeq)

	slog.Info("engine starting", "session", e.session, "seq", e.clock.Current())

	for {
		d, ok := e.queue.TryDequeue()
		if ok {
			if err := e.process(ctx, d); err != nil {
				if IsIngestFault(err) {
					slog.Error("engine stopping: ingest fault",
						"error", err,
						"tx", d.Tx.ID,
						"state_uri", d.Tx.StateURI,
						"peer", d.Peer,
					)
					e.queue.Close()
					return err
				}
				logDeliveryError(d, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case _, open := <-e.queue.Wait():
			// A signal may be stale; only a closed and empty queue ends Run.
			if !open && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run finishes the deliveries already queued and
// then returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain closes the queue and waits until Run has returned or ctx is done.
// Run must have been started.
func (e *Engine) Drain(ctx context.Context) error {
	e.queue.Close()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process handles one delivery on the Run goroutine.
func (e *Engine) process(ctx context.Context, d Delivery) error {
	if d.Err != nil {
		e.metrics.IngestFault()
		return NewIngestFault(d)
	}

	uri := d.Tx.StateURI

	e.mu.Lock()
	us, err := e.uriFor(ctx, uri)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if d.Peer != "" {
		e.recordAck(d.Peer, d.Tx.ID)
	}

	slog.Debug("processing delivery",
		"tx", d.Tx.ID,
		"state_uri", uri,
		"parents", len(d.Tx.Parents),
		"peer", d.Peer,
	)

	us.queue.AddTx(d.Tx.Clone(), slices.Clone(d.Leaves))

	batch := e.batch
	e.batch = nil

	var (
		errs      []error
		persisted []appliedEvent
	)
	for _, ev := range batch {
		if ev.err != nil {
			errs = append(errs, ev.err)
			continue
		}
		inserted, err := e.store.WriteApplied(ctx, ev.rec, ev.doc)
		if err != nil {
			e.metrics.StoreError()
			errs = append(errs, newStoreWriteError(ev.rec.Tx.ID, uri, err))
			continue
		}
		if !inserted {
			slog.Debug("applied tx already stored, skipping (idempotent)",
				"tx", ev.rec.Tx.ID,
				"state_uri", uri,
			)
			continue
		}
		slog.Info("tx applied",
			"tx", ev.rec.Tx.ID,
			"state_uri", uri,
			"seq", ev.rec.Seq,
			"state_hash", ev.rec.StateHash,
		)
		persisted = append(persisted, ev)
	}
	e.metrics.SetPending(uri, us.queue.Len())
	e.mu.Unlock()

	if e.onApplied != nil {
		for _, ev := range persisted {
			e.onApplied(ev.rec, ev.doc)
		}
	}
	return errors.Join(errs...)
}

// uriFor returns the state for uri, resuming it from the store on first
// use. Caller holds mu.
func (e *Engine) uriFor(ctx context.Context, uri string) (*uriState, error) {
	if us, ok := e.uris[uri]; ok {
		return us, nil
	}

	ids, err := e.store.AppliedIDs(ctx, uri)
	if err != nil {
		return nil, newStoreReadError(uri, err)
	}

	us := &uriState{resumed: len(ids)}
	var initial map[string]any
	stored, err := e.store.ReadState(ctx, uri)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, newStoreReadError(uri, err)
	default:
		initial = stored.Document
		us.hash = stored.StateHash
		us.seq = stored.Seq
	}
	us.doc = state.NewDocument(uri, initial)

	seeds := append(slices.Clone(e.seeds), ids...)
	us.queue = resolver.New[[]string, map[string]any](
		us.doc.Apply,
		e.completion(us),
		resolver.WithApplied(seeds...),
		resolver.WithPassHook(func(r resolver.PassReport) {
			e.metrics.ObservePass(uri, len(r.Applied), r.Duplicates, r.Pending)
		}),
	)

	if us.resumed > 0 {
		slog.Info("state resumed from store",
			"state_uri", uri,
			"applied", us.resumed,
			"seq", us.seq,
		)
	}
	e.uris[uri] = us
	return us, nil
}

// completion stamps and buffers each applied transaction. Persisting
// happens in process once the resolver returns.
func (e *Engine) completion(us *uriState) resolver.CompletionFunc[[]string, map[string]any] {
	return func(tx ir.Tx, leaves []string, doc map[string]any) {
		hash, err := ir.StateHash(doc)
		if err != nil {
			e.batch = append(e.batch, appliedEvent{err: newStateApplyError(tx.ID, tx.StateURI, err)})
			return
		}
		rec := ir.Applied{
			Seq:       e.clock.Next(),
			Tx:        tx,
			Leaves:    leaves,
			StateHash: hash,
			Session:   e.session,
		}
		us.hash = hash
		us.seq = rec.Seq
		e.batch = append(e.batch, appliedEvent{rec: rec, doc: doc})
	}
}

// recordAck notes that peer delivered id. Caller holds mu.
func (e *Engine) recordAck(peer, id string) {
	seen, ok := e.acks[peer]
	if !ok {
		seen = make(map[string]struct{})
		e.acks[peer] = seen
	}
	seen[id] = struct{}{}
}

// Acks returns, per peer, the sorted ids that peer has delivered.
func (e *Engine) Acks() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]string, len(e.acks))
	for peer, seen := range e.acks {
		ids := make([]string, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[peer] = ids
	}
	return out
}

// HaveTx reports whether id has been applied to uri, either by this engine
// or by an earlier run recorded in the store.
func (e *Engine) HaveTx(ctx context.Context, uri, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if us, ok := e.uris[uri]; ok {
		return us.queue.IsApplied(id), nil
	}
	have, err := e.store.HaveTx(ctx, uri, id)
	if err != nil {
		return false, fmt.Errorf("have tx %s: %w", id, err)
	}
	return have, nil
}

// Pending returns the transactions still waiting on parents, per state URI.
// URIs with nothing pending are omitted.
func (e *Engine) Pending() map[string][]ir.Tx {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]ir.Tx)
	for uri, us := range e.uris {
		if us.queue.Len() > 0 {
			out[uri] = us.queue.Pending()
		}
	}
	return out
}

// URIStatus summarises one state URI.
type URIStatus struct {
	StateURI    string           `json:"state_uri"`
	Applied     int              `json:"applied"`
	Resumed     int              `json:"resumed"`
	Duplicates  int              `json:"duplicates"`
	Passes      int              `json:"passes"`
	Pending     []string         `json:"pending"`
	Missing     []string         `json:"missing"`
	Cycles      []resolver.Cycle `json:"cycles,omitempty"`
	PatchErrors int              `json:"patch_errors"`
	StateHash   string           `json:"state_hash"`
	Seq         int64            `json:"seq"`
}

// Status returns a summary of every state URI seen, sorted by URI.
func (e *Engine) Status() []URIStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]URIStatus, 0, len(e.uris))
	for uri, us := range e.uris {
		stats := us.queue.Stats()
		pending := make([]string, 0, us.queue.Len())
		for _, tx := range us.queue.Pending() {
			pending = append(pending, tx.ID)
		}
		missing := us.queue.Missing()
		if missing == nil {
			missing = []string{}
		}
		out = append(out, URIStatus{
			StateURI:    uri,
			Applied:     us.resumed + stats.Applied,
			Resumed:     us.resumed,
			Duplicates:  stats.Duplicates,
			Passes:      stats.Passes,
			Pending:     pending,
			Missing:     missing,
			Cycles:      us.queue.Cycles(),
			PatchErrors: len(us.doc.Errors()),
			StateHash:   us.hash,
			Seq:         us.seq,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StateURI < out[j].StateURI })
	return out
}

// logDeliveryError logs a delivery processing failure with full context so
// the transaction can be investigated and replayed by hand.
func logDeliveryError(d Delivery, err error) {
	slog.Error("delivery processing failed",
		"error", err,
		"tx", d.Tx.ID,
		"state_uri", d.Tx.StateURI,
		"parents", d.Tx.Parents,
		"peer", d.Peer,
	)
}
