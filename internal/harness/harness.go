package harness

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/txq/internal/engine"
	"github.com/roach88/txq/internal/fixture"
	"github.com/roach88/txq/internal/ir"
	"github.com/roach88/txq/internal/resolver"
	"github.com/roach88/txq/internal/state"
)

// Harness executes one scenario. It owns a resolver and a state document
// per state URI and records everything they do into a Result.
type Harness struct {
	scenario *Scenario
	clock    *engine.Clock
	logger   *slog.Logger
	result   *Result
	queues   map[string]*resolver.Queue[[]string, map[string]any]
	docs     map[string]*state.Document
	order    []string // state URIs in first-seen order
}

// Run executes a scenario and returns the result with assertions evaluated.
// An error is returned only when the scenario cannot be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		clock:    engine.NewClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
		queues:   make(map[string]*resolver.Queue[[]string, map[string]any]),
		docs:     make(map[string]*state.Document),
	}

	if scenario.Batch {
		h.deliverBatch()
	} else {
		h.deliverEach()
	}
	h.collect()

	actx := &AssertionContext{
		StateURI: scenario.StateURI,
		Seeds:    scenario.Seeds(),
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// deliverEach hands deliveries over one at a time. The first fault stops
// delivery, as it would stop the engine.
func (h *Harness) deliverEach() {
	for _, d := range h.scenario.Deliveries {
		q := h.queue(d.Tx.StateURI)
		if fault := h.handle(q, d); fault != "" {
			h.result.Fault = fault
			h.logger.Info("scenario stopped by fault", "tx", d.Tx.ID, "fault", fault)
			return
		}
	}
}

// handle passes d through DefaultTxHandler, turning its panic on a faulty
// delivery back into a message.
func (h *Harness) handle(q *resolver.Queue[[]string, map[string]any], d fixture.Delivery) (fault string) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Sprint(r)
		}
	}()
	q.DefaultTxHandler(d.Err(), d.Tx, d.Leaves)
	return ""
}

// deliverBatch groups deliveries by state URI, keeping arrival order, and
// hands each group to its resolver in one call.
func (h *Harness) deliverBatch() {
	groups := make(map[string][]resolver.Entry[[]string])
	var uris []string
	for _, d := range h.scenario.Deliveries {
		uri := d.Tx.StateURI
		if _, ok := groups[uri]; !ok {
			uris = append(uris, uri)
		}
		groups[uri] = append(groups[uri], resolver.Entry[[]string]{Tx: d.Tx, Leaves: d.Leaves})
	}
	for _, uri := range uris {
		h.queue(uri).AddTxs(groups[uri]...)
	}
}

// queue returns the resolver for uri, creating it on first use.
func (h *Harness) queue(uri string) *resolver.Queue[[]string, map[string]any] {
	if q, ok := h.queues[uri]; ok {
		return q
	}

	doc := state.NewDocument(uri, nil)
	q := resolver.New[[]string, map[string]any](
		doc.Apply,
		func(tx ir.Tx, _ []string, _ map[string]any) {
			h.result.uri(uri).parents[tx.ID] = tx.Parents
			h.result.Trace = append(h.result.Trace, TraceEvent{
				Type:     EventApplied,
				StateURI: uri,
				ID:       tx.ID,
				Seq:      h.clock.Next(),
			})
		},
		resolver.WithLogger(h.logger),
		resolver.WithApplied(h.scenario.Seeds()...),
		resolver.WithPassHook(func(r resolver.PassReport) {
			h.result.Trace = append(h.result.Trace, TraceEvent{
				Type:       EventPass,
				StateURI:   uri,
				Pass:       r.Pass,
				Applied:    len(r.Applied),
				Duplicates: r.Duplicates,
				Pending:    r.Pending,
			})
		}),
	)

	h.queues[uri] = q
	h.docs[uri] = doc
	h.order = append(h.order, uri)
	return q
}

// collect copies the end state of every resolver into the result.
func (h *Harness) collect() {
	for _, ev := range h.result.Trace {
		if ev.Type == EventApplied {
			u := h.result.uri(ev.StateURI)
			u.Applied = append(u.Applied, ev.ID)
		}
	}
	for _, uri := range h.order {
		q := h.queues[uri]
		u := h.result.uri(uri)
		for _, tx := range q.Pending() {
			u.Pending = append(u.Pending, tx.ID)
		}
		u.Missing = append(u.Missing, q.Missing()...)
		for _, c := range q.Cycles() {
			u.Cycles = append(u.Cycles, c.Path)
		}
		u.Stats = q.Stats()
		u.State = h.docs[uri].Snapshot()
	}
}
