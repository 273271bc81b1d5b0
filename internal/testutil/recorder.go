// Package testutil holds helpers shared by txq tests.
package testutil

import (
	"slices"
	"sync"
	"testing"

	"github.com/roach88/txq/internal/ir"
)

// Call is one observed Apply invocation.
type Call struct {
	From    string
	ID      string
	Parents []string
	Patches []string
}

// Completion is one observed completion callback.
type Completion struct {
	Tx     ir.Tx
	Leaves string
	State  int
}

// Recorder captures the order in which a resolver applies transactions.
//
// Its Apply method returns the number of transactions applied so far, which
// doubles as a trivially checkable state value. Recorder is safe for
// concurrent use so it can also observe the engine's Run goroutine.
type Recorder struct {
	mu          sync.Mutex
	calls       []Call
	completions []Completion

	// OnComplete, if set, runs at the end of Done. Tests use it to feed
	// transactions back into the resolver from inside the callback.
	OnComplete func(tx ir.Tx)
}

// Apply records the call and returns the running count.
func (r *Recorder) Apply(from, id string, parents, patches []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{From: from, ID: id, Parents: parents, Patches: patches})
	return len(r.calls)
}

// Done records the completion.
func (r *Recorder) Done(tx ir.Tx, leaves string, state int) {
	r.mu.Lock()
	r.completions = append(r.completions, Completion{Tx: tx, Leaves: leaves, State: state})
	hook := r.OnComplete
	r.mu.Unlock()

	if hook != nil {
		hook(tx)
	}
}

// Order returns the applied ids in application order.
func (r *Recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.calls))
	for i, c := range r.calls {
		ids[i] = c.ID
	}
	return ids
}

// Calls returns a copy of the recorded Apply calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Completions returns a copy of the recorded completions.
func (r *Recorder) Completions() []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.completions)
}

// AssertCausalOrder fails t if any applied transaction was applied before
// one of its applied parents, or if any id was applied more than once.
func (r *Recorder) AssertCausalOrder(t testing.TB) {
	t.Helper()

	calls := r.Calls()
	position := make(map[string]int, len(calls))
	for i, c := range calls {
		if prev, dup := position[c.ID]; dup {
			t.Errorf("tx %s applied twice (positions %d and %d)", c.ID, prev, i)
			continue
		}
		position[c.ID] = i
	}
	for i, c := range calls {
		for _, p := range c.Parents {
			at, ok := position[p]
			if !ok {
				// Parent satisfied by a seeded applied set.
				continue
			}
			if at >= i {
				t.Errorf("tx %s applied at %d before its parent %s at %d", c.ID, i, p, at)
			}
		}
	}
}
