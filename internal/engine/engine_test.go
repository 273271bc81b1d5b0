package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txq/internal/ir"
	"github.com/roach88/txq/internal/metrics"
	"github.com/roach88/txq/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSessionGenerator(NewFixedGenerator("sess-1"))}, opts...)
	return New(s, opts...)
}

// runAll starts Run, enqueues every delivery, drains, and returns Run's error.
func runAll(t *testing.T, e *Engine, deliveries ...Delivery) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()

	for _, d := range deliveries {
		e.Enqueue(d)
	}
	e.Stop()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}

func tx(uri, id string, parents ...string) Delivery {
	return Delivery{Tx: ir.Tx{ID: id, StateURI: uri, Parents: parents}}
}

func appliedIDs(t *testing.T, s *store.Store, uri string) []string {
	t.Helper()
	ids, err := s.AppliedIDs(context.Background(), uri)
	require.NoError(t, err)
	return ids
}

func TestEngine_New(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	assert.NotNil(t, e.Clock())
	assert.Equal(t, "sess-1", e.Session())
	assert.Equal(t, 0, e.QueueLen())
}

func TestEngine_Enqueue(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	assert.True(t, e.Enqueue(tx("chat", "a")))
	assert.Equal(t, 1, e.QueueLen())

	e.Stop()
	assert.False(t, e.Enqueue(tx("chat", "b")), "enqueue after stop should fail")
}

func TestEngine_ReverseArrivalAppliesInCausalOrder(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	err := runAll(t, e,
		tx("chat", "C", "B"),
		tx("chat", "B", "A"),
		tx("chat", "A"),
	)
	require.NoError(t, err)

	records, err := s.ReadApplied(context.Background(), "chat")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, want := range []string{"A", "B", "C"} {
		assert.Equal(t, want, records[i].Tx.ID)
		assert.Equal(t, int64(i+1), records[i].Seq)
		assert.Equal(t, "sess-1", records[i].Session)
	}
}

func TestEngine_PersistsStateAndLeaves(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	d := tx("chat", "a")
	d.Tx.Patches = []string{`.topic = "go"`, `.members.alice = true`}
	d.Leaves = []string{"leaf-a"}
	require.NoError(t, runAll(t, e, d))

	st, err := s.ReadState(context.Background(), "chat")
	require.NoError(t, err)
	assert.Equal(t, "go", st.Document["topic"])
	assert.Equal(t, map[string]any{"alice": true}, st.Document["members"])

	records, err := s.ReadApplied(context.Background(), "chat")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"leaf-a"}, records[0].Leaves)
	assert.Equal(t, st.StateHash, records[0].StateHash)

	r, err := s.Replay(context.Background(), "chat")
	require.NoError(t, err)
	assert.True(t, r.Deterministic, "mismatches: %+v", r.Mismatches)
}

func TestEngine_DuplicateDeliveryAppliedOnce(t *testing.T) {
	s := setupTestStore(t)
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEngine(t, s, WithMetrics(m))

	require.NoError(t, runAll(t, e,
		tx("chat", "a"),
		tx("chat", "a"),
		tx("chat", "b", "a"),
	))

	assert.Equal(t, []string{"a", "b"}, appliedIDs(t, s, "chat"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Applied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending.WithLabelValues("chat")))
}

func TestEngine_FailedWriteReappliesAfterRestart(t *testing.T) {
	path := t.TempDir() + "/test.db"
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec(`CREATE TRIGGER reject_a BEFORE INSERT ON applied_txs
		WHEN NEW.id = 'a' BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	first := newTestEngine(t, s, WithMetrics(m))
	require.NoError(t, runAll(t, first, tx("chat", "a")), "store write failure is not fatal")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors))
	assert.Equal(t, 1, first.Status()[0].Applied, "applied in memory despite the failed write")
	assert.Empty(t, appliedIDs(t, s, "chat"))

	_, err = raw.Exec(`DROP TRIGGER reject_a`)
	require.NoError(t, err)

	// A restarted engine has no record of a, so a redelivery applies it again.
	var reapplied []string
	second := newTestEngine(t, s, WithOnApplied(func(rec ir.Applied, _ map[string]any) {
		reapplied = append(reapplied, rec.Tx.ID)
	}))
	require.NoError(t, runAll(t, second, tx("chat", "a")))
	assert.Equal(t, []string{"a"}, reapplied)
	assert.Equal(t, []string{"a"}, appliedIDs(t, s, "chat"))
}

func TestEngine_IngestFaultStopsRun(t *testing.T) {
	s := setupTestStore(t)
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEngine(t, s, WithMetrics(m))
	boom := errors.New("peer hung up")

	err := runAll(t, e,
		tx("chat", "a"),
		Delivery{Tx: ir.Tx{ID: "b", StateURI: "chat"}, Err: boom, Peer: "p1"},
		tx("chat", "c"),
	)

	require.Error(t, err)
	assert.True(t, IsIngestFault(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, appliedIDs(t, s, "chat"), "nothing after the fault is processed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestFaults))
}

func TestEngine_ResumesFromStore(t *testing.T) {
	s := setupTestStore(t)

	first := New(s, WithSessionGenerator(NewFixedGenerator("sess-1")))
	a := tx("chat", "a")
	a.Tx.Patches = []string{`.n = 1`}
	require.NoError(t, runAll(t, first, a, tx("chat", "b", "a")))

	second := New(s, WithSessionGenerator(NewFixedGenerator("sess-2")))
	c := tx("chat", "c", "b")
	c.Tx.Patches = []string{`.m = 2`}
	require.NoError(t, runAll(t, second,
		tx("chat", "b", "a"), // already applied by the first run
		c,
	))

	records, err := s.ReadApplied(context.Background(), "chat")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[2].Tx.ID)
	assert.Equal(t, int64(3), records[2].Seq, "clock resumes past the stored seq")
	assert.Equal(t, "sess-2", records[2].Session)

	st, err := s.ReadState(context.Background(), "chat")
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), st.Document["n"], "earlier state carried forward")
	assert.Equal(t, json.Number("2"), st.Document["m"])

	status := second.Status()
	require.Len(t, status, 1)
	assert.Equal(t, 2, status[0].Resumed)
	assert.Equal(t, 3, status[0].Applied)
	assert.Equal(t, 1, status[0].Duplicates)

	r, err := s.Replay(context.Background(), "chat")
	require.NoError(t, err)
	assert.True(t, r.Deterministic, "mismatches: %+v", r.Mismatches)
}

func TestEngine_StateURIsAreIndependent(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	require.NoError(t, runAll(t, e,
		tx("room-1", "x", "root"),
		tx("room-2", "root"),
		tx("room-2", "x", "root"),
	))

	assert.Empty(t, appliedIDs(t, s, "room-1"), "room-2's root does not unblock room-1")
	assert.Equal(t, []string{"root", "x"}, appliedIDs(t, s, "room-2"))

	pending := e.Pending()
	require.Contains(t, pending, "room-1")
	assert.Equal(t, "x", pending["room-1"][0].ID)
	assert.NotContains(t, pending, "room-2")
}

func TestEngine_StatusReportsStarvation(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	bad := tx("chat", "b", "ghost")
	bad.Tx.Patches = []string{"not a patch"}
	require.NoError(t, runAll(t, e,
		tx("chat", "a"),
		bad,
		tx("chat", "c", "b"),
	))

	status := e.Status()
	require.Len(t, status, 1)
	st := status[0]
	assert.Equal(t, "chat", st.StateURI)
	assert.Equal(t, 1, st.Applied)
	assert.Equal(t, []string{"b", "c"}, st.Pending)
	assert.Equal(t, []string{"ghost"}, st.Missing)
	assert.Equal(t, int64(1), st.Seq)
	assert.NotEmpty(t, st.StateHash)
	assert.Empty(t, st.Cycles)
}

func TestEngine_StatusReportsCycles(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	require.NoError(t, runAll(t, e,
		tx("doc", "a", "b"),
		tx("doc", "b", "a"),
	))

	status := e.Status()
	require.Len(t, status, 1)
	assert.Empty(t, status[0].Missing)
	require.Len(t, status[0].Cycles, 1)
	assert.Equal(t, []string{"a", "b", "a"}, status[0].Cycles[0].Path)
}

func TestEngine_PatchErrorsCounted(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	d := tx("chat", "a")
	d.Tx.Patches = []string{"garbage", `.ok = true`}
	require.NoError(t, runAll(t, e, d))

	status := e.Status()
	require.Len(t, status, 1)
	assert.Equal(t, 1, status[0].PatchErrors)
	assert.Equal(t, 1, status[0].Applied, "a bad patch does not block the transaction")
}

func TestEngine_Seeds(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s, WithSeeds(ir.GenesisTxID))

	require.NoError(t, runAll(t, e,
		tx("chat", "first", ir.GenesisTxID),
		tx("wiki", "first", ir.GenesisTxID),
	))

	assert.Equal(t, []string{"first"}, appliedIDs(t, s, "chat"))
	assert.Equal(t, []string{"first"}, appliedIDs(t, s, "wiki"))
}

func TestEngine_OnAppliedHook(t *testing.T) {
	s := setupTestStore(t)

	var (
		e    *Engine
		seen []string
	)
	e = newTestEngine(t, s, WithOnApplied(func(rec ir.Applied, doc map[string]any) {
		seen = append(seen, rec.Tx.ID)
		// Calling back into the engine must not deadlock.
		_ = e.Status()
		assert.NotNil(t, doc)
	}))

	require.NoError(t, runAll(t, e,
		tx("chat", "b", "a"),
		tx("chat", "a"),
	))

	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestEngine_Acks(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	d1 := tx("chat", "b")
	d1.Peer = "peer-1"
	d2 := tx("chat", "a")
	d2.Peer = "peer-1"
	d3 := tx("chat", "a")
	d3.Peer = "peer-2"
	require.NoError(t, runAll(t, e, d1, d2, d3, tx("chat", "c")))

	assert.Equal(t, map[string][]string{
		"peer-1": {"a", "b"},
		"peer-2": {"a"},
	}, e.Acks())
}

func TestEngine_HaveTx(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, runAll(t, newTestEngine(t, s), tx("chat", "a")))

	// A fresh engine has not loaded "chat" yet and falls back to the store.
	e := newTestEngine(t, s)
	ctx := context.Background()

	have, err := e.HaveTx(ctx, "chat", "a")
	require.NoError(t, err)
	assert.True(t, have)

	have, err = e.HaveTx(ctx, "chat", "b")
	require.NoError(t, err)
	assert.False(t, have)

	require.NoError(t, runAll(t, e, tx("chat", "b", "a")))
	have, err = e.HaveTx(ctx, "chat", "b")
	require.NoError(t, err)
	assert.True(t, have)
}

func TestEngine_ContextCancel(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}
	assert.False(t, e.Enqueue(tx("chat", "a")), "queue is closed after cancel")
}

func TestEngine_Drain(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()

	for _, id := range []string{"a", "b", "c"} {
		e.Enqueue(tx("chat", id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Drain(ctx))
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"a", "b", "c"}, appliedIDs(t, s, "chat"))
}

func TestEngine_DrainTimesOutWithoutRun(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Drain(ctx), context.DeadlineExceeded)
}
