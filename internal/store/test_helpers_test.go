package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/txq/internal/ir"
	"github.com/roach88/txq/internal/state"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// applyAndWrite applies txs in order to a fresh document for uri and writes
// each applied record the way the engine does, starting at seq 1.
func applyAndWrite(t *testing.T, s *Store, uri string, txs ...ir.Tx) {
	t.Helper()
	doc := state.NewDocument(uri, nil)
	for i, tx := range txs {
		tx.StateURI = uri
		newState := doc.Apply(tx.From, tx.ID, tx.Parents, tx.Patches)
		rec := ir.Applied{
			Seq:       int64(i + 1),
			Tx:        tx,
			StateHash: mustStateHash(t, newState),
			Session:   "test-session",
		}
		if _, err := s.WriteApplied(context.Background(), rec, newState); err != nil {
			t.Fatalf("WriteApplied(%s) failed: %v", tx.ID, err)
		}
	}
}

func mustStateHash(t *testing.T, doc map[string]any) string {
	t.Helper()
	h, err := ir.StateHash(doc)
	if err != nil {
		t.Fatalf("StateHash() failed: %v", err)
	}
	return h
}
