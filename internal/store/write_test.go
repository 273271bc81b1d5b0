package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/roach88/txq/internal/ir"
)

func TestWriteApplied_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := ir.Applied{
		Seq: 1,
		Tx: ir.Tx{
			ID:       "a1",
			Parents:  []string{ir.GenesisTxID},
			From:     "alice",
			StateURI: "chat.local/room",
			Patches:  []string{`.topic = "hi"`},
			Sig:      "sig-a1",
		},
		Leaves:    []string{"leaf-1", "leaf-2"},
		StateHash: "h1",
		Session:   "sess",
	}
	doc := map[string]any{"topic": "hi"}

	inserted, err := s.WriteApplied(ctx, rec, doc)
	if err != nil {
		t.Fatalf("WriteApplied() failed: %v", err)
	}
	if !inserted {
		t.Fatal("WriteApplied() inserted = false on first write")
	}

	got, err := s.ReadApplied(ctx, "chat.local/room")
	if err != nil {
		t.Fatalf("ReadApplied() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadApplied() returned %d records, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0], rec) {
		t.Errorf("ReadApplied() = %+v, want %+v", got[0], rec)
	}

	st, err := s.ReadState(ctx, "chat.local/room")
	if err != nil {
		t.Fatalf("ReadState() failed: %v", err)
	}
	if st.StateHash != "h1" || st.Seq != 1 || st.Document["topic"] != "hi" {
		t.Errorf("ReadState() = %+v", st)
	}
}

func TestWriteApplied_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := ir.Applied{Seq: 1, Tx: ir.Tx{ID: "a", StateURI: "u"}, StateHash: "h1"}
	if _, err := s.WriteApplied(ctx, rec, map[string]any{"v": "1"}); err != nil {
		t.Fatalf("first WriteApplied() failed: %v", err)
	}

	dup := rec
	dup.Seq = 2
	dup.StateHash = "h2"
	inserted, err := s.WriteApplied(ctx, dup, map[string]any{"v": "2"})
	if err != nil {
		t.Fatalf("duplicate WriteApplied() failed: %v", err)
	}
	if inserted {
		t.Error("duplicate WriteApplied() inserted = true")
	}

	st, err := s.ReadState(ctx, "u")
	if err != nil {
		t.Fatalf("ReadState() failed: %v", err)
	}
	if st.StateHash != "h1" {
		t.Errorf("duplicate write replaced state: hash = %q", st.StateHash)
	}
}

func TestWriteApplied_SameIDDifferentURIs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, uri := range []string{"u1", "u2"} {
		rec := ir.Applied{Seq: int64(i + 1), Tx: ir.Tx{ID: "shared", StateURI: uri}}
		inserted, err := s.WriteApplied(ctx, rec, nil)
		if err != nil {
			t.Fatalf("WriteApplied(%s) failed: %v", uri, err)
		}
		if !inserted {
			t.Errorf("WriteApplied(%s) inserted = false", uri)
		}
	}

	uris, err := s.ListStateURIs(ctx)
	if err != nil {
		t.Fatalf("ListStateURIs() failed: %v", err)
	}
	if !reflect.DeepEqual(uris, []string{"u1", "u2"}) {
		t.Errorf("ListStateURIs() = %v", uris)
	}
}

func TestWriteApplied_RejectsFloatDocument(t *testing.T) {
	s := createTestStore(t)

	_, err := s.WriteApplied(context.Background(), ir.Applied{Seq: 1, Tx: ir.Tx{ID: "a"}}, map[string]any{"f": 1.5})
	if err == nil {
		t.Fatal("WriteApplied() with float document succeeded, want error")
	}
}

func TestReadState_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadState(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadState() error = %v, want ErrNotFound", err)
	}
}
