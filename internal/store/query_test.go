package store

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/roach88/txq/internal/ir"
)

func TestLogQueryCompile(t *testing.T) {
	const base = "SELECT " + appliedColumns + " FROM applied_txs"

	tests := []struct {
		name       string
		query      LogQuery
		wantSQL    string
		wantParams []any
	}{
		{
			name:    "no filter",
			query:   LogQuery{},
			wantSQL: base + " ORDER BY seq ASC",
		},
		{
			name:       "state uri",
			query:      LogQuery{StateURI: "chat"},
			wantSQL:    base + " WHERE state_uri = ? ORDER BY seq ASC",
			wantParams: []any{"chat"},
		},
		{
			name:       "all filters with limit",
			query:      LogQuery{StateURI: "chat", From: "alice", Session: "s1", AfterSeq: 4, Limit: 10},
			wantSQL:    base + " WHERE state_uri = ? AND from_addr = ? AND session = ? AND seq > ? ORDER BY seq ASC LIMIT ?",
			wantParams: []any{"chat", "alice", "s1", int64(4), 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := tt.query.compile()
			if err != nil {
				t.Fatalf("compile() failed: %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("compile() sql =\n%s\nwant\n%s", sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(params, tt.wantParams) {
				t.Errorf("compile() params = %#v, want %#v", params, tt.wantParams)
			}
		})
	}
}

func TestLogQueryCompile_NeverInterpolates(t *testing.T) {
	hostile := "x' OR '1'='1"
	sql, params, err := LogQuery{StateURI: hostile, From: hostile}.compile()
	if err != nil {
		t.Fatalf("compile() failed: %v", err)
	}
	if strings.Contains(sql, hostile) {
		t.Errorf("compile() interpolated a value: %s", sql)
	}
	if len(params) != 2 {
		t.Errorf("compile() params = %v, want 2 bound values", params)
	}
}

func TestLogQueryCompile_RejectsNegative(t *testing.T) {
	for _, q := range []LogQuery{{Limit: -1}, {AfterSeq: -1}} {
		if _, _, err := q.compile(); err == nil {
			t.Errorf("compile(%+v) succeeded, want error", q)
		}
	}
}

func TestQueryApplied_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, rec := range []ir.Applied{
		{Seq: 1, Tx: ir.Tx{ID: "a", StateURI: "chat", From: "alice"}, Session: "s1"},
		{Seq: 2, Tx: ir.Tx{ID: "b", StateURI: "chat", From: "bob"}, Session: "s1"},
		{Seq: 3, Tx: ir.Tx{ID: "c", StateURI: "wiki", From: "alice"}, Session: "s2"},
		{Seq: 4, Tx: ir.Tx{ID: "d", StateURI: "chat", From: "alice"}, Session: "s2"},
	} {
		if _, err := s.WriteApplied(ctx, rec, nil); err != nil {
			t.Fatalf("WriteApplied(%s) failed: %v", rec.Tx.ID, err)
		}
	}

	tests := []struct {
		name  string
		query LogQuery
		want  []string
	}{
		{"everything", LogQuery{}, []string{"a", "b", "c", "d"}},
		{"by sender", LogQuery{From: "alice"}, []string{"a", "c", "d"}},
		{"by uri and sender", LogQuery{StateURI: "chat", From: "alice"}, []string{"a", "d"}},
		{"by session", LogQuery{Session: "s2"}, []string{"c", "d"}},
		{"after seq", LogQuery{AfterSeq: 2}, []string{"c", "d"}},
		{"limit", LogQuery{Limit: 2}, []string{"a", "b"}},
		{"no match", LogQuery{From: "nobody"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryApplied(ctx, tt.query)
			if err != nil {
				t.Fatalf("QueryApplied() failed: %v", err)
			}
			ids := []string{}
			for _, rec := range got {
				ids = append(ids, rec.Tx.ID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("QueryApplied(%+v) = %v, want %v", tt.query, ids, tt.want)
			}
		})
	}
}
