package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/txq/internal/ir"
)

// LogQuery filters the applied log. Zero fields match everything.
type LogQuery struct {
	StateURI string
	From     string
	Session  string
	AfterSeq int64 // only entries with seq > AfterSeq
	Limit    int   // 0 means no limit
}

// predicate is one parameterized WHERE fragment.
type predicate struct {
	sql   string
	param any
}

func (q LogQuery) predicates() []predicate {
	var preds []predicate
	if q.StateURI != "" {
		preds = append(preds, predicate{"state_uri = ?", q.StateURI})
	}
	if q.From != "" {
		preds = append(preds, predicate{"from_addr = ?", q.From})
	}
	if q.Session != "" {
		preds = append(preds, predicate{"session = ?", q.Session})
	}
	if q.AfterSeq > 0 {
		preds = append(preds, predicate{"seq > ?", q.AfterSeq})
	}
	return preds
}

// compile builds the SELECT for q. Values are always bound as parameters,
// never interpolated, and every query is ordered by seq.
func (q LogQuery) compile() (string, []any, error) {
	if q.Limit < 0 {
		return "", nil, fmt.Errorf("limit must be non-negative, got %d", q.Limit)
	}
	if q.AfterSeq < 0 {
		return "", nil, fmt.Errorf("after seq must be non-negative, got %d", q.AfterSeq)
	}

	var (
		b      strings.Builder
		params []any
	)
	b.WriteString("SELECT " + appliedColumns + " FROM applied_txs")

	preds := q.predicates()
	for i, p := range preds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(p.sql)
		params = append(params, p.param)
	}

	b.WriteString(" ORDER BY seq ASC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params, nil
}

// QueryApplied returns the applied entries matching q ordered by seq.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) QueryApplied(ctx context.Context, q LogQuery) ([]ir.Applied, error) {
	query, params, err := q.compile()
	if err != nil {
		return nil, fmt.Errorf("compile log query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query applied: %w", err)
	}
	return collectApplied(rows)
}
