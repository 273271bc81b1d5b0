package store

import (
	"context"
	"fmt"

	"github.com/roach88/txq/internal/ir"
)

// WriteApplied records an applied transaction and the resulting state
// document for its state URI in one SQLite transaction.
//
// Uses ON CONFLICT(state_uri, id) DO NOTHING for idempotency. When the record
// already exists the state row is left untouched and inserted is false.
func (s *Store) WriteApplied(ctx context.Context, rec ir.Applied, doc map[string]any) (inserted bool, err error) {
	parents, err := marshalStrings(rec.Tx.Parents)
	if err != nil {
		return false, fmt.Errorf("write applied: %w", err)
	}
	patches, err := marshalStrings(rec.Tx.Patches)
	if err != nil {
		return false, fmt.Errorf("write applied: %w", err)
	}
	leaves, err := marshalStrings(rec.Leaves)
	if err != nil {
		return false, fmt.Errorf("write applied: %w", err)
	}
	document, err := marshalDocument(doc)
	if err != nil {
		return false, fmt.Errorf("write applied: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write applied: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO applied_txs
		(seq, id, state_uri, from_addr, parents, patches, sig, leaves, state_hash, session)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(state_uri, id) DO NOTHING
	`,
		rec.Seq,
		rec.Tx.ID,
		rec.Tx.StateURI,
		rec.Tx.From,
		parents,
		patches,
		rec.Tx.Sig,
		leaves,
		rec.StateHash,
		rec.Session,
	)
	if err != nil {
		return false, fmt.Errorf("write applied: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write applied: rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO states (state_uri, document, state_hash, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(state_uri) DO UPDATE SET
			document = excluded.document,
			state_hash = excluded.state_hash,
			seq = excluded.seq
	`,
		rec.Tx.StateURI,
		document,
		rec.StateHash,
		rec.Seq,
	)
	if err != nil {
		return false, fmt.Errorf("write state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write applied: commit: %w", err)
	}
	return true, nil
}
