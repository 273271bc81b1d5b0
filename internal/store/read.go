package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/txq/internal/ir"
)

const appliedColumns = `seq, id, state_uri, from_addr, parents, patches, sig, leaves, state_hash, session`

// ReadApplied returns the applied log for one state URI ordered by seq.
// Returns an empty slice (not nil) if nothing has been applied.
func (s *Store) ReadApplied(ctx context.Context, stateURI string) ([]ir.Applied, error) {
	return s.QueryApplied(ctx, LogQuery{StateURI: stateURI})
}

// ReadAllApplied returns the applied log across every state URI ordered by seq.
func (s *Store) ReadAllApplied(ctx context.Context) ([]ir.Applied, error) {
	return s.QueryApplied(ctx, LogQuery{})
}

func collectApplied(rows *sql.Rows) ([]ir.Applied, error) {
	defer rows.Close()

	out := []ir.Applied{}
	for rows.Next() {
		var (
			rec                     ir.Applied
			parents, patches, leafs string
		)
		if err := rows.Scan(
			&rec.Seq,
			&rec.Tx.ID,
			&rec.Tx.StateURI,
			&rec.Tx.From,
			&parents,
			&patches,
			&rec.Tx.Sig,
			&leafs,
			&rec.StateHash,
			&rec.Session,
		); err != nil {
			return nil, fmt.Errorf("scan applied: %w", err)
		}

		var err error
		if rec.Tx.Parents, err = unmarshalStrings(parents); err != nil {
			return nil, fmt.Errorf("applied %s parents: %w", rec.Tx.ID, err)
		}
		if rec.Tx.Patches, err = unmarshalStrings(patches); err != nil {
			return nil, fmt.Errorf("applied %s patches: %w", rec.Tx.ID, err)
		}
		if rec.Leaves, err = unmarshalStrings(leafs); err != nil {
			return nil, fmt.Errorf("applied %s leaves: %w", rec.Tx.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied: %w", err)
	}
	return out, nil
}

// AppliedIDs returns the ids applied for stateURI, ordered by seq. Used to
// seed a resolver after a restart.
func (s *Store) AppliedIDs(ctx context.Context, stateURI string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM applied_txs WHERE state_uri = ? ORDER BY seq ASC
	`, stateURI)
	if err != nil {
		return nil, fmt.Errorf("query applied ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan applied id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied ids: %w", err)
	}
	return ids, nil
}

// HaveTx reports whether id has been applied for stateURI.
func (s *Store) HaveTx(ctx context.Context, stateURI, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM applied_txs WHERE state_uri = ? AND id = ?
	`, stateURI, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("have tx: %w", err)
	}
	return true, nil
}

// StateRecord is the latest stored state for a state URI.
type StateRecord struct {
	StateURI  string
	Document  map[string]any
	StateHash string
	Seq       int64
}

// ReadState returns the latest state for stateURI.
// Returns ErrNotFound if nothing has been applied for it.
func (s *Store) ReadState(ctx context.Context, stateURI string) (StateRecord, error) {
	rec := StateRecord{StateURI: stateURI}
	var document string
	err := s.db.QueryRowContext(ctx, `
		SELECT document, state_hash, seq FROM states WHERE state_uri = ?
	`, stateURI).Scan(&document, &rec.StateHash, &rec.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("state %s: %w", stateURI, ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("read state: %w", err)
	}
	if rec.Document, err = unmarshalDocument(document); err != nil {
		return rec, fmt.Errorf("read state %s: %w", stateURI, err)
	}
	return rec, nil
}

// ListStateURIs returns every state URI with at least one applied tx,
// sorted.
func (s *Store) ListStateURIs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT state_uri FROM applied_txs ORDER BY state_uri COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list state uris: %w", err)
	}
	defer rows.Close()

	uris := []string{}
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan state uri: %w", err)
		}
		uris = append(uris, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state uris: %w", err)
	}
	return uris, nil
}

// MaxSeq returns the highest seq in the applied log, or 0 when empty.
// The engine resumes its clock from here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM applied_txs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}
