package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/txq/internal/ir"
	"github.com/roach88/txq/internal/resolver"
	"github.com/roach88/txq/internal/state"
)

// Mismatch describes one divergence found during replay.
type Mismatch struct {
	Seq    int64  `json:"seq"`
	TxID   string `json:"tx_id"`
	Reason string `json:"reason"`
	Want   string `json:"want,omitempty"`
	Got    string `json:"got,omitempty"`
}

// ReplayResult summarises the replay of one state URI.
type ReplayResult struct {
	StateURI      string     `json:"state_uri"`
	Applied       int        `json:"applied"`
	StateHash     string     `json:"state_hash"`
	Deterministic bool       `json:"deterministic"`
	Mismatches    []Mismatch `json:"mismatches,omitempty"`
}

// Replay re-applies the stored log for stateURI through a fresh resolver
// and state document, then checks that:
//   - every transaction resolves, in the stored seq order
//   - each recomputed state hash equals the stored one
//   - the final state equals the stored latest state
//
// Seeds are ids treated as applied before the log starts (e.g. genesis).
func (s *Store) Replay(ctx context.Context, stateURI string, seeds ...string) (ReplayResult, error) {
	result := ReplayResult{StateURI: stateURI, Deterministic: true}

	records, err := s.ReadApplied(ctx, stateURI)
	if err != nil {
		return result, fmt.Errorf("replay %s: %w", stateURI, err)
	}

	doc := state.NewDocument(stateURI, nil)
	var replayed []ir.Tx
	var lastHash string
	var hashErr error

	q := resolver.New[ir.Applied, map[string]any](
		doc.Apply,
		func(tx ir.Tx, rec ir.Applied, newState map[string]any) {
			replayed = append(replayed, tx)
			h, err := ir.StateHash(newState)
			if err != nil {
				hashErr = err
				return
			}
			lastHash = h
			if h != rec.StateHash {
				result.Mismatches = append(result.Mismatches, Mismatch{
					Seq:    rec.Seq,
					TxID:   tx.ID,
					Reason: "state hash differs",
					Want:   rec.StateHash,
					Got:    h,
				})
			}
		},
		resolver.WithApplied(seeds...),
	)

	for _, rec := range records {
		q.AddTx(rec.Tx, rec)
	}
	if hashErr != nil {
		return result, fmt.Errorf("replay %s: %w", stateURI, hashErr)
	}

	result.Applied = len(replayed)
	result.StateHash = lastHash

	// Unresolved records are reported once and skipped, so a single stuck
	// record does not shift every later comparison.
	resolved := make(map[string]struct{}, len(replayed))
	for _, tx := range replayed {
		resolved[tx.ID] = struct{}{}
	}
	next := 0
	for _, rec := range records {
		if _, ok := resolved[rec.Tx.ID]; !ok {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Seq:    rec.Seq,
				TxID:   rec.Tx.ID,
				Reason: "did not resolve on replay",
			})
			continue
		}
		if got := replayed[next].ID; got != rec.Tx.ID {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Seq:    rec.Seq,
				TxID:   rec.Tx.ID,
				Reason: "applied out of stored order",
				Want:   rec.Tx.ID,
				Got:    got,
			})
		}
		next++
	}

	stored, err := s.ReadState(ctx, stateURI)
	switch {
	case errors.Is(err, ErrNotFound):
		if len(records) > 0 {
			result.Mismatches = append(result.Mismatches, Mismatch{Reason: "stored state missing"})
		}
	case err != nil:
		return result, fmt.Errorf("replay %s: %w", stateURI, err)
	case stored.StateHash != lastHash:
		result.Mismatches = append(result.Mismatches, Mismatch{
			Seq:    stored.Seq,
			Reason: "final state differs from stored state",
			Want:   stored.StateHash,
			Got:    lastHash,
		})
	}

	result.Deterministic = len(result.Mismatches) == 0
	return result, nil
}

// ReplayAll replays every state URI in the store, in URI order.
func (s *Store) ReplayAll(ctx context.Context, seeds ...string) ([]ReplayResult, error) {
	uris, err := s.ListStateURIs(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]ReplayResult, 0, len(uris))
	for _, uri := range uris {
		r, err := s.Replay(ctx, uri, seeds...)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
