package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainTx    = "txq/tx/v1"
	DomainState = "txq/state/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TxHash computes the digest a signer signs for tx.
//
// The digest covers the id, parents, state URI and patches. From and Sig are
// excluded: the signature recovers the sender, so including either would
// make the digest depend on itself.
func TxHash(tx Tx) (string, error) {
	parents := tx.Parents
	if parents == nil {
		parents = []string{}
	}
	patches := tx.Patches
	if patches == nil {
		patches = []string{}
	}
	canonical, err := MarshalCanonical(map[string]any{
		"id":        tx.ID,
		"parents":   parents,
		"state_uri": tx.StateURI,
		"patches":   patches,
	})
	if err != nil {
		return "", fmt.Errorf("TxHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTx, canonical), nil
}

// StateHash computes the content hash of a state document.
// Used by replay to compare recomputed state against the stored snapshot.
func StateHash(doc map[string]any) (string, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("StateHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}
