package state

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentApply(t *testing.T) {
	doc := NewDocument("chat.local/room", nil)

	s1 := doc.Apply("alice", "t1", nil, []string{`.messages = []`, `.topic = "hello"`})
	assert.Equal(t, map[string]any{"messages": []any{}, "topic": "hello"}, s1)

	s2 := doc.Apply("bob", "t2", []string{"t1"}, []string{`.meta.count = 1`})
	assert.Equal(t, map[string]any{
		"messages": []any{},
		"topic":    "hello",
		"meta":     map[string]any{"count": json.Number("1")},
	}, s2)

	assert.NotContains(t, s1, "meta", "earlier snapshots are not mutated")
}

func TestDocumentReplacesNonObjectIntermediate(t *testing.T) {
	doc := NewDocument("u", map[string]any{"a": "scalar"})

	s := doc.Apply("", "t", nil, []string{`.a.b = true`})

	assert.Equal(t, map[string]any{"a": map[string]any{"b": true}}, s)
}

func TestDocumentRootReplace(t *testing.T) {
	doc := NewDocument("u", map[string]any{"old": true})

	s := doc.Apply("", "t", nil, []string{`. = {"new":true}`})

	assert.Equal(t, map[string]any{"new": true}, s)
}

func TestDocumentSkipsBadPatches(t *testing.T) {
	doc := NewDocument("u", nil)

	s := doc.Apply("", "t1", nil, []string{`garbage`, `.ok = 1`})

	assert.Equal(t, map[string]any{"ok": json.Number("1")}, s)
	errs := doc.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "t1", errs[0].TxID)
	assert.Equal(t, 0, errs[0].Index)
	assert.True(t, errors.Is(errs[0], ErrMalformedPatch))
}

func TestNewDocumentCopiesInitial(t *testing.T) {
	initial := map[string]any{"nested": map[string]any{"x": "1"}}
	doc := NewDocument("u", initial)

	doc.Apply("", "t", nil, []string{`.nested.x = "2"`})

	assert.Equal(t, "1", initial["nested"].(map[string]any)["x"])
	assert.Equal(t, "u", doc.URI())
}

func TestSnapshotIsIndependent(t *testing.T) {
	doc := NewDocument("u", nil)
	doc.Apply("", "t", nil, []string{`.list = [1,2]`})

	snap := doc.Snapshot()
	snap["list"].([]any)[0] = "mutated"

	assert.Equal(t, json.Number("1"), doc.Snapshot()["list"].([]any)[0])
}
