package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txq/internal/ir"
)

func TestState_JSON(t *testing.T) {
	db := ingestChat(t)

	out, _, err := execute(t, nil, "state", "--db", db, "--format", "json")
	require.NoError(t, err)

	var views []StateView
	decodeResponse(t, out, &views)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "room", v.StateURI)
	assert.Equal(t, int64(2), v.Seq)

	// The reported hash is the hash of the reported document.
	raw, err := json.Marshal(v.Document)
	require.NoError(t, err)
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&doc))
	hash, err := ir.StateHash(doc)
	require.NoError(t, err)
	assert.Equal(t, hash, v.StateHash)
}

func TestState_Text(t *testing.T) {
	db := ingestChat(t)

	out, _, err := execute(t, nil, "state", "--db", db, "--uri", "room")
	require.NoError(t, err)
	assert.Contains(t, out, "room (seq 2, ")
	assert.Contains(t, out, `"bob": "hi alice"`)
}

func TestState_UnknownURI(t *testing.T) {
	db := ingestChat(t)

	_, _, err := execute(t, nil, "state", "--db", db, "--uri", "nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no state for nowhere")
}

func TestState_UnknownURIJSON(t *testing.T) {
	db := ingestChat(t)

	out, errOut, err := execute(t, nil, "state", "--db", db, "--uri", "nowhere", "--format", "json", "-v")
	require.Error(t, err)
	assert.Contains(t, errOut, "reading state nowhere")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
	assert.Equal(t, "no state for nowhere", resp.Error.Message)
}
