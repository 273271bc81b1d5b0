package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	t.Helper()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if stdin != nil {
		cmd.SetIn(bytes.NewReader(stdin))
	}
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// decodeResponse parses a JSON CLIResponse and re-decodes its data into v.
func decodeResponse(t *testing.T, out string, v any) CLIResponse {
	t.Helper()

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if v != nil {
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, v))
	}
	return resp
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const chatFixture = `state_uri: room
genesis: true
deliveries:
  - tx:
      id: b
      parents: [a]
      patches: ['.messages.bob = "hi alice"']
    peer: bob
  - tx:
      id: a
      parents: ["67656e6573697300000000000000000000000000000000000000000000000000"]
      patches: ['.messages.alice = "hi"', '.count = 1']
    leaves: [leaf-1]
    peer: alice
  - tx:
      id: a
      parents: ["67656e6573697300000000000000000000000000000000000000000000000000"]
      patches: ['.messages.alice = "hi"', '.count = 1']
    peer: carol
`

// ingestChat ingests chatFixture into a fresh database and returns its path.
func ingestChat(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "txq.db")
	fx := writeFile(t, dir, "chat.yaml", chatFixture)

	_, _, err := execute(t, nil, "ingest", "--db", db, fx)
	require.NoError(t, err)
	return db
}
