package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: ok
description: "valid"
state_uri: chat
deliveries:
  - tx: {id: A}
  - tx: {id: B, parents: [A], state_uri: wiki}
assertions:
  - type: applied_order
    ids: [A]
`))
	require.NoError(t, err)

	assert.Equal(t, "ok", s.Name)
	require.Len(t, s.Deliveries, 2)
	assert.Equal(t, "chat", s.Deliveries[0].Tx.StateURI)
	assert.Equal(t, "wiki", s.Deliveries[1].Tx.StateURI)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\ndeliveries: [{tx: {id: A}}]\nassertions: [{type: causal_order}]\n",
			wantErr: "name is required",
		},
		{
			name:    "no deliveries",
			yaml:    "name: n\ndescription: d\nassertions: [{type: causal_order}]\n",
			wantErr: "deliveries list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\ndeliveries: [{tx: {id: A}}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\nflow: []\ndeliveries: [{tx: {id: A}}]\nassertions: [{type: causal_order}]\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "tx without id",
			yaml:    "name: n\ndescription: d\ndeliveries: [{tx: {parents: [A]}}]\nassertions: [{type: causal_order}]\n",
			wantErr: "tx id is required",
		},
		{
			name:    "fault in batch",
			yaml:    "name: n\ndescription: d\nbatch: true\ndeliveries: [{tx: {id: A}, fault: x}]\nassertions: [{type: causal_order}]\n",
			wantErr: "not supported in batch mode",
		},
		{
			name:    "applied_before with one id",
			yaml:    "name: n\ndescription: d\ndeliveries: [{tx: {id: A}}]\nassertions: [{type: applied_before, ids: [A]}]\n",
			wantErr: "at least two ids",
		},
		{
			name:    "final_state without expect",
			yaml:    "name: n\ndescription: d\ndeliveries: [{tx: {id: A}}]\nassertions: [{type: final_state}]\n",
			wantErr: "expect is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\ndeliveries: [{tx: {id: A}}]\nassertions: [{type: nope}]\n",
			wantErr: `unknown assertion type "nope"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDir_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	body := "description: d\ndeliveries: [{tx: {id: A}}]\nassertions: [{type: causal_order}]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("name: b\n"+body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("name: a\n"+body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "a", scenarios[0].Name)
	assert.Equal(t, "b", scenarios[1].Name)
}

func TestLoadDir_ReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: [\n"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}
