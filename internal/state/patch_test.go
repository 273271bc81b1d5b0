package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePatch(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		keypath []string
		value   any
	}{
		{"string", `.name = "alice"`, []string{"name"}, "alice"},
		{"nested", `.profile.age = 30`, []string{"profile", "age"}, json.Number("30")},
		{"object root", `. = {"a":true}`, nil, map[string]any{"a": true}},
		{"array", `.tags = ["x","y"]`, []string{"tags"}, []any{"x", "y"}},
		{"null", `.gone = null`, []string{"gone"}, nil},
		{"trailing space", `.n = 1  `, []string{"n"}, json.Number("1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePatch(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.keypath, p.Keypath)
			assert.Equal(t, tt.value, p.Value)
		})
	}
}

func TestParsePatchErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"no separator", `.name "alice"`, ErrMalformedPatch},
		{"no leading dot", `name = 1`, ErrMalformedPatch},
		{"empty segment", `.a..b = 1`, ErrMalformedPatch},
		{"bad json", `.a = {`, ErrMalformedPatch},
		{"trailing data", `.a = 1 2`, ErrMalformedPatch},
		{"root scalar", `. = 5`, ErrRootNotObject},
		{"float", `.a = 1.5`, ErrNonInteger},
		{"nested exponent", `.a = {"b":[1e3]}`, ErrNonInteger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePatch(tt.line)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPatchString(t *testing.T) {
	p, err := ParsePatch(`.a.b = {"k":"<v>"}`)
	require.NoError(t, err)
	assert.Equal(t, `.a.b = {"k":"<v>"}`, p.String())

	root, err := ParsePatch(`. = {}`)
	require.NoError(t, err)
	assert.Equal(t, `. = {}`, root.String())
}
