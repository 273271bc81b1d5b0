// Package fixture loads recorded delivery sequences from YAML, JSON or CUE
// files.
//
// All three formats share one shape:
//
//	state_uri: chat.local/room   # default for txs that name none
//	genesis: true                # seed ir.GenesisTxID as applied
//	deliveries:
//	  - tx: {id: a, parents: [...], patches: [".x = 1"]}
//	    leaves: [l1]
//	    peer: alice
//	  - tx: {id: b}
//	    fault: "connection reset"
//
// CUE files are unified with an embedded schema before decoding, so they
// may use CUE's own constraints and references.
package fixture

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/txq/internal/ir"
)

//go:embed schema.cue
var schemaSrc string

// ErrUnsupportedFormat is returned for files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported fixture format")

// Delivery is one recorded delivery.
type Delivery struct {
	Tx     ir.Tx    `json:"tx" yaml:"tx"`
	Leaves []string `json:"leaves,omitempty" yaml:"leaves,omitempty"`
	Peer   string   `json:"peer,omitempty" yaml:"peer,omitempty"`
	Fault  string   `json:"fault,omitempty" yaml:"fault,omitempty"`
}

// Err returns the simulated upstream error, or nil.
func (d Delivery) Err() error {
	if d.Fault == "" {
		return nil
	}
	return errors.New(d.Fault)
}

// File is a decoded fixture.
type File struct {
	StateURI   string     `json:"state_uri,omitempty" yaml:"state_uri,omitempty"`
	Genesis    bool       `json:"genesis,omitempty" yaml:"genesis,omitempty"`
	Deliveries []Delivery `json:"deliveries" yaml:"deliveries"`
}

// Seeds returns the ids to mark applied before the first delivery.
func (f *File) Seeds() []string {
	if f.Genesis {
		return []string{ir.GenesisTxID}
	}
	return nil
}

// Load reads and decodes the fixture at path, choosing the format from the
// file extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes data using the format implied by name's extension.
func Parse(name string, data []byte) (*File, error) {
	var (
		f   *File
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		f, err = parseYAML(data)
	case ".json":
		f, err = parseJSON(data)
	case ".cue":
		f, err = parseCUE(name, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := f.Normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

func parseYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &f, nil
}

func parseJSON(data []byte) (*File, error) {
	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return &f, nil
}

func parseCUE(name string, data []byte) (*File, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	fileDef := schema.LookupPath(cue.ParsePath("#File"))

	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile CUE: %w", err)
	}

	unified := fileDef.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate CUE: %w", err)
	}

	var f File
	if err := unified.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode CUE: %w", err)
	}
	return &f, nil
}

// Normalize fills in the default state URI and checks what the YAML and
// JSON decoders cannot.
func (f *File) Normalize() error {
	for i := range f.Deliveries {
		d := &f.Deliveries[i]
		if d.Tx.ID == "" {
			return fmt.Errorf("delivery %d: tx id is required", i)
		}
		if d.Tx.StateURI == "" {
			d.Tx.StateURI = f.StateURI
		}
	}
	return nil
}
