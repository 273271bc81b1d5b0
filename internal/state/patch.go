// Package state is the state-application function txq feeds resolved
// transactions into.
//
// A state document is a JSON object. A patch is one line of the form
//
//	<keypath> = <json value>
//
// where keypath is "." for the whole document or a dotted path such as
// ".profile.name". Setting a path creates missing intermediate objects and
// replaces non-object intermediates.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Patch is a parsed patch line.
type Patch struct {
	Keypath []string // empty for the root
	Value   any
}

// PatchError reports a patch that could not be applied.
type PatchError struct {
	TxID  string
	Index int
	Patch string
	Err   error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("tx %s patch %d %q: %v", e.TxID, e.Index, e.Patch, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

var (
	// ErrMalformedPatch is returned for lines without " = " or with a bad keypath.
	ErrMalformedPatch = errors.New("malformed patch")
	// ErrRootNotObject is returned when "." is assigned a non-object value.
	ErrRootNotObject = errors.New("root value must be an object")
	// ErrNonInteger is returned for fractional or exponent numbers, which
	// canonical JSON cannot hash.
	ErrNonInteger = errors.New("non-integer number")
)

// ParsePatch parses a single patch line. Numbers decode as json.Number so
// documents stay hashable.
func ParsePatch(line string) (Patch, error) {
	path, raw, ok := strings.Cut(line, " = ")
	if !ok {
		return Patch{}, fmt.Errorf("%w: missing \" = \"", ErrMalformedPatch)
	}
	keypath, err := parseKeypath(strings.TrimSpace(path))
	if err != nil {
		return Patch{}, err
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return Patch{}, fmt.Errorf("%w: value: %v", ErrMalformedPatch, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Patch{}, fmt.Errorf("%w: trailing data after value", ErrMalformedPatch)
	}
	if err := checkIntegers(value); err != nil {
		return Patch{}, err
	}
	if len(keypath) == 0 {
		if _, isObject := value.(map[string]any); !isObject {
			return Patch{}, ErrRootNotObject
		}
	}
	return Patch{Keypath: keypath, Value: value}, nil
}

func checkIntegers(v any) error {
	switch val := v.(type) {
	case json.Number:
		if _, err := val.Int64(); err != nil {
			return fmt.Errorf("%w: %s", ErrNonInteger, val)
		}
	case map[string]any:
		for _, elem := range val {
			if err := checkIntegers(elem); err != nil {
				return err
			}
		}
	case []any:
		for _, elem := range val {
			if err := checkIntegers(elem); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseKeypath(path string) ([]string, error) {
	if !strings.HasPrefix(path, ".") {
		return nil, fmt.Errorf("%w: keypath %q must start with \".\"", ErrMalformedPatch, path)
	}
	if path == "." {
		return nil, nil
	}
	parts := strings.Split(path[1:], ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment in keypath %q", ErrMalformedPatch, path)
		}
	}
	return parts, nil
}

// String renders the patch back into its line form.
func (p Patch) String() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(p.Value)
	return "." + strings.Join(p.Keypath, ".") + " = " + strings.TrimSpace(buf.String())
}

// set applies p to doc in place and returns the resulting document.
func (p Patch) set(doc map[string]any) map[string]any {
	if len(p.Keypath) == 0 {
		return deepCopy(p.Value).(map[string]any)
	}
	node := doc
	for _, key := range p.Keypath[:len(p.Keypath)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[key] = child
		}
		node = child
	}
	node[p.Keypath[len(p.Keypath)-1]] = deepCopy(p.Value)
	return doc
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = deepCopy(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = deepCopy(elem)
		}
		return out
	default:
		return v
	}
}
