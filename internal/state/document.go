package state

import (
	"log/slog"
)

// Document holds the current state of one state URI and implements the
// resolver's Apply function for it.
//
// Apply must not fail, so a patch that does not parse is skipped and kept in
// Errors. The remaining patches of the same transaction still apply.
type Document struct {
	uri    string
	data   map[string]any
	errors []*PatchError
}

// NewDocument returns a document for uri starting from initial, or from an
// empty object when initial is nil. initial is copied.
func NewDocument(uri string, initial map[string]any) *Document {
	if initial == nil {
		initial = map[string]any{}
	}
	return &Document{
		uri:  uri,
		data: deepCopy(initial).(map[string]any),
	}
}

// Apply applies the patches of one transaction and returns a snapshot of
// the new state. The snapshot is not shared with the document.
func (d *Document) Apply(from, id string, parents, patches []string) map[string]any {
	for i, line := range patches {
		p, err := ParsePatch(line)
		if err != nil {
			perr := &PatchError{TxID: id, Index: i, Patch: line, Err: err}
			d.errors = append(d.errors, perr)
			slog.Warn("skipping patch",
				"state_uri", d.uri,
				"tx", id,
				"from", from,
				"error", perr,
			)
			continue
		}
		d.data = p.set(d.data)
	}
	return d.Snapshot()
}

// Snapshot returns a deep copy of the current state.
func (d *Document) Snapshot() map[string]any {
	return deepCopy(d.data).(map[string]any)
}

// URI returns the state URI the document belongs to.
func (d *Document) URI() string {
	return d.uri
}

// Errors returns the patches skipped so far.
func (d *Document) Errors() []*PatchError {
	return append([]*PatchError(nil), d.errors...)
}
