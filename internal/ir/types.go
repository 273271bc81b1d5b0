package ir

// Tx is a causal event in a state URI's transaction log.
//
// Only ID and Parents matter for ordering. Every other field is forwarded
// verbatim to the state-application function.
type Tx struct {
	ID       string   `json:"id" yaml:"id"`
	Parents  []string `json:"parents,omitempty" yaml:"parents,omitempty"`
	From     string   `json:"from,omitempty" yaml:"from,omitempty"`
	StateURI string   `json:"state_uri,omitempty" yaml:"state_uri,omitempty"`
	Patches  []string `json:"patches,omitempty" yaml:"patches,omitempty"`
	Sig      string   `json:"sig,omitempty" yaml:"sig,omitempty"`
}

// Clone returns a copy of tx whose slices do not alias the original.
func (tx Tx) Clone() Tx {
	out := tx
	if tx.Parents != nil {
		out.Parents = append([]string(nil), tx.Parents...)
	}
	if tx.Patches != nil {
		out.Patches = append([]string(nil), tx.Patches...)
	}
	return out
}

// Applied is the durable record of a transaction after it has been applied
// to its state URI.
type Applied struct {
	Seq       int64    `json:"seq"` // Logical clock, never wall time
	Tx        Tx       `json:"tx"`
	Leaves    []string `json:"leaves,omitempty"`
	StateHash string   `json:"state_hash"`
	Session   string   `json:"session,omitempty"`
}
