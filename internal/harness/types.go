package harness

import (
	"github.com/roach88/txq/internal/resolver"
)

// Trace event types.
const (
	EventApplied = "applied"
	EventPass    = "pass"
)

// TraceEvent is one entry in a scenario trace. Applied events carry ID and
// Seq; pass events carry the pass counters.
type TraceEvent struct {
	Type       string `json:"type"`
	StateURI   string `json:"state_uri"`
	ID         string `json:"id,omitempty"`
	Seq        int64  `json:"seq,omitempty"`
	Pass       int    `json:"pass,omitempty"`
	Applied    int    `json:"applied,omitempty"`
	Duplicates int    `json:"duplicates,omitempty"`
	Pending    int    `json:"pending,omitempty"`
}

// URIResult is the end state of one state URI.
type URIResult struct {
	Applied []string       `json:"applied"`
	Pending []string       `json:"pending"`
	Missing []string       `json:"missing"`
	Cycles  [][]string     `json:"cycles,omitempty"`
	Stats   resolver.Stats `json:"stats"`
	State   map[string]any `json:"state"`

	parents map[string][]string // applied id -> its parents
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds applied and pass events in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// URIs holds the end state per state URI.
	URIs map[string]*URIResult `json:"uris"`

	// Fault is the upstream fault that stopped the run, if any.
	Fault string `json:"fault,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		URIs:   make(map[string]*URIResult),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// uri returns the result for stateURI, creating an empty one if needed.
func (r *Result) uri(stateURI string) *URIResult {
	u, ok := r.URIs[stateURI]
	if !ok {
		u = &URIResult{
			Applied: []string{},
			Pending: []string{},
			Missing: []string{},
			State:   map[string]any{},
			parents: make(map[string][]string),
		}
		r.URIs[stateURI] = u
	}
	return u
}
