package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/txq/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the applied order to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	StateURI string   // State the assertion was checked against
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Applied  []string // Applied order for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s (state_uri=%q)\n", e.Type, e.StateURI)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nApplied order:\n")
	for i, id := range e.Applied {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, id)
	}
	return buf.String()
}

// AssertionContext supplies scenario-level defaults to assertions.
type AssertionContext struct {
	// StateURI is used when an assertion names none.
	StateURI string
	// Seeds were applied before the first delivery.
	Seeds []string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	if actx == nil {
		actx = &AssertionContext{}
	}

	var errs []string
	for i, a := range assertions {
		uri := a.StateURI
		if uri == "" {
			uri = actx.StateURI
		}
		u := result.uri(uri)

		var err error
		switch a.Type {
		case AssertAppliedOrder:
			err = assertIDs(a.Type, uri, u.Applied, a.IDs, u.Applied)
		case AssertPending:
			err = assertIDs(a.Type, uri, u.Pending, a.IDs, u.Applied)
		case AssertMissing:
			err = assertIDs(a.Type, uri, u.Missing, a.IDs, u.Applied)
		case AssertCycle:
			err = assertCycle(uri, u, a.IDs)
		case AssertAppliedBefore:
			err = assertAppliedBefore(uri, u, a)
		case AssertAppliedCount:
			err = assertAppliedCount(uri, u, a)
		case AssertCausalOrder:
			err = assertCausalOrder(uri, u, actx.Seeds)
		case AssertPasses:
			if u.Stats.Passes != a.Count {
				err = &AssertionError{
					Type:     a.Type,
					StateURI: uri,
					Expected: fmt.Sprintf("%d passes", a.Count),
					Actual:   fmt.Sprintf("%d passes", u.Stats.Passes),
					Applied:  u.Applied,
				}
			}
		case AssertFinalState:
			err = assertFinalState(uri, u, a)
		case AssertFault:
			if !strings.Contains(result.Fault, a.Message) || result.Fault == "" {
				err = &AssertionError{
					Type:     a.Type,
					StateURI: uri,
					Expected: fmt.Sprintf("fault containing %q", a.Message),
					Actual:   fmt.Sprintf("fault %q", result.Fault),
					Applied:  u.Applied,
				}
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertIDs checks an exact id list. A nil want means an empty list.
func assertIDs(typ, uri string, got, want, applied []string) error {
	if want == nil {
		want = []string{}
	}
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		StateURI: uri,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Applied:  applied,
	}
}

// assertCycle checks that a parent cycle with the given path was reported.
// An empty path asserts that no cycle was reported.
func assertCycle(uri string, u *URIResult, path []string) error {
	if len(path) == 0 {
		if len(u.Cycles) == 0 {
			return nil
		}
	} else if slices.ContainsFunc(u.Cycles, func(c []string) bool { return slices.Equal(c, path) }) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCycle,
		StateURI: uri,
		Expected: fmt.Sprintf("cycle %v", path),
		Actual:   fmt.Sprintf("cycles %v", u.Cycles),
		Applied:  u.Applied,
	}
}

// assertAppliedBefore checks that ids were applied in the given relative
// order. Other transactions may be applied in between.
func assertAppliedBefore(uri string, u *URIResult, a Assertion) error {
	prevPos := -1
	for i, id := range a.IDs {
		pos := slices.Index(u.Applied, id)
		if pos < 0 {
			return &AssertionError{
				Type:     a.Type,
				StateURI: uri,
				Expected: fmt.Sprintf("all ids applied: %v", a.IDs),
				Actual:   fmt.Sprintf("%s was not applied", id),
				Applied:  u.Applied,
			}
		}
		if pos <= prevPos {
			return &AssertionError{
				Type:     a.Type,
				StateURI: uri,
				Expected: fmt.Sprintf("applied in order: %v", a.IDs),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					a.IDs[i-1], prevPos+1, id, pos+1),
				Applied: u.Applied,
			}
		}
		prevPos = pos
	}
	return nil
}

func assertAppliedCount(uri string, u *URIResult, a Assertion) error {
	count := 0
	for _, id := range u.Applied {
		if id == a.ID {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		StateURI: uri,
		Expected: fmt.Sprintf("%s applied %d times", a.ID, a.Count),
		Actual:   fmt.Sprintf("%s applied %d times", a.ID, count),
		Applied:  u.Applied,
	}
}

// assertCausalOrder checks that every parent of an applied tx was applied
// earlier or seeded.
func assertCausalOrder(uri string, u *URIResult, seeds []string) error {
	seen := make(map[string]bool, len(seeds)+len(u.Applied))
	for _, id := range seeds {
		seen[id] = true
	}
	for _, id := range u.Applied {
		for _, p := range u.parents[id] {
			if !seen[p] {
				return &AssertionError{
					Type:     AssertCausalOrder,
					StateURI: uri,
					Expected: fmt.Sprintf("parent %s applied before %s", p, id),
					Actual:   fmt.Sprintf("%s applied first", id),
					Applied:  u.Applied,
				}
			}
		}
		seen[id] = true
	}
	return nil
}

// assertFinalState checks that the top-level fields in expect are present
// in the state document with equal values. Values are compared by their
// canonical JSON, so YAML integers match decoded json.Numbers.
func assertFinalState(uri string, u *URIResult, a Assertion) error {
	for _, key := range ir.SortedKeys(a.Expect) {
		want := a.Expect[key]
		got, ok := u.State[key]
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				StateURI: uri,
				Expected: fmt.Sprintf("field %q present", key),
				Actual:   "field not found",
				Applied:  u.Applied,
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     a.Type,
				StateURI: uri,
				Expected: fmt.Sprintf("%s = %v", key, want),
				Actual:   fmt.Sprintf("%s = %v", key, got),
				Applied:  u.Applied,
			}
		}
	}
	return nil
}

func stateValuesEqual(want, got any) bool {
	wantJSON, err := ir.MarshalCanonical(normalizeYAML(want))
	if err != nil {
		return false
	}
	gotJSON, err := ir.MarshalCanonical(got)
	if err != nil {
		return false
	}
	return string(wantJSON) == string(gotJSON)
}

// normalizeYAML converts yaml.v3 decoded values into the types canonical
// JSON accepts.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeYAML(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeYAML(elem)
		}
		return out
	case uint64:
		return int64(val)
	default:
		return v
	}
}
