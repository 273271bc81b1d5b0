package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txq/internal/fixture"
)

// Scenario is a delivery sequence plus what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Batch hands all deliveries of a state URI to the resolver in one
	// call instead of one call per delivery.
	Batch bool `yaml:"batch,omitempty"`

	fixture.File `yaml:",inline"`

	// Assertions validate the trace and end state.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one aspect of a run.
type Assertion struct {
	Type     string         `yaml:"type"`
	StateURI string         `yaml:"state_uri,omitempty"`
	ID       string         `yaml:"id,omitempty"`
	IDs      []string       `yaml:"ids,omitempty"`
	Count    int            `yaml:"count,omitempty"`
	Expect   map[string]any `yaml:"expect,omitempty"`
	Message  string         `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertAppliedOrder  = "applied_order"
	AssertAppliedBefore = "applied_before"
	AssertAppliedCount  = "applied_count"
	AssertCausalOrder   = "causal_order"
	AssertPending       = "pending"
	AssertMissing       = "missing"
	AssertCycle         = "cycle"
	AssertPasses        = "passes"
	AssertFinalState    = "final_state"
	AssertFault         = "fault"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := scenario.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Deliveries) == 0 {
		return fmt.Errorf("deliveries list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Batch {
		for i, d := range s.Deliveries {
			if d.Fault != "" {
				return fmt.Errorf("deliveries[%d]: faults are not supported in batch mode", i)
			}
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertAppliedOrder, AssertPending, AssertMissing:
		// An empty ids list asserts that nothing matched.
	case AssertCycle:
		if len(a.IDs) == 1 {
			return fmt.Errorf("assertions[%d]: a cycle path starts and ends on the same id", index)
		}
	case AssertAppliedBefore:
		if len(a.IDs) < 2 {
			return fmt.Errorf("assertions[%d]: applied_before needs at least two ids", index)
		}
	case AssertAppliedCount:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for applied_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for applied_count", index)
		}
	case AssertPasses:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for passes", index)
		}
	case AssertCausalOrder:
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertFault:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for fault", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
