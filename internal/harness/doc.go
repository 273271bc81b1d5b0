// Package harness runs recorded delivery scenarios through the causal
// resolver and checks what was applied.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: reverse_arrival
//	description: "Each transaction arrives before its parent"
//	state_uri: chat        # default for deliveries that name none
//	genesis: false         # seed ir.GenesisTxID as applied
//	batch: false           # hand every delivery to the resolver at once
//	deliveries:
//	  - tx: {id: C, parents: [B]}
//	  - tx: {id: B, parents: [A]}
//	  - tx: {id: A}
//	assertions:
//	  - type: applied_order
//	    ids: [A, B, C]
//	  - type: passes
//	    count: 3
//
// The deliveries section has the same shape as a fixture file (see package
// fixture), so a recorded fixture can be turned into a scenario by adding a
// name, description and assertions.
//
// # Assertion Types
//
//   - applied_order: the applied ids, in order, equal ids exactly
//   - applied_before: ids were applied in this relative order
//   - applied_count: id was applied exactly count times
//   - causal_order: every applied tx came after all of its parents
//   - pending: the ids still waiting, in arrival order
//   - missing: the parent ids nothing has supplied
//   - passes: the number of productive resolution passes
//   - final_state: the state document contains the expect fields
//   - fault: an upstream fault stopped the run with message
//
// All but fault take an optional state_uri, defaulting to the scenario's.
//
// # Deterministic Testing
//
// The harness runs without goroutines or a database: one resolver and one
// state document per state URI, and a logical clock for seq numbers. The
// same scenario always yields the same trace, so traces can be compared
// with golden files (RunWithGolden).
package harness
