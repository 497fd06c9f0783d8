// Package harness runs rule conformance scenarios against the rcmflow engine.
//
// A scenario is a YAML file naming a rule set, one execution context and a
// list of assertions:
//
//	name: high_value_claim
//	description: Claims over $10k go to senior billing
//	rule_files:
//	  - rules/claims.yaml
//	context:
//	  trigger: on_create
//	  entity_type: claim
//	  entity: {id: CLM-1, totalCharges: 15000}
//	assertions:
//	  - type: rule_outcome
//	    rule: high-value-claim
//	    expect: {triggered: true, conditionsPassed: true}
//
// Each run gets a fresh in-memory store, a fixed clock and sequential ids,
// so the same scenario always produces the same trace. External action
// types are served by recording handlers unless the scenario scripts a
// handler for them.
//
// Traces can be compared against golden files in testdata/golden with
// RunWithGolden; regenerate them with:
//
//	go test ./internal/harness -update
package harness
