// Package harness provides scenario testing for data-grid panels.
//
// The harness loads a panel configuration, seeds an in-memory SQLite
// datasource, drives the panel through user and host steps, and validates
// the observed trace, database state and rendered view.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	panel: ../panels/orders.yaml
//	user: { login: alice, role: Editor }
//	setup:
//	  - CREATE TABLE orders (id INTEGER PRIMARY KEY, name TEXT)
//	variables: { status: open }
//	failures:
//	  - match: "DELETE FROM"
//	    message: "database is locked"
//	steps:
//	  - do: load
//	  - do: add
//	    values: { name: "Widget" }
//	  - do: delete
//	    row: 0
//	    expect_error: "database is locked"
//	assertions:
//	  - type: trace_contains
//	    event: request
//	    fields: { query: "INSERT INTO orders (name) VALUES (:name)" }
//	  - type: final_state
//	    table: orders
//	    where: { name: "Widget" }
//	    expect: { name: "Widget" }
//	  - type: view
//	    count: 2
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: an event of a kind appears with matching fields
//   - trace_order: event kinds appear in the specified order
//   - trace_count: an event kind appears exactly N times
//   - final_state: queries a datasource or store table and verifies values
//   - notification: a success or error message was shown
//   - view: the rendered page has N rows and, optionally, a total
//
// # Deterministic Testing
//
// Every scenario runs with a step clock starting at 2024-01-01T00:00:00Z,
// sequential row ids ("row-1", "row-2", ...) and fresh in-memory
// databases, so traces are identical across runs and can be compared
// against golden snapshots.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/add_row.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
