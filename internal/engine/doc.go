// Package engine runs one grid panel.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Refreshes are processed one at a time in FIFO order so the loaded frames
// always come from the most recently started query.
//
// Event Processing Flow:
//  1. A mutation success, a variable change or Load enqueues an event
//  2. Run (or ProcessPending in tests and the CLI) dequeues it
//  3. The panel query runs through the datasource requester
//  4. Frames are stored and nested objects are loaded for object columns
//  5. A refresh event is published on the bus; the filter synchronizer
//     merges variable-driven filters in response
//
// The engine also wires the three row edit sessions to the mutation
// executor and gates them with the permission evaluator.
//
// Refreshes are stamped with a monotonic logical clock. Wall-clock time is
// only used for new-row datetime defaults.
package engine
