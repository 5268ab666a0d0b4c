// Package grid defines the value types shared by every part of the panel
// core: rows and draft rows, query result frames and field references,
// column filter values, and the canonical JSON encoding used for storage
// and golden traces.
//
// Rows are plain maps from column id to value. Values are whatever the
// datasource produced (string, int64, float64, bool, time.Time, nil, or
// slices of those); helpers in value.go interpret them consistently.
package grid
