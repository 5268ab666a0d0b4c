package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/gridsync/internal/grid"
)

// marshalFilters converts filters to canonical JSON TEXT for storage.
func marshalFilters(filters grid.ColumnFilters) (string, error) {
	if filters == nil {
		filters = grid.ColumnFilters{}
	}
	data, err := grid.MarshalCanonical(filters)
	if err != nil {
		return "", fmt.Errorf("marshal filters: %w", err)
	}
	return string(data), nil
}

// unmarshalFilters parses stored filters. Each value is checked against
// its type tag on the way in.
func unmarshalFilters(data string) (grid.ColumnFilters, error) {
	if data == "" || data == "[]" {
		return grid.ColumnFilters{}, nil
	}
	var filters grid.ColumnFilters
	if err := json.Unmarshal([]byte(data), &filters); err != nil {
		return nil, fmt.Errorf("unmarshal filters: %w", err)
	}
	return filters, nil
}

// marshalRow converts a row to canonical JSON TEXT for storage.
func marshalRow(row grid.Row) (string, error) {
	if row == nil {
		row = grid.Row{}
	}
	data, err := grid.MarshalCanonical(row)
	if err != nil {
		return "", fmt.Errorf("marshal row: %w", err)
	}
	return string(data), nil
}

// unmarshalRow parses a stored row. Numbers stay json.Number so large
// integer ids survive intact.
func unmarshalRow(data string) (grid.Row, error) {
	if data == "" || data == "{}" {
		return grid.Row{}, nil
	}
	var row grid.Row
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	return row, nil
}
