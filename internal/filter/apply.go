package filter

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/panel"
)

// Apply returns the rows matching every client-mode filter. Filters on
// query-mode columns are skipped: the panel query already applied them.
// The input slice is not modified.
func Apply(rows []grid.Row, filters grid.ColumnFilters, columns []panel.Column) []grid.Row {
	active := make(grid.ColumnFilters, 0, len(filters))
	for _, f := range filters {
		if f.Value.IsNone() {
			continue
		}
		if c, ok := findColumn(columns, f.ID); ok && c.Filter.Mode == panel.FilterModeQuery {
			continue
		}
		active = append(active, f)
	}
	if len(active) == 0 {
		return rows
	}

	fold := cases.Fold()
	out := make([]grid.Row, 0, len(rows))
	for _, row := range rows {
		if matchesAll(fold, row, active) {
			out = append(out, row)
		}
	}
	return out
}

func findColumn(columns []panel.Column, id string) (panel.Column, bool) {
	for _, c := range columns {
		if c.ID == id {
			return c, true
		}
	}
	return panel.Column{}, false
}

func matchesAll(fold cases.Caser, row grid.Row, filters grid.ColumnFilters) bool {
	for _, f := range filters {
		if !Match(fold, row[f.ID], f.Value) {
			return false
		}
	}
	return true
}

// Match reports whether a cell value passes a filter. fold is used for
// case-insensitive search.
func Match(fold cases.Caser, cell any, v grid.FilterValue) bool {
	switch v.Type {
	case grid.FilterSearch:
		text := grid.ToString(cell)
		if v.CaseSensitive {
			return strings.Contains(text, v.Text)
		}
		return strings.Contains(fold.String(text), fold.String(v.Text))

	case grid.FilterFaceted:
		for _, s := range grid.ToStrings(cell) {
			if slices.Contains(v.Options, s) {
				return true
			}
		}
		return false

	case grid.FilterNumber:
		n, ok := grid.ToFloat(cell)
		if !ok {
			return false
		}
		return compare(n, v.Operator, v.Range)

	case grid.FilterTimestamp:
		t, ok := grid.ToTime(cell)
		if !ok {
			return false
		}
		ms := t.UnixMilli()
		return ms >= v.From && ms <= v.To

	default:
		return true
	}
}

func compare(n float64, op grid.NumberOperator, r [2]float64) bool {
	switch op {
	case grid.OpEqual:
		return n == r[0]
	case grid.OpNotEqual:
		return n != r[0]
	case grid.OpGreater:
		return n > r[0]
	case grid.OpGreaterEqual:
		return n >= r[0]
	case grid.OpLess:
		return n < r[0]
	case grid.OpLessEqual:
		return n <= r[0]
	case grid.OpBetween:
		lo, hi := min(r[0], r[1]), max(r[0], r[1])
		return n >= lo && n <= hi
	default:
		return false
	}
}
