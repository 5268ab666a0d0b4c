package filter

import (
	"strings"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/variables"
)

// VariableFilters derives a filter for every column bound to a dashboard
// variable. Unknown variables contribute nothing; a variable whose value
// is empty yields the empty filter, which clears that column on merge.
func VariableFilters(vars variables.Store, columns []panel.Column) grid.ColumnFilters {
	var out grid.ColumnFilters
	for _, c := range columns {
		if !c.VariableFilter() {
			continue
		}
		value, ok := variables.Lookup(vars, c.Filter.Variable)
		if !ok {
			continue
		}
		out = append(out, grid.ColumnFilter{ID: c.ID, Value: FromVariable(c.Filter, value)})
	}
	return out
}

// FromVariable converts a variable value into the filter kind configured
// for the column. Values that cannot be converted yield the empty filter.
func FromVariable(cfg panel.ColumnFilter, value any) grid.FilterValue {
	switch cfg.Type {
	case grid.FilterFaceted:
		return grid.Faceted(nonEmpty(grid.ToStrings(value))...)

	case grid.FilterNumber:
		op := cfg.Operator
		if op == "" {
			op = grid.OpEqual
		}
		nums := numbers(value)
		switch {
		case len(nums) == 0:
			return grid.NoFilter()
		case op == grid.OpBetween && len(nums) >= 2:
			return grid.Number(op, nums[0], nums[1])
		case op == grid.OpBetween:
			return grid.Number(op, nums[0], nums[0])
		default:
			return grid.Number(op, nums[0], 0)
		}

	case grid.FilterTimestamp:
		vals := nonEmpty(grid.ToStrings(value))
		if len(vals) < 2 {
			return grid.NoFilter()
		}
		from, ok1 := grid.ToTime(vals[0])
		to, ok2 := grid.ToTime(vals[1])
		if !ok1 || !ok2 {
			return grid.NoFilter()
		}
		return grid.Timestamp(from.UnixMilli(), to.UnixMilli(), grid.TimeRangeRaw{From: vals[0], To: vals[1]})

	default:
		vals := nonEmpty(grid.ToStrings(value))
		if len(vals) == 0 {
			return grid.NoFilter()
		}
		return grid.Search(vals[0], cfg.CaseSensitive)
	}
}

func nonEmpty(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func numbers(value any) []float64 {
	var out []float64
	for _, s := range nonEmpty(grid.ToStrings(value)) {
		if f, ok := grid.ToFloat(s); ok {
			out = append(out, f)
		}
	}
	return out
}
