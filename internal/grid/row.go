package grid

import (
	"fmt"
	"math"
	"strconv"
)

// RowHighlightStateKey marks a row that is highlighted because it matches
// the row-highlight dashboard variable.
const RowHighlightStateKey = "__rowHighlightStateKey"

// Row maps column ids to cell values.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Highlighted reports whether the row carries a truthy highlight marker.
func (r Row) Highlighted() bool {
	return Truthy(r[RowHighlightStateKey])
}

// DraftRow is an uncommitted row held by an edit session.
//
// DraftRow values are replaced, never mutated: With returns a new draft
// whose Original map is a fresh copy.
type DraftRow struct {
	ID       string `json:"id"`
	Index    int    `json:"index"`
	Depth    int    `json:"depth"`
	Original Row    `json:"original"`
}

// With returns a copy of the draft with one column replaced.
func (d DraftRow) With(columnID string, value any) DraftRow {
	next := d.Clone()
	if next.Original == nil {
		next.Original = Row{}
	}
	next.Original[columnID] = value
	return next
}

// Clone returns a copy of the draft that shares no map with d.
func (d DraftRow) Clone() DraftRow {
	return DraftRow{
		ID:       d.ID,
		Index:    d.Index,
		Depth:    d.Depth,
		Original: d.Original.Clone(),
	}
}

// Key is a normalized child-record key. Numeric ids and their string
// spelling map to the same Key, so 1, int64(1), 1.0 and "1" are equal.
type Key string

// KeyOf normalizes v into a Key. Returns false for nil and for values that
// cannot identify a record (maps, slices).
func KeyOf(v any) (Key, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return Key(x), true
	case Key:
		return x, true
	case int:
		return Key(strconv.Itoa(x)), true
	case int32:
		return Key(strconv.FormatInt(int64(x), 10)), true
	case int64:
		return Key(strconv.FormatInt(x, 10)), true
	case uint64:
		return Key(strconv.FormatUint(x, 10)), true
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return Key(strconv.FormatInt(int64(x), 10)), true
		}
		return Key(strconv.FormatFloat(x, 'g', -1, 64)), true
	case bool:
		return Key(strconv.FormatBool(x)), true
	case []any, []string, map[string]any, Row:
		return "", false
	default:
		return Key(fmt.Sprint(x)), true
	}
}
