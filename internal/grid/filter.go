package grid

import (
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// FilterType tags the shape of a FilterValue.
type FilterType string

const (
	FilterNone      FilterType = "none"
	FilterSearch    FilterType = "search"
	FilterFaceted   FilterType = "faceted"
	FilterNumber    FilterType = "number"
	FilterTimestamp FilterType = "timestamp"
)

// NumberOperator is the comparison applied by a number filter.
type NumberOperator string

const (
	OpEqual        NumberOperator = "="
	OpNotEqual     NumberOperator = "!="
	OpGreater      NumberOperator = ">"
	OpGreaterEqual NumberOperator = ">="
	OpLess         NumberOperator = "<"
	OpLessEqual    NumberOperator = "<="
	OpBetween      NumberOperator = "between"
)

// ValidNumberOperator reports whether op is a known number operator.
func ValidNumberOperator(op NumberOperator) bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpBetween:
		return true
	}
	return false
}

// TimeRangeRaw keeps the user-entered bounds of a timestamp filter
// (e.g. "now-6h") next to the resolved times.
type TimeRangeRaw struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FilterValue is a tagged union over the filter kinds. Build values with
// the constructors so Type always matches the populated fields.
type FilterValue struct {
	Type FilterType

	// search
	Text          string
	CaseSensitive bool

	// faceted
	Options []string

	// number
	Operator NumberOperator
	Range    [2]float64

	// timestamp, as epoch milliseconds
	From int64
	To   int64
	Raw  TimeRangeRaw
}

// NoFilter is the empty filter.
func NoFilter() FilterValue {
	return FilterValue{Type: FilterNone}
}

// Search matches cells containing text.
func Search(text string, caseSensitive bool) FilterValue {
	return FilterValue{Type: FilterSearch, Text: text, CaseSensitive: caseSensitive}
}

// Faceted matches cells equal to one of options.
func Faceted(options ...string) FilterValue {
	if options == nil {
		options = []string{}
	}
	return FilterValue{Type: FilterFaceted, Options: options}
}

// Number compares numeric cells against a and, for OpBetween, b.
func Number(op NumberOperator, a, b float64) FilterValue {
	return FilterValue{Type: FilterNumber, Operator: op, Range: [2]float64{a, b}}
}

// Timestamp matches cells within [from, to] epoch milliseconds.
func Timestamp(from, to int64, raw TimeRangeRaw) FilterValue {
	return FilterValue{Type: FilterTimestamp, From: from, To: to, Raw: raw}
}

// IsNone reports whether the value filters nothing.
func (v FilterValue) IsNone() bool {
	switch v.Type {
	case "", FilterNone:
		return true
	case FilterSearch:
		return v.Text == ""
	case FilterFaceted:
		return len(v.Options) == 0
	}
	return false
}

// Equal compares two filter values field by field for their kind.
func (v FilterValue) Equal(o FilterValue) bool {
	if v.IsNone() && o.IsNone() {
		return true
	}
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case FilterSearch:
		return v.Text == o.Text && v.CaseSensitive == o.CaseSensitive
	case FilterFaceted:
		return slices.Equal(v.Options, o.Options)
	case FilterNumber:
		return v.Operator == o.Operator && v.Range == o.Range
	case FilterTimestamp:
		return v.From == o.From && v.To == o.To && v.Raw == o.Raw
	}
	return true
}

// wireFilter is the serialized shape: {type, value, ...}.
type wireFilter struct {
	Type          FilterType    `json:"type" yaml:"type"`
	Value         any           `json:"value,omitempty" yaml:"value,omitempty"`
	CaseSensitive bool          `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
	Operator      string        `json:"operator,omitempty" yaml:"operator,omitempty"`
	From          int64         `json:"from,omitempty" yaml:"from,omitempty"`
	To            int64         `json:"to,omitempty" yaml:"to,omitempty"`
	Raw           *TimeRangeRaw `json:"raw,omitempty" yaml:"raw,omitempty"`
}

func (v FilterValue) toWire() wireFilter {
	w := wireFilter{Type: v.Type}
	switch v.Type {
	case "":
		w.Type = FilterNone
	case FilterSearch:
		w.Value = v.Text
		w.CaseSensitive = v.CaseSensitive
	case FilterFaceted:
		w.Value = v.Options
	case FilterNumber:
		w.Value = []float64{v.Range[0], v.Range[1]}
		w.Operator = string(v.Operator)
	case FilterTimestamp:
		w.From = v.From
		w.To = v.To
		raw := v.Raw
		w.Raw = &raw
	}
	return w
}

func fromWire(w wireFilter) (FilterValue, error) {
	switch w.Type {
	case "", FilterNone:
		return NoFilter(), nil
	case FilterSearch:
		text, ok := w.Value.(string)
		if !ok && w.Value != nil {
			return FilterValue{}, fmt.Errorf("search filter value must be a string, got %T", w.Value)
		}
		return Search(text, w.CaseSensitive), nil
	case FilterFaceted:
		switch w.Value.(type) {
		case nil, []any, []string:
		default:
			return FilterValue{}, fmt.Errorf("faceted filter value must be a list, got %T", w.Value)
		}
		return Faceted(ToStrings(w.Value)...), nil
	case FilterNumber:
		op := NumberOperator(w.Operator)
		if !ValidNumberOperator(op) {
			return FilterValue{}, fmt.Errorf("unknown number operator %q", w.Operator)
		}
		var bounds [2]float64
		switch vals := w.Value.(type) {
		case []any:
			for i := 0; i < len(vals) && i < 2; i++ {
				f, ok := ToFloat(vals[i])
				if !ok {
					return FilterValue{}, fmt.Errorf("number filter value[%d] is not a number", i)
				}
				bounds[i] = f
			}
		case []float64:
			copy(bounds[:], vals)
		case nil:
		default:
			return FilterValue{}, fmt.Errorf("number filter value must be a pair, got %T", w.Value)
		}
		return Number(op, bounds[0], bounds[1]), nil
	case FilterTimestamp:
		var raw TimeRangeRaw
		if w.Raw != nil {
			raw = *w.Raw
		}
		return Timestamp(w.From, w.To, raw), nil
	default:
		return FilterValue{}, fmt.Errorf("unknown filter type %q", w.Type)
	}
}

// MarshalJSON writes the {type, value, ...} shape.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toWire())
}

// UnmarshalJSON reads the {type, value, ...} shape and checks it.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	var w wireFilter
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	fv, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = fv
	return nil
}

// UnmarshalYAML reads the {type, value, ...} shape and checks it.
func (v *FilterValue) UnmarshalYAML(node *yaml.Node) error {
	var w wireFilter
	if err := node.Decode(&w); err != nil {
		return err
	}
	fv, err := fromWire(w)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*v = fv
	return nil
}

// canonical returns the value as a plain map for canonical JSON.
func (v FilterValue) canonical() map[string]any {
	w := v.toWire()
	m := map[string]any{"type": string(w.Type)}
	switch v.Type {
	case FilterSearch:
		m["value"] = v.Text
		m["caseSensitive"] = v.CaseSensitive
	case FilterFaceted:
		opts := make([]any, len(v.Options))
		for i, o := range v.Options {
			opts[i] = o
		}
		m["value"] = opts
	case FilterNumber:
		m["operator"] = string(v.Operator)
		m["value"] = []any{v.Range[0], v.Range[1]}
	case FilterTimestamp:
		m["from"] = v.From
		m["to"] = v.To
		m["raw"] = map[string]any{"from": v.Raw.From, "to": v.Raw.To}
	}
	return m
}

// ColumnFilter is the active filter for one column.
type ColumnFilter struct {
	ID    string      `json:"id" yaml:"id"`
	Value FilterValue `json:"value" yaml:"value"`
}

// ColumnFilters is the ordered set of active filters, at most one per
// column id.
type ColumnFilters []ColumnFilter

// Get returns the filter for a column.
func (c ColumnFilters) Get(id string) (FilterValue, bool) {
	for _, f := range c {
		if f.ID == id {
			return f.Value, true
		}
	}
	return FilterValue{}, false
}

// Clone copies the slice and the faceted option lists.
func (c ColumnFilters) Clone() ColumnFilters {
	if c == nil {
		return nil
	}
	out := make(ColumnFilters, len(c))
	for i, f := range c {
		out[i] = f
		if f.Value.Options != nil {
			out[i].Value.Options = slices.Clone(f.Value.Options)
		}
	}
	return out
}

// Equal compares two filter sets in order.
func (c ColumnFilters) Equal(o ColumnFilters) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i].ID != o[i].ID || !c[i].Value.Equal(o[i].Value) {
			return false
		}
	}
	return true
}

// Merge overlays incoming onto c and returns the result. An incoming entry
// replaces the existing entry for its column when the values differ, is
// appended when the column has no entry, and removes the entry when the
// incoming value is empty. Columns absent from incoming are kept as is.
// Merging the same incoming set twice yields the same result.
func (c ColumnFilters) Merge(incoming ColumnFilters) ColumnFilters {
	out := c.Clone()
	if out == nil {
		out = ColumnFilters{}
	}
	for _, in := range incoming {
		idx := slices.IndexFunc(out, func(f ColumnFilter) bool { return f.ID == in.ID })
		switch {
		case in.Value.IsNone():
			if idx >= 0 {
				out = slices.Delete(out, idx, idx+1)
			}
		case idx < 0:
			out = append(out, ColumnFilter{ID: in.ID, Value: in.Value})
		case !out[idx].Value.Equal(in.Value):
			out[idx].Value = in.Value
		}
	}
	return out
}

// Canonical returns the filters as plain values for canonical JSON.
func (c ColumnFilters) Canonical() []any {
	out := make([]any, len(c))
	for i, f := range c {
		out[i] = map[string]any{"id": f.ID, "value": f.Value.canonical()}
	}
	return out
}
