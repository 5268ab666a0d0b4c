package grid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FieldType classifies the values of a field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeTime    FieldType = "time"
	FieldTypeOther   FieldType = "other"
)

// Field is one column of a query result.
type Field struct {
	Name   string    `json:"name"`
	Type   FieldType `json:"type,omitempty"`
	Values []any     `json:"values"`
}

// Last returns the last value of the field.
func (f Field) Last() (any, bool) {
	if len(f.Values) == 0 {
		return nil, false
	}
	return f.Values[len(f.Values)-1], true
}

// Frame is one result set returned by a datasource request.
type Frame struct {
	RefID  string  `json:"refId,omitempty"`
	Fields []Field `json:"fields"`
}

// Len returns the number of rows in the frame.
func (f Frame) Len() int {
	n := 0
	for _, fld := range f.Fields {
		if len(fld.Values) > n {
			n = len(fld.Values)
		}
	}
	return n
}

// Field looks up a field by name.
func (f Frame) Field(name string) (Field, bool) {
	for _, fld := range f.Fields {
		if fld.Name == name {
			return fld, true
		}
	}
	return Field{}, false
}

// Rows converts the column-oriented frame into rows.
func (f Frame) Rows() []Row {
	n := f.Len()
	rows := make([]Row, n)
	for i := range rows {
		row := make(Row, len(f.Fields))
		for _, fld := range f.Fields {
			if i < len(fld.Values) {
				row[fld.Name] = fld.Values[i]
			} else {
				row[fld.Name] = nil
			}
		}
		rows[i] = row
	}
	return rows
}

// FrameFromRows builds a frame from rows. Field order follows the sorted
// union of row keys so the result is deterministic.
func FrameFromRows(refID string, rows []Row) Frame {
	seen := map[string]bool{}
	var names []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	slices.Sort(names)

	frame := Frame{RefID: refID, Fields: make([]Field, len(names))}
	for i, name := range names {
		values := make([]any, len(rows))
		for j, r := range rows {
			values[j] = r[name]
		}
		frame.Fields[i] = Field{Name: name, Values: values}
	}
	return frame
}

// FieldSource identifies a result set either by its query RefID or by its
// position in the result list.
type FieldSource struct {
	RefID      string
	Index      int
	positional bool
}

// SourceRefID selects the frame whose RefID equals id.
func SourceRefID(id string) FieldSource {
	return FieldSource{RefID: id}
}

// SourceIndex selects the frame at position i.
func SourceIndex(i int) FieldSource {
	return FieldSource{Index: i, positional: true}
}

// Positional reports whether the source is a frame index.
func (s FieldSource) Positional() bool {
	return s.positional
}

func (s FieldSource) matches(i int, f Frame) bool {
	if s.positional {
		return s.Index == i
	}
	// An empty source searches every frame.
	return s.RefID == "" || s.RefID == f.RefID
}

// String renders the source the way it is written in configuration.
func (s FieldSource) String() string {
	if s.positional {
		return strconv.Itoa(s.Index)
	}
	return s.RefID
}

// MarshalJSON writes a number for positional sources and a string otherwise.
func (s FieldSource) MarshalJSON() ([]byte, error) {
	if s.positional {
		return []byte(strconv.Itoa(s.Index)), nil
	}
	return json.Marshal(s.RefID)
}

// UnmarshalJSON accepts a string RefID or a numeric index.
func (s *FieldSource) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*s = SourceRefID(id)
		return nil
	}
	var idx int
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("field source must be a string or an integer: %w", err)
	}
	*s = SourceIndex(idx)
	return nil
}

// UnmarshalYAML accepts a string RefID or an integer index.
func (s *FieldSource) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: field source must be a scalar", node.Line)
	}
	if node.Tag == "!!int" {
		idx, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*s = SourceIndex(idx)
		return nil
	}
	*s = SourceRefID(node.Value)
	return nil
}

// FieldReference names a field inside a particular result set.
type FieldReference struct {
	Source FieldSource `json:"source" yaml:"source"`
	Name   string      `json:"name" yaml:"name"`
}

// FindField locates ref across frames: the source selects candidate frames,
// then the field is matched by name. The first match wins.
func FindField(frames []Frame, ref FieldReference) (Field, bool) {
	if ref.Name == "" {
		return Field{}, false
	}
	for i, f := range frames {
		if !ref.Source.matches(i, f) {
			continue
		}
		if fld, ok := f.Field(ref.Name); ok {
			return fld, true
		}
	}
	return Field{}, false
}
