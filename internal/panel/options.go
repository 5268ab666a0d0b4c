// Package panel holds the grid panel configuration: columns and their
// editors, filters and permissions, the add/update/delete requests, row
// highlighting, pagination bindings and nested object types.
package panel

import (
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/permission"
)

// ActionColumnID is the synthetic column that holds row action buttons.
// It never carries data.
const ActionColumnID = "__actions"

// DefaultPageSize applies when pagination has no page size configured.
const DefaultPageSize = 10

// EditorType selects the editor widget for a column.
type EditorType string

const (
	EditorString   EditorType = "string"
	EditorNumber   EditorType = "number"
	EditorTextarea EditorType = "textarea"
	EditorBoolean  EditorType = "boolean"
	EditorDatetime EditorType = "datetime"
	EditorSelect   EditorType = "select"
)

var editorTypes = map[EditorType]bool{
	EditorString: true, EditorNumber: true, EditorTextarea: true,
	EditorBoolean: true, EditorDatetime: true, EditorSelect: true,
}

// Editor configures an editor widget. Min is a number for number editors
// and an RFC 3339 time for datetime editors.
type Editor struct {
	Type    EditorType `json:"type" yaml:"type"`
	Min     any        `json:"min,omitempty" yaml:"min,omitempty"`
	Max     any        `json:"max,omitempty" yaml:"max,omitempty"`
	Options []string   `json:"options,omitempty" yaml:"options,omitempty"`
}

// ColumnEdit configures editing of existing rows for a column.
type ColumnEdit struct {
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Editor     Editor            `json:"editor" yaml:"editor"`
	Permission permission.Policy `json:"permission" yaml:"permission"`
}

// NewRowEdit configures the editor used when adding a row.
type NewRowEdit struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Editor  Editor `json:"editor" yaml:"editor"`
}

// FilterMode selects where a column filter is applied.
type FilterMode string

const (
	// FilterModeClient filters the loaded rows locally.
	FilterModeClient FilterMode = "client"
	// FilterModeQuery binds the filter to a dashboard variable consumed by
	// the panel query.
	FilterModeQuery FilterMode = "query"
)

// ColumnFilter configures filtering for a column.
type ColumnFilter struct {
	Enabled       bool                `json:"enabled" yaml:"enabled"`
	Mode          FilterMode          `json:"mode,omitempty" yaml:"mode,omitempty"`
	Type          grid.FilterType     `json:"type,omitempty" yaml:"type,omitempty"`
	Variable      string              `json:"variable,omitempty" yaml:"variable,omitempty"`
	Operator      grid.NumberOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	CaseSensitive bool                `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
}

// Column is one grid column.
type Column struct {
	ID         string       `json:"id" yaml:"id"`
	Label      string       `json:"label,omitempty" yaml:"label,omitempty"`
	Edit       ColumnEdit   `json:"edit" yaml:"edit"`
	NewRowEdit NewRowEdit   `json:"newRowEdit" yaml:"newRowEdit"`
	Filter     ColumnFilter `json:"filter" yaml:"filter"`
	// ObjectID names the nested object type whose ids this column holds.
	ObjectID string `json:"objectId,omitempty" yaml:"objectId,omitempty"`
}

// IsAction reports whether c is the synthetic action column.
func (c Column) IsAction() bool {
	return c.ID == ActionColumnID
}

// VariableFilter reports whether the column filter is driven by a
// dashboard variable.
func (c Column) VariableFilter() bool {
	return c.Filter.Enabled && c.Filter.Mode == FilterModeQuery && c.Filter.Variable != ""
}

// Operation is a row mutation kind.
type Operation string

const (
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// RequestConfig is a datasource request template for one operation.
type RequestConfig struct {
	Datasource     string `json:"datasource" yaml:"datasource"`
	Query          string `json:"query" yaml:"query"`
	SuccessMessage string `json:"successMessage,omitempty" yaml:"successMessage,omitempty"`
}

// RowOperation gates and persists add or delete.
type RowOperation struct {
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Permission permission.Policy `json:"permission" yaml:"permission"`
	Request    *RequestConfig    `json:"request,omitempty" yaml:"request,omitempty"`
}

// RowHighlight highlights rows matching a dashboard variable.
type RowHighlight struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	ColumnID string `json:"columnId,omitempty" yaml:"columnId,omitempty"`
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"`
	// ResetVariable clears Variable after the highlighted row is deleted.
	ResetVariable bool `json:"resetVariable,omitempty" yaml:"resetVariable,omitempty"`
}

// PaginationMode selects who drives paging.
type PaginationMode string

const (
	PaginationClient PaginationMode = "client"
	PaginationQuery  PaginationMode = "query"
)

// Pagination configures paging.
type Pagination struct {
	Enabled           bool                 `json:"enabled" yaml:"enabled"`
	Mode              PaginationMode       `json:"mode,omitempty" yaml:"mode,omitempty"`
	DefaultPageSize   int                  `json:"defaultPageSize,omitempty" yaml:"defaultPageSize,omitempty"`
	PageIndexVariable string               `json:"pageIndexVariable,omitempty" yaml:"pageIndexVariable,omitempty"`
	PageSizeVariable  string               `json:"pageSizeVariable,omitempty" yaml:"pageSizeVariable,omitempty"`
	OffsetVariable    string               `json:"offsetVariable,omitempty" yaml:"offsetVariable,omitempty"`
	TotalCount        *grid.FieldReference `json:"totalCount,omitempty" yaml:"totalCount,omitempty"`
}

// PageSize returns the configured default page size or DefaultPageSize.
func (p Pagination) PageSize() int {
	if p.DefaultPageSize > 0 {
		return p.DefaultPageSize
	}
	return DefaultPageSize
}

// NestedObject is a child record type loaded by id.
type NestedObject struct {
	ID      string        `json:"id" yaml:"id"`
	Request RequestConfig `json:"request" yaml:"request"`
	// IDField names the child field holding the record id. Defaults to "id".
	IDField string `json:"idField,omitempty" yaml:"idField,omitempty"`
}

// KeyField returns IDField or "id".
func (n NestedObject) KeyField() string {
	if n.IDField != "" {
		return n.IDField
	}
	return "id"
}

// Query is the panel's main data query.
type Query struct {
	Datasource string `json:"datasource" yaml:"datasource"`
	RefID      string `json:"refId,omitempty" yaml:"refId,omitempty"`
	Query      string `json:"query" yaml:"query"`
}

// Options is the complete panel configuration.
type Options struct {
	ID             string             `json:"id" yaml:"id"`
	Query          Query              `json:"query" yaml:"query"`
	Columns        []Column           `json:"columns" yaml:"columns"`
	AddRow         RowOperation       `json:"addRow" yaml:"addRow"`
	Update         *RequestConfig     `json:"update,omitempty" yaml:"update,omitempty"`
	DeleteRow      RowOperation       `json:"deleteRow" yaml:"deleteRow"`
	RowHighlight   RowHighlight       `json:"rowHighlight" yaml:"rowHighlight"`
	Pagination     Pagination         `json:"pagination" yaml:"pagination"`
	NestedObjects  []NestedObject     `json:"nestedObjects,omitempty" yaml:"nestedObjects,omitempty"`
	DefaultFilters grid.ColumnFilters `json:"defaultFilters,omitempty" yaml:"defaultFilters,omitempty"`
}

// Request returns the request template for op, or nil when none is
// configured.
func (o *Options) Request(op Operation) *RequestConfig {
	switch op {
	case OpAdd:
		return o.AddRow.Request
	case OpUpdate:
		return o.Update
	case OpDelete:
		return o.DeleteRow.Request
	}
	return nil
}

// Column looks up a column by id.
func (o *Options) Column(id string) (Column, bool) {
	for _, c := range o.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// NestedObject looks up a nested object type by id.
func (o *Options) NestedObject(id string) (NestedObject, bool) {
	for _, n := range o.NestedObjects {
		if n.ID == id {
			return n, true
		}
	}
	return NestedObject{}, false
}
