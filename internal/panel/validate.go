package panel

import (
	"errors"
	"fmt"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/permission"
)

// Validate checks the options for internal consistency and returns every
// problem found, joined.
func (o *Options) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	seen := make(map[string]bool, len(o.Columns))
	for i, c := range o.Columns {
		if c.ID == "" {
			add("columns[%d]: id is required", i)
			continue
		}
		if seen[c.ID] {
			add("columns[%d]: duplicate column id %q", i, c.ID)
		}
		seen[c.ID] = true
		if c.IsAction() {
			continue
		}

		if c.Edit.Enabled {
			if err := validateEditor(c.Edit.Editor); err != nil {
				add("column %q edit: %v", c.ID, err)
			}
			if err := validatePolicy(c.Edit.Permission); err != nil {
				add("column %q edit permission: %v", c.ID, err)
			}
		}
		if c.NewRowEdit.Enabled {
			if err := validateEditor(c.NewRowEdit.Editor); err != nil {
				add("column %q newRowEdit: %v", c.ID, err)
			}
		}
		if c.Filter.Enabled {
			if err := validateFilter(c.Filter); err != nil {
				add("column %q filter: %v", c.ID, err)
			}
		}
	}

	if o.AddRow.Enabled {
		if err := validatePolicy(o.AddRow.Permission); err != nil {
			add("addRow permission: %v", err)
		}
	}
	if o.DeleteRow.Enabled {
		if err := validatePolicy(o.DeleteRow.Permission); err != nil {
			add("deleteRow permission: %v", err)
		}
	}
	for _, op := range []Operation{OpAdd, OpUpdate, OpDelete} {
		if r := o.Request(op); r != nil && r.Query == "" {
			add("%s request: query is required", op)
		}
	}

	switch o.Pagination.Mode {
	case "", PaginationClient, PaginationQuery:
	default:
		add("pagination: unknown mode %q", o.Pagination.Mode)
	}
	if o.Pagination.DefaultPageSize < 0 {
		add("pagination: defaultPageSize must not be negative")
	}

	objects := make(map[string]bool, len(o.NestedObjects))
	for i, n := range o.NestedObjects {
		if n.ID == "" {
			add("nestedObjects[%d]: id is required", i)
			continue
		}
		if objects[n.ID] {
			add("nestedObjects[%d]: duplicate id %q", i, n.ID)
		}
		objects[n.ID] = true
		if n.Request.Query == "" {
			add("nested object %q: request query is required", n.ID)
		}
	}

	for _, f := range o.DefaultFilters {
		if !seen[f.ID] {
			add("defaultFilters: unknown column %q", f.ID)
		}
	}

	return errors.Join(errs...)
}

func validateEditor(e Editor) error {
	if e.Type == "" {
		return fmt.Errorf("editor type is required")
	}
	if !editorTypes[e.Type] {
		return fmt.Errorf("unknown editor type %q", e.Type)
	}
	if e.Min == nil {
		return nil
	}
	switch e.Type {
	case EditorNumber:
		if _, ok := grid.ToFloat(e.Min); !ok {
			return fmt.Errorf("number editor min must be a number")
		}
	case EditorDatetime:
		if _, ok := grid.ToTime(e.Min); !ok {
			return fmt.Errorf("datetime editor min must be an RFC 3339 time")
		}
	}
	return nil
}

func validatePolicy(p permission.Policy) error {
	switch p.Mode {
	case permission.ModeAllowed, permission.ModeUserRole:
		return nil
	case permission.ModeQueryField:
		if p.Field == nil || p.Field.Name == "" {
			return fmt.Errorf("query mode requires a field")
		}
		return nil
	case "":
		return fmt.Errorf("mode is required")
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
}

func validateFilter(f ColumnFilter) error {
	switch f.Mode {
	case "", FilterModeClient:
	case FilterModeQuery:
		if f.Variable == "" {
			return fmt.Errorf("query mode requires a variable")
		}
	default:
		return fmt.Errorf("unknown mode %q", f.Mode)
	}
	switch f.Type {
	case "", grid.FilterSearch, grid.FilterFaceted, grid.FilterNumber, grid.FilterTimestamp:
	default:
		return fmt.Errorf("unknown type %q", f.Type)
	}
	if f.Operator != "" && !grid.ValidNumberOperator(f.Operator) {
		return fmt.Errorf("unknown operator %q", f.Operator)
	}
	return nil
}
