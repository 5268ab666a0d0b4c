// Package permission decides whether a user may add, edit or delete rows.
//
// Evaluate is pure: it reads a Policy and a Context and never fails. A
// missing or incomplete policy denies.
package permission

import (
	"slices"

	"github.com/roach88/gridsync/internal/grid"
)

// Mode selects how a policy is evaluated.
type Mode string

const (
	// ModeAllowed permits everyone.
	ModeAllowed Mode = "allowed"
	// ModeUserRole permits users whose role is listed.
	ModeUserRole Mode = "userRole"
	// ModeQueryField permits when the last value of a query field is truthy.
	ModeQueryField Mode = "query"
)

// Role is a dashboard organization role.
type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleEditor Role = "Editor"
	RoleViewer Role = "Viewer"
)

// Policy is the permission configuration for one operation.
type Policy struct {
	Mode      Mode                 `json:"mode" yaml:"mode"`
	UserRoles []Role               `json:"userRole,omitempty" yaml:"userRole,omitempty"`
	Field     *grid.FieldReference `json:"field,omitempty" yaml:"field,omitempty"`
}

// User is the current dashboard user.
type User struct {
	Login string `json:"login,omitempty" yaml:"login,omitempty"`
	Role  Role   `json:"role" yaml:"role"`
}

// Context is what a policy is evaluated against. Frames holds every loaded
// result set. Row is set for row-level checks; a query-field policy with no
// source reads the field from that row when the row carries it.
type Context struct {
	User   User
	Frames []grid.Frame
	Row    grid.Row
}

// Evaluate reports whether policy permits the operation in ctx.
func Evaluate(policy Policy, ctx Context) bool {
	switch policy.Mode {
	case ModeAllowed:
		return true
	case ModeUserRole:
		return slices.Contains(policy.UserRoles, ctx.User.Role)
	case ModeQueryField:
		return evaluateField(policy.Field, ctx)
	default:
		return false
	}
}

// evaluateField implements last-value-wins: fields are often reduced
// upstream, so the final value is the authoritative one.
func evaluateField(ref *grid.FieldReference, ctx Context) bool {
	if ref == nil || ref.Name == "" {
		return false
	}
	if ref.Source == (grid.FieldSource{}) {
		if v, ok := ctx.Row[ref.Name]; ok {
			return grid.Truthy(v)
		}
	}
	field, ok := grid.FindField(ctx.Frames, *ref)
	if !ok {
		return false
	}
	last, ok := field.Last()
	return ok && grid.Truthy(last)
}

// ForUser builds a table-level context.
func ForUser(user User, frames []grid.Frame) Context {
	return Context{User: user, Frames: frames}
}

// ForRow builds a row-level context. Frames back policies whose field
// lives outside the row.
func ForRow(user User, row grid.Row, frames []grid.Frame) Context {
	return Context{User: user, Row: row, Frames: frames}
}
