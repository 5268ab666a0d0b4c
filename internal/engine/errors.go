package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while running a panel.
//
// Runtime errors include:
//   - Query failed: the panel query returned an error state
//   - Unknown column: an operation named a column that is not configured
//   - Unknown row: an operation named a row index outside the loaded rows
//   - Stopped: the engine no longer accepts events
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// PanelID identifies the affected panel.
	PanelID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQueryFailed indicates the panel query failed.
	ErrCodeQueryFailed RuntimeErrorCode = "QUERY_FAILED"

	// ErrCodeUnknownColumn indicates a column id is not configured.
	ErrCodeUnknownColumn RuntimeErrorCode = "UNKNOWN_COLUMN"

	// ErrCodeUnknownRow indicates a row index is out of range.
	ErrCodeUnknownRow RuntimeErrorCode = "UNKNOWN_ROW"

	// ErrCodeStopped indicates the engine has been stopped.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.PanelID != "" {
		return fmt.Sprintf("%s: %s (panel=%s)", e.Code, e.Message, e.PanelID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsQueryError returns true if the panel query failed.
// Uses errors.As to handle wrapped errors.
func IsQueryError(err error) bool {
	return hasCode(err, ErrCodeQueryFailed)
}

// IsStoppedError returns true if the engine had been stopped.
func IsStoppedError(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewQueryError creates a RuntimeError for a failed panel query.
func NewQueryError(panelID, message string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQueryFailed,
		Message: message,
		PanelID: panelID,
	}
}

// NewUnknownColumnError creates a RuntimeError for an unconfigured column.
func NewUnknownColumnError(panelID, columnID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownColumn,
		Message: fmt.Sprintf("column %q is not configured", columnID),
		PanelID: panelID,
		Details: map[string]string{"column": columnID},
	}
}

// NewUnknownRowError creates a RuntimeError for a row index out of range.
func NewUnknownRowError(panelID string, index, rows int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownRow,
		Message: fmt.Sprintf("row %d out of range (%d rows)", index, rows),
		PanelID: panelID,
		Details: map[string]string{
			"index": fmt.Sprintf("%d", index),
			"rows":  fmt.Sprintf("%d", rows),
		},
	}
}
