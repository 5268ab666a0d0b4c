package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/panel"
)

// ValidationError is one problem found in a panel file.
type ValidationError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <panel>...",
		Short: "Validate panel configurations",
		Long: `Validate data-grid panel configurations written in YAML or CUE.

Each argument is a panel file or a directory searched for .yaml, .yml
and .cue files. Files are parsed strictly (unknown keys are errors) and
checked for consistency: unique column ids, editor types, permission
policies, request configs, pagination bindings and nested object ids.

Exit codes:
  0 - All panels are valid
  1 - One or more panels are invalid
  2 - Command error (missing path, no panel files)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	files, err := findPanelFiles(paths)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to find panels", err)
	}
	if len(files) == 0 {
		_ = formatter.Error(ErrCodeNotFound, "no panel files found", paths)
		return NewExitError(ExitCommandError, "no panel files found")
	}

	result := ValidationResult{Files: len(files)}
	for _, file := range files {
		formatter.VerboseLog("Validating panel: %s", file)
		if _, err := panel.Load(file); err != nil {
			result.Errors = append(result.Errors, toValidationErrors(file, err)...)
		}
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return formatter.Success(result, fmt.Sprintf("✓ %d panel(s) valid", result.Files))
}

// findPanelFiles expands directories into the panel files they contain.
func findPanelFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("path not found: %s", p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPanelFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func isPanelFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".cue":
		return true
	}
	return false
}

// toValidationErrors splits a load error into one entry per problem.
func toValidationErrors(path string, err error) []ValidationError {
	var le *panel.LoadError
	if !errors.As(err, &le) {
		return []ValidationError{{Path: path, Code: ErrCodeGeneric, Message: err.Error()}}
	}

	line := 0
	if le.Pos.IsValid() {
		line = le.Pos.Line()
	}
	var out []ValidationError
	for msg := range strings.SplitSeq(le.Message, "\n") {
		if msg = strings.TrimSpace(msg); msg == "" {
			continue
		}
		out = append(out, ValidationError{Path: path, Code: le.Code, Message: msg, Line: line})
	}
	return out
}

func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeInvalid, fmt.Sprintf("%d validation error(s)", len(result.Errors)), result.Errors)
	} else {
		w := formatter.Writer
		for _, e := range result.Errors {
			if e.Line > 0 {
				fmt.Fprintf(w, "✗ %s:%d: [%s] %s\n", e.Path, e.Line, e.Code, e.Message)
			} else {
				fmt.Fprintf(w, "✗ %s: [%s] %s\n", e.Path, e.Code, e.Message)
			}
		}
		fmt.Fprintf(w, "\n%d validation error(s) in %d panel(s)\n", len(result.Errors), result.Files)
	}
	return NewExitError(ExitFailure, "validation failed")
}
