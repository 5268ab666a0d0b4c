package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/datasource"
	"github.com/roach88/gridsync/internal/engine"
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/notify"
	"github.com/roach88/gridsync/internal/pagination"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/permission"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/variables"
)

// PageOptions holds flags for the page command.
type PageOptions struct {
	*RootOptions
	DBPath    string   // datasource SQLite database
	StorePath string   // filter preference store (optional)
	Vars      []string // name=value variable assignments
	PageIndex int
	PageSize  int
	Login     string
	Role      string
}

// PageResult is the JSON payload of the page command.
type PageResult struct {
	Panel   string             `json:"panel"`
	Columns []string           `json:"columns"`
	Rows    []grid.Row         `json:"rows"`
	Page    pagination.State   `json:"page"`
	Total   int                `json:"total"`
	Exact   bool               `json:"exact"`
	Filters grid.ColumnFilters `json:"filters"`
}

// NewPageCommand creates the page command.
func NewPageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "page <panel>",
		Short: "Run a panel query and print one page",
		Long: `Run the panel query against a SQLite database and print the current page
of filtered rows.

Variables are seeded with --var before the query runs. With --page or
--page-size the panel moves to that page before printing; in query mode
this rewrites the bound page variables and re-runs the query.

Examples:
  gridsync page orders.yaml --db shop.db
  gridsync page orders.yaml --db shop.db --var status=open --page 2
  gridsync page orders.yaml --db shop.db --store prefs.db --user alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPage(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "path to the datasource SQLite database (required)")
	cmd.Flags().StringVar(&opts.StorePath, "store", "", "path to the filter preference store")
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "dashboard variable as name=value (repeatable)")
	cmd.Flags().IntVar(&opts.PageIndex, "page", -1, "zero-based page index to show")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "page size")
	cmd.Flags().StringVar(&opts.Login, "user", "", "user login for saved filter preferences")
	cmd.Flags().StringVar(&opts.Role, "role", string(permission.RoleViewer), "user role (Admin|Editor|Viewer)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runPage(ctx context.Context, opts *PageOptions, panelPath string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := panel.Load(panelPath)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load panel", err)
	}

	if _, err := os.Stat(opts.DBPath); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.DBPath), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.DBPath))
	}
	db, err := datasource.OpenSQLite(opts.DBPath)
	if err != nil {
		_ = formatter.Error(ErrCodeDatasource, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	initial, err := parseVars(opts.Vars)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --var", err)
	}

	engineOpts := []engine.Option{
		engine.WithUser(permission.User{Login: opts.Login, Role: permission.Role(opts.Role)}),
		engine.WithSink(notify.Log{}),
	}
	if opts.StorePath != "" {
		st, err := store.Open(opts.StorePath)
		if err != nil {
			_ = formatter.Error(ErrCodeDatasource, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		defer st.Close()
		engineOpts = append(engineOpts, engine.WithPreferenceStore(st), engine.WithJournal(st))
	}

	eng := engine.New(cfg, datasource.NewSQL(db), variables.NewMemory(initial), engineOpts...)
	defer eng.Stop()

	formatter.VerboseLog("Loading panel %s from %s", cfg.ID, opts.DBPath)
	if err := eng.Load(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load panel", err)
	}
	if err := eng.ProcessPending(ctx); err != nil {
		_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
		return WrapExitError(ExitFailure, "panel query failed", err)
	}

	if opts.PageIndex >= 0 || opts.PageSize > 0 {
		target := eng.Pagination().State()
		if opts.PageIndex >= 0 {
			target.PageIndex = opts.PageIndex
		}
		if opts.PageSize > 0 {
			target.PageSize = opts.PageSize
		}
		if err := eng.SetPage(target); err != nil {
			_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid page", err)
		}
		if err := eng.ProcessPending(ctx); err != nil {
			_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
			return WrapExitError(ExitFailure, "panel query failed", err)
		}
	}

	view := eng.View()
	result := PageResult{
		Panel:   cfg.ID,
		Columns: visibleColumns(cfg),
		Rows:    view.Rows,
		Page:    view.Page,
		Total:   view.Total.N,
		Exact:   view.Total.Kind == pagination.Exact,
		Filters: view.Filters,
	}
	if formatter.Format == "json" {
		return formatter.Success(result, "")
	}
	return writePageText(formatter.Writer, result)
}

// parseVars turns name=value pairs into initial variables. Repeating a
// name makes the variable multi-valued.
func parseVars(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("variable %q must be name=value", pair)
		}
		switch prev := out[name].(type) {
		case nil:
			out[name] = value
		case string:
			out[name] = []string{prev, value}
		case []string:
			out[name] = append(prev, value)
		}
	}
	return out, nil
}

func visibleColumns(cfg *panel.Options) []string {
	cols := make([]string, 0, len(cfg.Columns))
	for _, c := range cfg.Columns {
		if !c.IsAction() {
			cols = append(cols, c.ID)
		}
	}
	return cols
}

func writePageText(w io.Writer, result PageResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			cells[i] = grid.ToString(row[col])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	total := fmt.Sprintf("%d", result.Total)
	if !result.Exact {
		total = "~" + total
	}
	_, err := fmt.Fprintf(w, "\npage %d (size %d), %d row(s) shown, %s total\n",
		result.Page.PageIndex+1, result.Page.PageSize, len(result.Rows), total)
	return err
}
