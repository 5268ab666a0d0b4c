// Package mutation performs row add, update and delete requests against a
// datasource and decides what happens afterwards: a success notification
// and then either a full dashboard refresh or, for deleting a highlighted
// row, a reset of the highlight variable.
package mutation

import (
	"context"
	"log/slog"

	"github.com/roach88/gridsync/internal/datasource"
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/ids"
	"github.com/roach88/gridsync/internal/notify"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/variables"
)

// Refresher re-runs the host query.
type Refresher interface {
	Refresh()
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func()

// Refresh calls f.
func (f RefresherFunc) Refresh() { f() }

// Journal records executed mutations.
type Journal interface {
	AppendMutation(ctx context.Context, rec store.MutationRecord) (int64, error)
}

// Default success messages.
var defaultMessages = map[panel.Operation]string{
	panel.OpAdd:    "Row added",
	panel.OpUpdate: "Row updated",
	panel.OpDelete: "Row deleted",
}

// Executor runs mutations for one panel.
//
// Execute never retries. Every failure is reported to the sink and
// returned as *Error so a caller can keep its draft open.
type Executor struct {
	options   *panel.Options
	requester datasource.Requester
	vars      variables.Store
	refresher Refresher
	sink      notify.Sink
	journal   Journal
	ids       ids.Generator
}

// Option configures an Executor.
type Option func(*Executor)

// WithJournal records every executed mutation in j.
func WithJournal(j Journal) Option {
	return func(e *Executor) {
		e.journal = j
	}
}

// WithIDs sets the generator for journal entry ids.
// Default: ids.UUIDv7.
func WithIDs(g ids.Generator) Option {
	return func(e *Executor) {
		e.ids = g
	}
}

// New creates an executor. A nil sink logs notifications.
func New(
	opts *panel.Options,
	requester datasource.Requester,
	vars variables.Store,
	refresher Refresher,
	sink notify.Sink,
	options ...Option,
) *Executor {
	if sink == nil {
		sink = notify.Log{}
	}
	e := &Executor{
		options:   opts,
		requester: requester,
		vars:      vars,
		refresher: refresher,
		sink:      sink,
		ids:       ids.UUIDv7{},
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Execute performs op with row as the request payload.
// Returns nil without doing anything when op has no request configured.
func (e *Executor) Execute(ctx context.Context, op panel.Operation, row grid.Row) (err error) {
	cfg := e.options.Request(op)
	if cfg == nil {
		slog.Debug("mutation skipped: no request configured", "panel", e.options.ID, "op", op)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = e.fail(ctx, op, row, &PanicError{Value: r})
		}
	}()

	resp, reqErr := e.requester.Request(ctx, datasource.Request{
		Datasource:       cfg.Datasource,
		Query:            cfg.Query,
		Payload:          map[string]any(row.Clone()),
		ReplaceVariables: e.interpolate,
	})
	if reqErr != nil {
		return e.fail(ctx, op, row, reqErr)
	}
	if resp.Failed() {
		return e.fail(ctx, op, row, resp.Err())
	}

	e.succeed(ctx, op, cfg, row)
	return nil
}

func (e *Executor) interpolate(text string) string {
	return variables.Interpolate(e.vars, text)
}

func (e *Executor) succeed(ctx context.Context, op panel.Operation, cfg *panel.RequestConfig, row grid.Row) {
	message := defaultMessages[op]
	if cfg.SuccessMessage != "" {
		message = e.interpolate(cfg.SuccessMessage)
	}
	e.sink.Success(message)
	e.record(ctx, op, row, store.OutcomeSuccess, "")

	slog.Info("mutation succeeded", "panel", e.options.ID, "op", op)

	hl := e.options.RowHighlight
	if op == panel.OpDelete && row.Highlighted() && hl.ResetVariable && hl.Variable != "" {
		// The variable change drives the refresh chain itself.
		slog.Debug("resetting highlight variable", "variable", hl.Variable)
		e.vars.Partial(map[string]any{variables.URLKey(hl.Variable): ""}, true)
		return
	}
	e.refresher.Refresh()
}

func (e *Executor) fail(ctx context.Context, op panel.Operation, row grid.Row, cause error) error {
	merr := &Error{Op: op, Message: Message(cause), Err: cause}
	slog.Error("mutation failed", "panel", e.options.ID, "op", op, "error", merr.Message)
	e.sink.Error(merr.Error())
	e.record(ctx, op, row, store.OutcomeError, merr.Error())
	return merr
}

func (e *Executor) record(ctx context.Context, op panel.Operation, row grid.Row, outcome, message string) {
	if e.journal == nil {
		return
	}
	rec := store.MutationRecord{
		ID:      e.ids.Generate(),
		PanelID: e.options.ID,
		Op:      string(op),
		Row:     row,
		Outcome: outcome,
		Message: message,
	}
	if _, err := e.journal.AppendMutation(ctx, rec); err != nil {
		slog.Warn("journal append failed", "panel", e.options.ID, "op", op, "error", err)
	}
}
