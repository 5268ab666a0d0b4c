package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/gridsync/internal/datasource"
	"github.com/roach88/gridsync/internal/filter"
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/ids"
	"github.com/roach88/gridsync/internal/mutation"
	"github.com/roach88/gridsync/internal/nested"
	"github.com/roach88/gridsync/internal/notify"
	"github.com/roach88/gridsync/internal/pagination"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/permission"
	"github.com/roach88/gridsync/internal/session"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/variables"
)

// ErrNotPermitted is returned when the current user may not start an
// operation.
var ErrNotPermitted = errors.New("engine: operation not permitted")

// changeNotifier is implemented by variable stores that report writes,
// such as *variables.Memory.
type changeNotifier interface {
	OnChange(fn func(variables.Update)) func()
}

// Engine is the single-writer runtime of one grid panel.
//
// The engine owns the loaded frames. Refreshes run in FIFO order on the
// goroutine that drives the queue, either Run or ProcessPending. After
// each refresh it publishes the refresh event that reconciles filters.
//
// Thread-safety model:
//   - Refresh(), Enqueue(): safe from any goroutine
//   - Run(), ProcessPending(): drive the queue from exactly one goroutine
//   - read accessors and session helpers: safe from any goroutine
type Engine struct {
	options   *panel.Options
	requester datasource.Requester
	vars      variables.Store
	bus       *variables.Bus
	sink      notify.Sink
	user      permission.User
	journal   mutation.Journal
	prefs     filter.PreferenceStore
	idGen     ids.Generator
	now       func() time.Time
	clock     *Clock
	queue     *eventQueue
	maxEvents int

	executor *mutation.Executor
	add      *session.Session
	edit     *session.Session
	del      *session.Session
	filters  *filter.Synchronizer
	pages    *pagination.Controller
	nested   *nested.Resolver

	stopVars func()

	mu       sync.RWMutex
	frames   []grid.Frame
	rows     []grid.Row
	queryErr error
}

// Option configures an Engine.
type Option func(*Engine)

// WithUser sets the dashboard user permissions are evaluated for.
func WithUser(u permission.User) Option {
	return func(e *Engine) {
		e.user = u
	}
}

// WithSink sets where user-facing notifications go.
// Default: notify.Log.
func WithSink(s notify.Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithBus publishes refresh events on b instead of a private bus.
func WithBus(b *variables.Bus) Option {
	return func(e *Engine) {
		e.bus = b
	}
}

// WithJournal records every executed mutation.
func WithJournal(j mutation.Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithPreferenceStore persists the user's manual filters.
func WithPreferenceStore(p filter.PreferenceStore) Option {
	return func(e *Engine) {
		e.prefs = p
	}
}

// WithIDs sets the generator for draft and journal ids.
// Default: ids.UUIDv7.
func WithIDs(g ids.Generator) Option {
	return func(e *Engine) {
		e.idGen = g
	}
}

// WithNow sets the time source for new-row datetime defaults.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMaxEvents sets the event quota per burst. See Quota.
func WithMaxEvents(n int) Option {
	return func(e *Engine) {
		e.maxEvents = n
	}
}

// WithClock sets the logical clock stamping refreshes.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates the runtime for one panel. Nothing is requested until Load
// or Refresh enqueues an event and the queue is driven.
func New(
	opts *panel.Options,
	requester datasource.Requester,
	vars variables.Store,
	options ...Option,
) *Engine {
	e := &Engine{
		options:   opts,
		requester: requester,
		vars:      vars,
		sink:      notify.Log{},
		idGen:     ids.UUIDv7{},
		now:       time.Now,
		clock:     NewClock(),
		queue:     newEventQueue(),
		maxEvents: DefaultMaxEvents,
		rows:      []grid.Row{},
	}
	for _, opt := range options {
		opt(e)
	}
	if e.bus == nil {
		e.bus = variables.NewBus()
	}

	var mopts []mutation.Option
	mopts = append(mopts, mutation.WithIDs(e.idGen))
	if e.journal != nil {
		mopts = append(mopts, mutation.WithJournal(e.journal))
	}
	e.executor = mutation.New(opts, requester, vars, e, e.sink, mopts...)

	sopts := []session.Option{session.WithClock(e.now), session.WithIDs(e.idGen)}
	e.add = session.New(session.KindAdd, opts.Columns, e.executor, sopts...)
	e.edit = session.New(session.KindEdit, opts.Columns, e.executor, sopts...)
	e.del = session.New(session.KindDelete, opts.Columns, e.executor, sopts...)

	var fopts []filter.Option
	if e.prefs != nil {
		fopts = append(fopts, filter.WithPreferenceStore(e.prefs, store.PreferenceKey(opts.ID, e.user.Login)))
	}
	e.filters = filter.NewSynchronizer(vars, fopts...)
	e.filters.SetColumns(opts.Columns)
	e.filters.SetDefaults(opts.DefaultFilters)
	e.filters.Mount(e.bus)

	e.pages = pagination.NewController(opts.Pagination, vars)
	e.nested = nested.NewResolver(opts, requester, e.sink, nested.WithReplaceVariables(e.interpolate))

	if n, ok := vars.(changeNotifier); ok {
		e.stopVars = n.OnChange(e.onVariables)
	}
	return e
}

func (e *Engine) interpolate(text string) string {
	return variables.Interpolate(e.vars, text)
}

func (e *Engine) onVariables(u variables.Update) {
	if len(u.Values) == 0 {
		return
	}
	keys := make([]string, 0, len(u.Values))
	for k := range u.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	e.Enqueue(Event{Type: EventTypeVariables, Reason: "variables", Keys: keys})
}

// Enqueue submits an event for processing.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	ok := e.queue.Enqueue(ev)
	if !ok {
		slog.Debug("event dropped: engine stopped", "panel", e.options.ID, "type", ev.Type)
	}
	return ok
}

// Refresh implements mutation.Refresher by enqueueing a panel refresh.
func (e *Engine) Refresh() {
	e.Enqueue(Event{Type: EventTypeRefresh, Reason: "mutation"})
}

// Load seeds filters from the preference store and enqueues the first
// refresh.
func (e *Engine) Load(ctx context.Context) error {
	if e.prefs != nil {
		if err := e.filters.LoadPreference(ctx); err != nil {
			slog.Warn("filter preference not loaded", "panel", e.options.ID, "error", err)
		}
	}
	if !e.Enqueue(Event{Type: EventTypeRefresh, Reason: "load"}) {
		return &RuntimeError{Code: ErrCodeStopped, Message: "engine stopped", PanelID: e.options.ID}
	}
	return nil
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// On event processing failure, the error is logged and processing
// continues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "panel", e.options.ID)

	quota := NewQuota(e.maxEvents)
	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := quota.Check(e.options.ID); err != nil {
				logEventError(e.options.ID, event, err)
				quota.Reset()
				continue
			}
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(e.options.ID, event, err)
			}
			continue
		}
		quota.Reset()

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled", "panel", e.options.ID)
			e.Stop()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue.
			if e.queue.Len() == 0 && e.stopped() {
				slog.Info("engine stopping: queue closed", "panel", e.options.ID)
				return nil
			}
		}
	}
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

// ProcessPending drains the queue on the calling goroutine, including
// events enqueued while draining. Returns the joined processing errors.
// Draining stops with a QuotaExceededError after the event quota; events
// still queued are left for the next call.
func (e *Engine) ProcessPending(ctx context.Context) error {
	var errs []error
	quota := NewQuota(e.maxEvents)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		event, ok := e.queue.TryDequeue()
		if !ok {
			return errors.Join(errs...)
		}
		if err := quota.Check(e.options.ID); err != nil {
			logEventError(e.options.ID, event, err)
			return errors.Join(append(errs, err)...)
		}
		if err := e.processEvent(ctx, event); err != nil {
			logEventError(e.options.ID, event, err)
			errs = append(errs, err)
		}
	}
}

// Pending returns the number of queued events.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Stop closes the queue and detaches from the bus and the variable store.
func (e *Engine) Stop() {
	e.queue.Close()
	e.filters.Close()
	if e.stopVars != nil {
		e.stopVars()
	}
}

func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeRefresh, EventTypeVariables:
		return e.refresh(ctx, event)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

// refresh re-runs the panel query, stores the frames, loads nested
// objects and publishes the refresh event.
func (e *Engine) refresh(ctx context.Context, event Event) error {
	q := e.options.Query
	resp, err := e.requester.Request(ctx, datasource.Request{
		Datasource:       q.Datasource,
		RefID:            q.RefID,
		Query:            q.Query,
		ReplaceVariables: e.interpolate,
	})
	if err == nil && resp.Failed() {
		err = resp.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		qerr := NewQueryError(e.options.ID, mutation.Message(err))
		e.mu.Lock()
		e.queryErr = qerr
		e.mu.Unlock()
		return qerr
	}

	frames := slices.Clone(resp.Data)
	for i := range frames {
		if frames[i].RefID == "" {
			frames[i].RefID = q.RefID
		}
	}
	rows := []grid.Row{}
	if first, ok := resp.First(); ok {
		rows = first.Rows()
	}

	e.mu.Lock()
	e.frames = frames
	e.rows = rows
	e.queryErr = nil
	e.mu.Unlock()

	if err := e.nested.LoadAll(ctx, e.options.Columns, rows); err != nil {
		slog.Warn("nested objects not loaded", "panel", e.options.ID, "error", err)
	}

	seq := e.clock.Next()
	e.bus.Publish(variables.Event{Type: variables.EventRefresh})

	slog.Info("panel refreshed",
		"panel", e.options.ID,
		"reason", event.Reason,
		"rows", len(rows),
		"seq", seq,
	)
	return nil
}

// logEventError logs an event processing failure with full context.
func logEventError(panelID string, event Event, err error) {
	slog.Error("event processing failed",
		"error", err,
		"panel", panelID,
		"event_type", event.Type.String(),
		"reason", event.Reason,
	)
}

// Options returns the panel configuration.
func (e *Engine) Options() *panel.Options {
	return e.options
}

// Clock returns the refresh clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Bus returns the bus refresh events are published on.
func (e *Engine) Bus() *variables.Bus {
	return e.bus
}

// Frames returns the frames of the last successful refresh.
func (e *Engine) Frames() []grid.Frame {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.frames)
}

// QueryErr returns the error of the last refresh, or nil if it succeeded.
func (e *Engine) QueryErr() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queryErr
}

// Rows returns the loaded rows with the highlight marker applied.
func (e *Engine) Rows() []grid.Row {
	e.mu.RLock()
	rows := e.rows
	e.mu.RUnlock()
	return e.highlight(rows)
}

func (e *Engine) highlight(rows []grid.Row) []grid.Row {
	hl := e.options.RowHighlight
	out := make([]grid.Row, len(rows))
	want, ok := variables.Lookup(e.vars, hl.Variable)
	match := hl.Enabled && hl.ColumnID != "" && ok && grid.ToString(want) != ""
	for i, row := range rows {
		out[i] = row.Clone()
		if match && grid.ToString(row[hl.ColumnID]) == grid.ToString(want) {
			out[i][grid.RowHighlightStateKey] = true
		}
	}
	return out
}

// View is what the grid renders: the current page of filtered rows.
type View struct {
	Rows      []grid.Row         `json:"rows"`
	Total     pagination.Total   `json:"total"`
	Page      pagination.State   `json:"page"`
	Filters   grid.ColumnFilters `json:"filters"`
	CanAdd    bool               `json:"canAdd"`
	CanDelete bool               `json:"canDelete"`
}

// View returns the current page of filtered rows.
func (e *Engine) View() View {
	filters := e.filters.Filters()
	filtered := filter.Apply(e.Rows(), filters, e.options.Columns)
	frames := e.Frames()
	return View{
		Rows:      e.pages.Page(filtered),
		Total:     e.pages.Total(frames, len(filtered)),
		Page:      e.pages.State(),
		Filters:   filters,
		CanAdd:    e.CanAdd(),
		CanDelete: e.CanDelete(),
	}
}

// CanAdd reports whether the user may add rows.
func (e *Engine) CanAdd() bool {
	op := e.options.AddRow
	return op.Enabled && op.Request != nil && permission.Evaluate(op.Permission, permission.ForUser(e.user, e.Frames()))
}

// CanDelete reports whether the user may delete rows.
func (e *Engine) CanDelete() bool {
	op := e.options.DeleteRow
	return op.Enabled && op.Request != nil && permission.Evaluate(op.Permission, permission.ForUser(e.user, e.Frames()))
}

// CanEdit reports whether the user may edit columnID of row. A nil row
// checks the column at table level.
func (e *Engine) CanEdit(columnID string, row grid.Row) bool {
	col, ok := e.options.Column(columnID)
	if !ok || col.IsAction() || !col.Edit.Enabled || e.options.Update == nil {
		return false
	}
	return permission.Evaluate(col.Edit.Permission, permission.ForRow(e.user, row, e.Frames()))
}

// Executor returns the mutation executor.
func (e *Engine) Executor() *mutation.Executor { return e.executor }

// AddSession returns the add-row session.
func (e *Engine) AddSession() *session.Session { return e.add }

// EditSession returns the edit-row session.
func (e *Engine) EditSession() *session.Session { return e.edit }

// DeleteSession returns the delete-row session.
func (e *Engine) DeleteSession() *session.Session { return e.del }

// Filters returns the filter synchronizer.
func (e *Engine) Filters() *filter.Synchronizer { return e.filters }

// Pagination returns the pagination controller.
func (e *Engine) Pagination() *pagination.Controller { return e.pages }

// Nested returns the nested object resolver.
func (e *Engine) Nested() *nested.Resolver { return e.nested }

// Session returns the session of kind.
func (e *Engine) Session(kind session.Kind) *session.Session {
	switch kind {
	case session.KindAdd:
		return e.add
	case session.KindEdit:
		return e.edit
	default:
		return e.del
	}
}

// StartAdd opens an add draft.
func (e *Engine) StartAdd() error {
	if !e.CanAdd() {
		return ErrNotPermitted
	}
	return e.add.Start(nil)
}

// StartEdit opens an edit draft for the row at index of Rows. The user
// must be allowed to edit at least one column of that row.
func (e *Engine) StartEdit(index int) error {
	draft, err := e.draftAt(index)
	if err != nil {
		return err
	}
	editable := slices.ContainsFunc(e.options.Columns, func(c panel.Column) bool {
		return e.CanEdit(c.ID, draft.Original)
	})
	if !editable {
		return ErrNotPermitted
	}
	return e.edit.Start(draft)
}

// StartDelete opens a delete draft for the row at index of Rows.
func (e *Engine) StartDelete(index int) error {
	if !e.CanDelete() {
		return ErrNotPermitted
	}
	draft, err := e.draftAt(index)
	if err != nil {
		return err
	}
	return e.del.Start(draft)
}

func (e *Engine) draftAt(index int) (*grid.DraftRow, error) {
	rows := e.Rows()
	if index < 0 || index >= len(rows) {
		return nil, NewUnknownRowError(e.options.ID, index, len(rows))
	}
	return &grid.DraftRow{ID: strconv.Itoa(index), Index: index, Original: rows[index]}, nil
}

// ChangeEdit replaces one field of the edit draft after checking the
// column may be edited for that row.
func (e *Engine) ChangeEdit(columnID string, value any) error {
	if _, ok := e.options.Column(columnID); !ok {
		return NewUnknownColumnError(e.options.ID, columnID)
	}
	draft := e.edit.Row()
	if draft == nil {
		return session.ErrNotEditing
	}
	if !e.CanEdit(columnID, draft.Original) {
		return ErrNotPermitted
	}
	return e.edit.Change(columnID, value)
}

// SetFilters applies manual filters and persists them when a preference
// store is configured.
func (e *Engine) SetFilters(ctx context.Context, filters grid.ColumnFilters) error {
	return e.filters.SetFilters(ctx, filters)
}

// SetPage moves to st. In query mode the bound variables change, which
// enqueues a refresh.
func (e *Engine) SetPage(st pagination.State) error {
	return e.pages.Set(st)
}
