package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/gridsync/internal/datasource"
	"github.com/roach88/gridsync/internal/engine"
	"github.com/roach88/gridsync/internal/ids"
	"github.com/roach88/gridsync/internal/notify"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/session"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/testutil"
	"github.com/roach88/gridsync/internal/variables"
)

// scenarioEpoch is the wall-clock start for every scenario.
var scenarioEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness runs one scenario against a real engine.
// It runs with a step clock and sequential ids so traces are reproducible.
type Harness struct {
	db       *sql.DB
	store    *store.Store
	engine   *engine.Engine
	vars     *variables.Memory
	recorder *notify.Recorder
	clock    *testutil.StepClock
	logger   *slog.Logger

	mu     sync.Mutex
	result *Result
	seq    int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory datasource database and a fresh
// in-memory store for isolation.
//
// Execution flow:
// 1. Load the panel configuration
// 2. Create the datasource database and run the setup SQL
// 3. Build the engine with tracing requester, sink, bus and variables
// 4. Execute steps, draining the engine queue after each
// 5. Evaluate assertions and return the result
func Run(scenario *Scenario) (*Result, error) {
	opts, err := panel.Load(scenario.Panel)
	if err != nil {
		return nil, fmt.Errorf("failed to load panel: %w", err)
	}

	db, err := datasource.OpenSQLite(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create datasource: %w", err)
	}
	defer db.Close()

	for i, stmt := range scenario.Setup {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		db:       db,
		store:    st,
		vars:     variables.NewMemory(scenario.Variables),
		recorder: &notify.Recorder{},
		clock:    testutil.NewStepClock(scenarioEpoch, time.Second),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}

	requester := &testutil.RecordingRequester{
		Next:     datasource.NewSQL(db),
		Fail:     failures(scenario.Failures),
		OnRecord: h.onRequest,
	}
	h.vars.OnChange(h.onVariables)
	bus := variables.NewBus()
	bus.Subscribe(h.onRefresh)

	h.engine = engine.New(opts, requester, h.vars,
		engine.WithUser(scenario.User),
		engine.WithSink(notify.Multi{h.recorder, traceSink{h}}),
		engine.WithBus(bus),
		engine.WithJournal(st),
		engine.WithPreferenceStore(st),
		engine.WithIDs(ids.NewSequence("row")),
		engine.WithNow(h.clock.Now),
	)
	defer h.engine.Stop()

	ctx := context.Background()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step)
	}

	actx := &AssertionContext{
		DB:            db,
		Store:         st,
		View:          h.engine.View,
		Notifications: h.recorder.All(),
		Ctx:           ctx,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

func failures(list []Failure) func(datasource.Request) (string, bool) {
	if len(list) == 0 {
		return nil
	}
	return func(req datasource.Request) (string, bool) {
		query := req.Interpolated()
		for _, f := range list {
			if strings.Contains(query, f.Match) {
				return f.Message, true
			}
		}
		return "", false
	}
}

// executeStep runs one step, drains the queue and checks the error
// against the step's expectation.
func (h *Harness) executeStep(ctx context.Context, index int, step Step) {
	h.logger.Debug("executing step", "index", index, "do", step.Do)
	at := h.trace(EventStep, map[string]any{"do": step.Do})

	err := h.dispatch(ctx, step)
	if perr := h.engine.ProcessPending(ctx); perr != nil {
		err = errors.Join(err, perr)
	}

	if err != nil {
		h.mu.Lock()
		h.result.Trace[at].Fields["error"] = err.Error()
		h.mu.Unlock()
	}

	switch {
	case step.ExpectError == "" && err != nil:
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): unexpected error: %v", index, step.Do, err))
	case step.ExpectError != "" && err == nil:
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): expected error containing %q, got none", index, step.Do, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): expected error containing %q, got %q", index, step.Do, step.ExpectError, err.Error()))
	}
}

func (h *Harness) dispatch(ctx context.Context, step Step) error {
	eng := h.engine
	switch step.Do {
	case StepLoad:
		return eng.Load(ctx)
	case StepRefresh:
		eng.Refresh()
		return nil
	case StepAdd:
		if err := eng.StartAdd(); err != nil {
			return err
		}
		s := eng.AddSession()
		for _, key := range sortedKeys(step.Values) {
			if err := s.Change(key, step.Values[key]); err != nil {
				return err
			}
		}
		return s.Save(ctx)
	case StepEdit:
		if err := eng.StartEdit(step.Row); err != nil {
			return err
		}
		for _, key := range sortedKeys(step.Values) {
			if err := eng.ChangeEdit(key, step.Values[key]); err != nil {
				return err
			}
		}
		return eng.EditSession().Save(ctx)
	case StepDelete:
		if err := eng.StartDelete(step.Row); err != nil {
			return err
		}
		return eng.DeleteSession().Save(ctx)
	case StepCancel:
		eng.Session(session.Kind(step.Session)).Cancel()
		return nil
	case StepVariables:
		h.vars.Partial(step.Values, false)
		return nil
	case StepPage:
		return eng.SetPage(*step.Page)
	case StepFilters:
		return eng.SetFilters(ctx, step.Filters)
	default:
		return fmt.Errorf("unknown action %q", step.Do)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// trace appends an event and returns its index.
func (h *Harness) trace(kind string, fields map[string]any) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.result.Trace = append(h.result.Trace, TraceEvent{Type: kind, Fields: fields, Seq: h.seq})
	return len(h.result.Trace) - 1
}

func (h *Harness) onRequest(rec testutil.RecordedRequest) {
	fields := map[string]any{
		"datasource": rec.Datasource,
		"query":      rec.Query,
	}
	if len(rec.Payload) > 0 {
		fields["payload"] = rec.Payload
	}
	if rec.Failed {
		fields["failed"] = true
	}
	h.trace(EventRequest, fields)
}

func (h *Harness) onVariables(u variables.Update) {
	h.trace(EventVariables, map[string]any{"values": u.Values, "replace": u.Replace})
}

func (h *Harness) onRefresh(ev variables.Event) {
	if ev.Type == variables.EventRefresh {
		h.trace(EventRefresh, map[string]any{})
	}
}

// traceSink records notifications in the trace.
type traceSink struct {
	h *Harness
}

func (s traceSink) Success(message string) {
	s.h.trace(EventNotification, map[string]any{"level": string(notify.LevelSuccess), "message": message})
}

func (s traceSink) Error(message string) {
	s.h.trace(EventNotification, map[string]any{"level": string(notify.LevelError), "message": message})
}
