// Package session implements the row-edit session: one draft row that is
// started, changed field by field, then saved through a persister or
// cancelled. A session is parameterized by its kind (add, edit, delete).
//
// States:
//
//	Idle --Start--> Editing --Save--> Saving --ok--> Idle
//	                   ^                 |
//	                   +------fail-------+
//
// Cancel returns to Idle from any state. A save that completes after its
// draft was replaced or cancelled is discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/ids"
	"github.com/roach88/gridsync/internal/panel"
)

// Kind selects what a session does with its draft.
type Kind string

const (
	KindAdd    Kind = "add"
	KindEdit   Kind = "edit"
	KindDelete Kind = "delete"
)

// Operation returns the mutation performed when a session of this kind saves.
func (k Kind) Operation() panel.Operation {
	switch k {
	case KindAdd:
		return panel.OpAdd
	case KindEdit:
		return panel.OpUpdate
	default:
		return panel.OpDelete
	}
}

// State is a session state.
type State int

const (
	StateIdle State = iota
	StateEditing
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEditing:
		return "editing"
	case StateSaving:
		return "saving"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotEditing is returned by Change outside the Editing state.
	ErrNotEditing = errors.New("session: not editing")

	// ErrNoDraft is returned by Save with no draft, and by Start for edit
	// and delete sessions without a seed row.
	ErrNoDraft = errors.New("session: no draft")

	// ErrSaveInProgress is returned by Save while a save is in flight.
	ErrSaveInProgress = errors.New("session: save in progress")
)

// escapedNewline is the two-character sequence shown in place of a real
// newline in multi-line text editors.
const escapedNewline = `\n`

// Persister writes a saved draft. *mutation.Executor implements it.
type Persister interface {
	Execute(ctx context.Context, op panel.Operation, row grid.Row) error
}

// Session holds at most one draft row.
//
// Thread-safety: all methods are safe for concurrent use. Save releases
// the lock while the persister runs.
type Session struct {
	kind      Kind
	columns   []panel.Column
	persister Persister
	now       func() time.Time
	ids       ids.Generator

	mu    sync.Mutex
	state State
	draft *grid.DraftRow
	err   error
	gen   uint64
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the time source for datetime defaults of new rows.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithIDs sets the generator for new row ids. Default: ids.UUIDv7.
func WithIDs(g ids.Generator) Option {
	return func(s *Session) {
		s.ids = g
	}
}

// New creates an idle session over the panel's columns.
func New(kind Kind, columns []panel.Column, p Persister, opts ...Option) *Session {
	s := &Session{
		kind:      kind,
		columns:   columns,
		persister: p,
		now:       time.Now,
		ids:       ids.UUIDv7{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the session kind.
func (s *Session) Kind() Kind {
	return s.kind
}

// Start creates the draft, silently replacing any existing one.
//
// Add sessions synthesize the draft from the new-row editors and use seed
// only for its position. Edit sessions copy seed and escape newlines in
// multi-line text columns. Delete sessions copy seed unchanged.
func (s *Session) Start(seed *grid.DraftRow) error {
	var draft grid.DraftRow
	switch s.kind {
	case KindAdd:
		draft = s.newRow(seed)
	case KindEdit:
		if seed == nil {
			return ErrNoDraft
		}
		draft = s.escape(seed.Clone())
	default:
		if seed == nil {
			return ErrNoDraft
		}
		draft = seed.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft != nil {
		slog.Debug("session draft replaced", "kind", s.kind, "row_id", s.draft.ID)
	}
	s.gen++
	s.draft = &draft
	s.state = StateEditing
	s.err = nil

	slog.Debug("session started", "kind", s.kind, "row_id", draft.ID)
	return nil
}

// Change replaces one field of the draft.
func (s *Session) Change(columnID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing || s.draft == nil {
		return ErrNotEditing
	}
	next := s.draft.With(columnID, value)
	s.draft = &next
	return nil
}

// Cancel discards the draft. Safe to call in any state; an in-flight save
// is left to finish and its result is discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft != nil {
		slog.Debug("session cancelled", "kind", s.kind, "row_id", s.draft.ID, "state", s.state)
	}
	s.gen++
	s.draft = nil
	s.state = StateIdle
	s.err = nil
}

// Save persists the draft. On success the draft is discarded. On failure
// the draft is kept unchanged, the error is recorded and returned.
//
// Save is not reentrant: a call while saving returns ErrSaveInProgress.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateSaving:
		s.mu.Unlock()
		return ErrSaveInProgress
	case s.draft == nil:
		s.mu.Unlock()
		return ErrNoDraft
	}
	draft := s.draft.Clone()
	gen := s.gen
	s.state = StateSaving
	s.err = nil
	s.mu.Unlock()

	row := draft.Original
	if s.kind != KindDelete {
		row = s.unescape(row)
	}
	err := s.persister.Execute(ctx, s.kind.Operation(), row)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		slog.Warn("stale save result ignored", "kind", s.kind, "row_id", draft.ID, "error", err)
		return err
	}
	if err != nil {
		s.state = StateEditing
		s.err = err
		return err
	}
	s.draft = nil
	s.state = StateIdle
	slog.Debug("session saved", "kind", s.kind, "row_id", draft.ID)
	return nil
}

// Row returns a copy of the draft, or nil when idle.
func (s *Session) Row() *grid.DraftRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return nil
	}
	d := s.draft.Clone()
	return &d
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsSaving reports whether a save is in flight.
func (s *Session) IsSaving() bool {
	return s.State() == StateSaving
}

// Err returns the error of the last failed save, cleared by Start,
// Cancel and the next Save.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// newRow synthesizes a draft from each column's new-row editor.
func (s *Session) newRow(seed *grid.DraftRow) grid.DraftRow {
	draft := grid.DraftRow{Original: grid.Row{}}
	if seed != nil {
		draft.ID, draft.Index, draft.Depth = seed.ID, seed.Index, seed.Depth
	}
	if draft.ID == "" {
		draft.ID = s.ids.Generate()
	}
	for _, c := range s.columns {
		if c.IsAction() {
			continue
		}
		draft.Original[c.ID] = s.defaultValue(c.NewRowEdit.Editor)
	}
	return draft
}

func (s *Session) defaultValue(e panel.Editor) any {
	switch e.Type {
	case panel.EditorBoolean:
		return false
	case panel.EditorNumber:
		if f, ok := grid.ToFloat(e.Min); ok {
			return f
		}
		return float64(0)
	case panel.EditorDatetime:
		if t, ok := grid.ToTime(e.Min); ok {
			return t.UTC()
		}
		return s.now().UTC()
	default:
		return ""
	}
}

// escape replaces real newlines in multi-line text columns.
func (s *Session) escape(d grid.DraftRow) grid.DraftRow {
	for _, c := range s.columns {
		if c.Edit.Editor.Type != panel.EditorTextarea {
			continue
		}
		if v, ok := d.Original[c.ID].(string); ok {
			d.Original[c.ID] = strings.ReplaceAll(v, "\n", escapedNewline)
		}
	}
	return d
}

// unescape reverses escape on a copy of row before it is persisted.
func (s *Session) unescape(row grid.Row) grid.Row {
	out := row.Clone()
	for _, c := range s.columns {
		if s.editorFor(c).Type != panel.EditorTextarea {
			continue
		}
		if v, ok := out[c.ID].(string); ok {
			out[c.ID] = strings.ReplaceAll(v, escapedNewline, "\n")
		}
	}
	return out
}

func (s *Session) editorFor(c panel.Column) panel.Editor {
	if s.kind == KindAdd {
		return c.NewRowEdit.Editor
	}
	return c.Edit.Editor
}
