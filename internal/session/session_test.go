package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/ids"
	"github.com/roach88/gridsync/internal/panel"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type call struct {
	op  panel.Operation
	row grid.Row
}

type fakePersister struct {
	calls []call
	err   error
	// block, when set, is received from before returning.
	block chan struct{}
	// started, when set, is closed once Execute is entered.
	started chan struct{}
}

func (p *fakePersister) Execute(ctx context.Context, op panel.Operation, row grid.Row) error {
	p.calls = append(p.calls, call{op: op, row: row})
	if p.started != nil {
		close(p.started)
	}
	if p.block != nil {
		<-p.block
	}
	return p.err
}

func testColumns() []panel.Column {
	return []panel.Column{
		{ID: "id"},
		{ID: "note",
			Edit:       panel.ColumnEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorTextarea}},
			NewRowEdit: panel.NewRowEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorTextarea}},
		},
		{ID: "active", NewRowEdit: panel.NewRowEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorBoolean}}},
		{ID: "qty", NewRowEdit: panel.NewRowEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorNumber, Min: 5}}},
		{ID: "price", NewRowEdit: panel.NewRowEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorNumber}}},
		{ID: "due", NewRowEdit: panel.NewRowEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorDatetime}}},
		{ID: "since", NewRowEdit: panel.NewRowEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorDatetime, Min: "2020-01-01T00:00:00Z"}}},
		{ID: "kind", NewRowEdit: panel.NewRowEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorSelect}}},
		{ID: panel.ActionColumnID},
	}
}

func newTestSession(kind Kind, p Persister) *Session {
	return New(kind, testColumns(), p,
		WithClock(func() time.Time { return fixedNow }),
		WithIDs(ids.NewSequence("new")),
	)
}

func TestStart_AddSynthesizesDefaults(t *testing.T) {
	s := newTestSession(KindAdd, &fakePersister{})

	require.NoError(t, s.Start(nil))

	row := s.Row()
	require.NotNil(t, row)
	assert.Equal(t, "new-1", row.ID)
	assert.Equal(t, grid.Row{
		"id":     "",
		"note":   "",
		"active": false,
		"qty":    float64(5),
		"price":  float64(0),
		"due":    fixedNow,
		"since":  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		"kind":   "",
	}, row.Original)
	assert.NotContains(t, row.Original, panel.ActionColumnID)
	assert.Equal(t, StateEditing, s.State())
}

func TestStart_AddKeepsSeedPosition(t *testing.T) {
	s := newTestSession(KindAdd, &fakePersister{})

	require.NoError(t, s.Start(&grid.DraftRow{ID: "r9", Index: 3, Depth: 1, Original: grid.Row{"note": "ignored"}}))

	row := s.Row()
	assert.Equal(t, "r9", row.ID)
	assert.Equal(t, 3, row.Index)
	assert.Equal(t, 1, row.Depth)
	assert.Equal(t, "", row.Original["note"])
}

func TestStart_EditEscapesTextareaNewlines(t *testing.T) {
	s := newTestSession(KindEdit, &fakePersister{})
	seed := &grid.DraftRow{ID: "r1", Original: grid.Row{"id": 1, "note": "line1\nline2", "kind": "a\nb"}}

	require.NoError(t, s.Start(seed))

	row := s.Row()
	assert.Equal(t, `line1\nline2`, row.Original["note"])
	assert.Equal(t, "a\nb", row.Original["kind"], "only multi-line text columns are escaped")
	assert.Equal(t, "line1\nline2", seed.Original["note"], "seed must not be mutated")
}

func TestStart_DeleteCopiesSeed(t *testing.T) {
	s := newTestSession(KindDelete, &fakePersister{})
	seed := &grid.DraftRow{ID: "r1", Original: grid.Row{"note": "a\nb"}}

	require.NoError(t, s.Start(seed))
	assert.Equal(t, "a\nb", s.Row().Original["note"])
}

func TestStart_EditWithoutSeed(t *testing.T) {
	s := newTestSession(KindEdit, &fakePersister{})
	assert.ErrorIs(t, s.Start(nil), ErrNoDraft)
	assert.Equal(t, StateIdle, s.State())
}

func TestStart_ReplacesExistingDraft(t *testing.T) {
	s := newTestSession(KindEdit, &fakePersister{})
	require.NoError(t, s.Start(&grid.DraftRow{ID: "a", Original: grid.Row{"x": 1}}))
	require.NoError(t, s.Change("x", 2))
	require.NoError(t, s.Start(&grid.DraftRow{ID: "b", Original: grid.Row{"y": 1}}))

	row := s.Row()
	assert.Equal(t, "b", row.ID)
	assert.Equal(t, grid.Row{"y": 1}, row.Original)
}

func TestChange_FunctionalReplace(t *testing.T) {
	s := newTestSession(KindEdit, &fakePersister{})
	require.NoError(t, s.Start(&grid.DraftRow{ID: "r1", Index: 2, Depth: 1, Original: grid.Row{"name": "a"}}))

	before := s.Row()
	require.NoError(t, s.Change("name", "b"))
	after := s.Row()

	assert.Equal(t, "a", before.Original["name"])
	assert.Equal(t, "b", after.Original["name"])
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Index, after.Index)
	assert.Equal(t, before.Depth, after.Depth)
}

func TestChange_OnlyWhileEditing(t *testing.T) {
	s := newTestSession(KindEdit, &fakePersister{})
	assert.ErrorIs(t, s.Change("x", 1), ErrNotEditing)
}

func TestCancel_FromAnyState(t *testing.T) {
	s := newTestSession(KindEdit, &fakePersister{})
	s.Cancel()
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(&grid.DraftRow{ID: "r1"}))
	s.Cancel()
	assert.Nil(t, s.Row())
	assert.Equal(t, StateIdle, s.State())
}

func TestSave_SuccessClearsDraft(t *testing.T) {
	p := &fakePersister{}
	s := newTestSession(KindEdit, p)
	require.NoError(t, s.Start(&grid.DraftRow{ID: "r1", Original: grid.Row{"id": 1, "note": "a\nb"}}))

	require.NoError(t, s.Save(context.Background()))

	assert.Nil(t, s.Row())
	assert.False(t, s.IsSaving())
	assert.Equal(t, StateIdle, s.State())
	assert.NoError(t, s.Err())

	require.Len(t, p.calls, 1)
	assert.Equal(t, panel.OpUpdate, p.calls[0].op)
	assert.Equal(t, "a\nb", p.calls[0].row["note"], "escaping is reversed before persisting")
}

func TestSave_FailureKeepsDraft(t *testing.T) {
	boom := errors.New("update Error: boom")
	p := &fakePersister{err: boom}
	s := newTestSession(KindEdit, p)
	require.NoError(t, s.Start(&grid.DraftRow{ID: "r1", Index: 4, Original: grid.Row{"id": 1, "note": "a\nb"}}))
	require.NoError(t, s.Change("id", 2))
	before := s.Row()

	err := s.Save(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, s.Row())
	assert.False(t, s.IsSaving())
	assert.Equal(t, StateEditing, s.State())
	assert.ErrorIs(t, s.Err(), boom)

	// Retry after fixing the failure.
	p.err = nil
	require.NoError(t, s.Save(context.Background()))
	assert.Nil(t, s.Row())
	assert.Len(t, p.calls, 2)
}

func TestSave_OperationPerKind(t *testing.T) {
	for kind, op := range map[Kind]panel.Operation{
		KindAdd:    panel.OpAdd,
		KindEdit:   panel.OpUpdate,
		KindDelete: panel.OpDelete,
	} {
		p := &fakePersister{}
		s := newTestSession(kind, p)
		require.NoError(t, s.Start(&grid.DraftRow{ID: "r1", Original: grid.Row{"id": 1}}))
		require.NoError(t, s.Save(context.Background()))
		require.Len(t, p.calls, 1)
		assert.Equal(t, op, p.calls[0].op, "kind %s", kind)
	}
}

func TestSave_DeleteSendsRowAsIs(t *testing.T) {
	p := &fakePersister{}
	s := newTestSession(KindDelete, p)
	require.NoError(t, s.Start(&grid.DraftRow{ID: "r1", Original: grid.Row{"note": `keep\n`, grid.RowHighlightStateKey: true}}))

	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, grid.Row{"note": `keep\n`, grid.RowHighlightStateKey: true}, p.calls[0].row)
}

func TestSave_WithoutDraft(t *testing.T) {
	s := newTestSession(KindEdit, &fakePersister{})
	assert.ErrorIs(t, s.Save(context.Background()), ErrNoDraft)
}

func TestSave_NotReentrant(t *testing.T) {
	p := &fakePersister{block: make(chan struct{}), started: make(chan struct{})}
	s := newTestSession(KindEdit, p)
	require.NoError(t, s.Start(&grid.DraftRow{ID: "r1", Original: grid.Row{"id": 1}}))

	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()
	<-p.started

	assert.True(t, s.IsSaving())
	assert.ErrorIs(t, s.Save(context.Background()), ErrSaveInProgress)
	assert.ErrorIs(t, s.Change("id", 2), ErrNotEditing)

	close(p.block)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, s.State())
	assert.Len(t, p.calls, 1)
}

func TestSave_StaleResultDiscardedAfterCancel(t *testing.T) {
	p := &fakePersister{block: make(chan struct{}), started: make(chan struct{}), err: errors.New("late failure")}
	s := newTestSession(KindEdit, p)
	require.NoError(t, s.Start(&grid.DraftRow{ID: "r1", Original: grid.Row{"id": 1}}))

	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()
	<-p.started

	s.Cancel()
	require.NoError(t, s.Start(&grid.DraftRow{ID: "r2", Original: grid.Row{"id": 2}}))

	close(p.block)
	assert.Error(t, <-done)

	// The late failure does not touch the new draft.
	assert.Equal(t, "r2", s.Row().ID)
	assert.Equal(t, StateEditing, s.State())
	assert.NoError(t, s.Err())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "saving", StateSaving.String())
	assert.Equal(t, "State(9)", State(9).String())
}
