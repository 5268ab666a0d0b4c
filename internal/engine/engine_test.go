package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/datasource"
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/ids"
	"github.com/roach88/gridsync/internal/notify"
	"github.com/roach88/gridsync/internal/pagination"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/permission"
	"github.com/roach88/gridsync/internal/session"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/variables"
)

const testSchema = `
CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	amount REAL NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	customer INTEGER,
	editable INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
INSERT INTO customers (id, name) VALUES (10, 'Ada'), (11, 'Grace');
INSERT INTO orders (id, name, amount, status, customer, editable) VALUES
	(1, 'widget', 12, 'open', 10, 1),
	(2, 'gadget', 30, 'closed', 11, 0),
	(3, 'sprocket', 7, 'open', 10, 1);
`

func testOptions() *panel.Options {
	return &panel.Options{
		ID: "orders",
		Query: panel.Query{
			Datasource: "main",
			RefID:      "A",
			Query:      "SELECT id, name, amount, status, customer, editable FROM orders ORDER BY id",
		},
		Columns: []panel.Column{
			{ID: "id"},
			{
				ID: "name",
				Edit: panel.ColumnEdit{
					Enabled: true,
					Editor:  panel.Editor{Type: panel.EditorTextarea},
					Permission: permission.Policy{
						Mode:  permission.ModeQueryField,
						Field: &grid.FieldReference{Name: "editable"},
					},
				},
				NewRowEdit: panel.NewRowEdit{Enabled: true, Editor: panel.Editor{Type: panel.EditorString}},
				Filter:     panel.ColumnFilter{Enabled: true, Type: grid.FilterSearch},
			},
			{
				ID: "amount",
				NewRowEdit: panel.NewRowEdit{
					Enabled: true,
					Editor:  panel.Editor{Type: panel.EditorNumber, Min: 5},
				},
			},
			{
				ID: "status",
				Filter: panel.ColumnFilter{
					Enabled:  true,
					Mode:     panel.FilterModeQuery,
					Type:     grid.FilterFaceted,
					Variable: "status",
				},
			},
			{ID: "customer", ObjectID: "customers"},
			{ID: "__actions"},
		},
		AddRow: panel.RowOperation{
			Enabled:    true,
			Permission: permission.Policy{Mode: permission.ModeUserRole, UserRoles: []permission.Role{permission.RoleAdmin}},
			Request: &panel.RequestConfig{
				Datasource:     "main",
				Query:          "INSERT INTO orders (name, amount) VALUES (:name, :amount)",
				SuccessMessage: "Order added",
			},
		},
		Update: &panel.RequestConfig{
			Datasource: "main",
			Query:      "UPDATE orders SET name = :name WHERE id = :id",
		},
		DeleteRow: panel.RowOperation{
			Enabled:    true,
			Permission: permission.Policy{Mode: permission.ModeAllowed},
			Request:    &panel.RequestConfig{Datasource: "main", Query: "DELETE FROM orders WHERE id = :id"},
		},
		RowHighlight: panel.RowHighlight{Enabled: true, ColumnID: "id", Variable: "selected", ResetVariable: true},
		NestedObjects: []panel.NestedObject{{
			ID: "customers",
			Request: panel.RequestConfig{
				Datasource: "main",
				Query:      "SELECT id, name FROM customers WHERE id IN (SELECT value FROM json_each(:ids))",
			},
		}},
	}
}

type fixture struct {
	engine *Engine
	vars   *variables.Memory
	sink   *notify.Recorder
	db     *datasource.SQL
}

func newFixture(t *testing.T, opts *panel.Options, role permission.Role, options ...Option) *fixture {
	t.Helper()
	db, err := datasource.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	registry := datasource.NewRegistry()
	sqlds := datasource.NewSQL(db)
	registry.Register("main", sqlds)

	f := &fixture{vars: variables.NewMemory(nil), sink: &notify.Recorder{}, db: sqlds}
	base := []Option{
		WithUser(permission.User{Login: "ada", Role: role}),
		WithSink(f.sink),
		WithIDs(ids.NewSequence("id")),
		WithNow(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }),
	}
	f.engine = New(opts, registry, f.vars, append(base, options...)...)
	t.Cleanup(f.engine.Stop)
	return f
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Load(context.Background()))
	require.NoError(t, f.engine.ProcessPending(context.Background()))
}

func rowIDs(rows []grid.Row) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["id"].(int64))
	}
	return out
}

func indexOf(t *testing.T, rows []grid.Row, id int64) int {
	t.Helper()
	for i, r := range rows {
		if r["id"] == id {
			return i
		}
	}
	t.Fatalf("row %d not loaded", id)
	return -1
}

func TestEngine_LoadRefreshesAndPublishes(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin)

	var events []variables.Event
	f.engine.Bus().Subscribe(func(ev variables.Event) { events = append(events, ev) })

	f.load(t)

	assert.Equal(t, []int64{1, 2, 3}, rowIDs(f.engine.Rows()))
	assert.Equal(t, int64(1), f.engine.Clock().Current())
	require.Len(t, events, 1)
	assert.Equal(t, variables.EventRefresh, events[0].Type)

	frames := f.engine.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "A", frames[0].RefID)
}

func TestEngine_LoadsNestedObjects(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin)
	f.load(t)

	customers := f.engine.Nested().Objects("customers")
	assert.Len(t, customers, 2)
	row, ok := f.engine.Nested().Lookup("customers", int64(11))
	require.True(t, ok)
	assert.Equal(t, "Grace", row["name"])
}

func TestEngine_AddRowNotifiesAndRefreshes(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin)
	f.load(t)
	ctx := context.Background()

	require.NoError(t, f.engine.StartAdd())
	add := f.engine.AddSession()
	draft := add.Row()
	require.NotNil(t, draft)
	assert.Equal(t, float64(5), draft.Original["amount"])
	assert.Equal(t, "id-1", draft.ID)

	require.NoError(t, add.Change("name", "flange"))
	require.NoError(t, add.Save(ctx))

	assert.Equal(t, session.StateIdle, add.State())
	assert.Equal(t, []notify.Notification{{Level: notify.LevelSuccess, Message: "Order added"}}, f.sink.All())
	assert.Equal(t, 1, f.engine.Pending(), "success enqueues one refresh")

	require.NoError(t, f.engine.ProcessPending(ctx))
	assert.Equal(t, []int64{1, 2, 3, 4}, rowIDs(f.engine.Rows()))
}

func TestEngine_AddRequiresRole(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleViewer)
	f.load(t)

	assert.False(t, f.engine.CanAdd())
	assert.ErrorIs(t, f.engine.StartAdd(), ErrNotPermitted)
	assert.True(t, f.engine.CanDelete())
}

func TestEngine_EditGatedPerRow(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleViewer)
	f.load(t)
	ctx := context.Background()
	rows := f.engine.Rows()

	assert.False(t, f.engine.CanEdit("name", rows[indexOf(t, rows, 2)]))
	assert.ErrorIs(t, f.engine.StartEdit(indexOf(t, rows, 2)), ErrNotPermitted)

	require.NoError(t, f.engine.StartEdit(indexOf(t, rows, 1)))
	require.NoError(t, f.engine.ChangeEdit("name", `big\nwidget`))
	assert.ErrorIs(t, f.engine.ChangeEdit("amount", 1), ErrNotPermitted)
	require.NoError(t, f.engine.EditSession().Save(ctx))
	require.NoError(t, f.engine.ProcessPending(ctx))

	rows = f.engine.Rows()
	assert.Equal(t, "big\nwidget", rows[indexOf(t, rows, 1)]["name"])
}

func TestEngine_EditPermissionFromSecondFrame(t *testing.T) {
	db, err := datasource.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	sqlds := datasource.NewSQL(db)

	allow := false
	requester := datasource.Func(func(ctx context.Context, req datasource.Request) (*datasource.Response, error) {
		resp, err := sqlds.Request(ctx, req)
		if err != nil || req.RefID != "A" {
			return resp, err
		}
		resp.Data = append(resp.Data, grid.Frame{RefID: "B", Fields: []grid.Field{
			{Name: "canEdit", Values: []any{!allow, allow}},
		}})
		return resp, nil
	})

	opts := testOptions()
	opts.Columns[1].Edit.Permission = permission.Policy{
		Mode:  permission.ModeQueryField,
		Field: &grid.FieldReference{Source: grid.SourceRefID("B"), Name: "canEdit"},
	}
	eng := New(opts, requester, variables.NewMemory(nil),
		WithUser(permission.User{Login: "ada", Role: permission.RoleViewer}),
		WithSink(&notify.Recorder{}),
	)
	t.Cleanup(eng.Stop)
	ctx := context.Background()

	require.NoError(t, eng.Load(ctx))
	require.NoError(t, eng.ProcessPending(ctx))
	assert.False(t, eng.CanEdit("name", nil))
	assert.ErrorIs(t, eng.StartEdit(0), ErrNotPermitted)

	allow = true
	eng.Refresh()
	require.NoError(t, eng.ProcessPending(ctx))
	rows := eng.Rows()
	assert.True(t, eng.CanEdit("name", nil))
	assert.True(t, eng.CanEdit("name", rows[0]))
	require.NoError(t, eng.StartEdit(0))
	require.NoError(t, eng.ChangeEdit("name", "renamed"))
}

func TestEngine_StartEditUnknownRow(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin)
	f.load(t)

	err := f.engine.StartEdit(9)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeUnknownRow, re.Code)
}

func TestEngine_DeleteHighlightedRowResetsVariable(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin)
	f.vars.Set("selected", "2")
	f.load(t)
	ctx := context.Background()

	rows := f.engine.Rows()
	idx := indexOf(t, rows, 2)
	assert.True(t, rows[idx].Highlighted())
	assert.False(t, rows[indexOf(t, rows, 1)].Highlighted())

	require.NoError(t, f.engine.StartDelete(idx))
	require.NoError(t, f.engine.DeleteSession().Save(ctx))

	updates := f.vars.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, map[string]any{"var-selected": ""}, updates[0].Values)
	assert.True(t, updates[0].Replace)

	require.Equal(t, 1, f.engine.Pending(), "only the variable change refreshes")
	require.NoError(t, f.engine.ProcessPending(ctx))
	rows = f.engine.Rows()
	assert.Equal(t, []int64{1, 3}, rowIDs(rows))
	for _, r := range rows {
		assert.False(t, r.Highlighted())
	}
}

func TestEngine_MutationFailureKeepsDraft(t *testing.T) {
	opts := testOptions()
	opts.DeleteRow.Request.Query = "DELETE FROM missing WHERE id = :id"
	f := newFixture(t, opts, permission.RoleAdmin)
	f.load(t)

	require.NoError(t, f.engine.StartDelete(0))
	err := f.engine.DeleteSession().Save(context.Background())
	require.Error(t, err)

	del := f.engine.DeleteSession()
	assert.Equal(t, session.StateEditing, del.State())
	assert.NotNil(t, del.Row())
	assert.Equal(t, 0, f.engine.Pending())
	all := f.sink.All()
	require.Len(t, all, 1)
	assert.Equal(t, notify.LevelError, all[0].Level)
	assert.Contains(t, all[0].Message, "delete Error: ")
}

func TestEngine_QueryFailureKeepsFrames(t *testing.T) {
	opts := testOptions()
	f := newFixture(t, opts, permission.RoleAdmin)
	f.load(t)

	opts.Query.Query = "SELECT * FROM nowhere"
	f.engine.Refresh()
	err := f.engine.ProcessPending(context.Background())

	require.Error(t, err)
	assert.True(t, IsQueryError(err))
	assert.True(t, IsQueryError(f.engine.QueryErr()))
	assert.Len(t, f.engine.Rows(), 3)
	assert.Equal(t, int64(1), f.engine.Clock().Current())
}

func TestEngine_VariableChangeReconcilesFilters(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin)
	f.load(t)

	f.vars.Partial(map[string]any{"var-status": []any{"open"}}, false)
	require.NoError(t, f.engine.ProcessPending(context.Background()))

	got, ok := f.engine.Filters().Filters().Get("status")
	require.True(t, ok)
	assert.Equal(t, grid.Faceted("open"), got)
}

func TestEngine_ViewAppliesClientFiltersAndPaging(t *testing.T) {
	opts := testOptions()
	opts.Pagination = panel.Pagination{Enabled: true, Mode: panel.PaginationClient, DefaultPageSize: 1}
	f := newFixture(t, opts, permission.RoleAdmin)
	f.load(t)

	require.NoError(t, f.engine.SetFilters(context.Background(), grid.ColumnFilters{
		{ID: "name", Value: grid.Search("GET", false)},
	}))

	view := f.engine.View()
	assert.Equal(t, pagination.ExactTotal(2), view.Total)
	assert.Equal(t, []int64{1}, rowIDs(view.Rows))
	assert.True(t, view.CanAdd)

	require.NoError(t, f.engine.SetPage(pagination.State{PageIndex: 1, PageSize: 1}))
	assert.Equal(t, []int64{2}, rowIDs(f.engine.View().Rows))
	assert.Equal(t, 0, f.engine.Pending(), "client paging does not refresh")
}

func TestEngine_QueryPagingRefreshesOnce(t *testing.T) {
	opts := testOptions()
	opts.Query.Query = "SELECT id, name, amount, status, customer, editable FROM orders ORDER BY id LIMIT ${pageSize} OFFSET ${offset}"
	opts.Pagination = panel.Pagination{
		Enabled:          true,
		Mode:             panel.PaginationQuery,
		DefaultPageSize:  2,
		PageSizeVariable: "pageSize",
		OffsetVariable:   "offset",
	}
	f := newFixture(t, opts, permission.RoleAdmin)
	f.vars.Set("pageSize", "2")
	f.vars.Set("offset", "0")
	f.load(t)
	assert.Equal(t, []int64{1, 2}, rowIDs(f.engine.Rows()))

	require.NoError(t, f.engine.SetPage(pagination.State{PageIndex: 1, PageSize: 2}))
	assert.Equal(t, 1, f.engine.Pending())
	require.NoError(t, f.engine.ProcessPending(context.Background()))
	assert.Equal(t, []int64{3}, rowIDs(f.engine.Rows()))

	total := f.engine.View().Total
	assert.Equal(t, pagination.Estimated, total.Kind)
}

func TestEngine_PersistsFilterPreference(t *testing.T) {
	st, err := store.Open(t.TempDir() + "/prefs.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	f := newFixture(t, testOptions(), permission.RoleAdmin, WithPreferenceStore(st))
	f.load(t)
	want := grid.ColumnFilters{{ID: "name", Value: grid.Search("widget", false)}}
	require.NoError(t, f.engine.SetFilters(ctx, want))

	g := newFixture(t, testOptions(), permission.RoleAdmin, WithPreferenceStore(st))
	g.load(t)
	assert.True(t, want.Equal(g.engine.Filters().Filters()))
}

func TestEngine_RunProcessesUntilCancelled(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = f.engine.Run(ctx)
	}()

	require.NoError(t, f.engine.Load(ctx))
	assert.Eventually(t, func() bool { return f.engine.Clock().Current() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
	assert.ErrorIs(t, runErr, context.Canceled)
	assert.False(t, f.engine.Enqueue(Event{Type: EventTypeRefresh}))
}

func TestEngine_RunReturnsAfterStop(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin)

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()
	f.engine.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after stop")
	}
}

func TestEngine_ProcessPendingCutsRunawayCascade(t *testing.T) {
	f := newFixture(t, testOptions(), permission.RoleAdmin, WithMaxEvents(5))

	refreshes := 0
	f.engine.Bus().Subscribe(func(ev variables.Event) {
		refreshes++
		f.vars.Partial(map[string]any{"var-tick": refreshes}, false)
	})

	require.NoError(t, f.engine.Load(context.Background()))
	err := f.engine.ProcessPending(context.Background())

	require.Error(t, err)
	assert.True(t, IsQuotaExceededError(err))
	assert.Equal(t, 5, refreshes)
	assert.Equal(t, 0, f.engine.Pending())
}
