package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/variables"
)

func queryColumn(id, variable string, typ grid.FilterType) panel.Column {
	return panel.Column{ID: id, Filter: panel.ColumnFilter{
		Enabled: true, Mode: panel.FilterModeQuery, Type: typ, Variable: variable,
	}}
}

type memPrefs struct {
	saved   map[string]grid.ColumnFilters
	saveErr error
}

func (m *memPrefs) LoadFilters(ctx context.Context, key string) (grid.ColumnFilters, error) {
	return m.saved[key], nil
}

func (m *memPrefs) SaveFilters(ctx context.Context, key string, f grid.ColumnFilters) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.saved == nil {
		m.saved = map[string]grid.ColumnFilters{}
	}
	m.saved[key] = f.Clone()
	return nil
}

func TestSynchronizer_PreferenceAdoptedExactly(t *testing.T) {
	vars := variables.NewMemory(nil)
	s := NewSynchronizer(vars)
	s.SetColumns([]panel.Column{{ID: "a"}, {ID: "b"}})

	pref := grid.ColumnFilters{{ID: "b", Value: grid.Search("test", false)}}
	s.SetPreference(pref)

	assert.Equal(t, pref, s.Filters())
}

func TestSynchronizer_EmptyPreferenceIgnored(t *testing.T) {
	s := NewSynchronizer(variables.NewMemory(nil))
	require.NoError(t, s.SetFilters(context.Background(), grid.ColumnFilters{{ID: "a", Value: grid.Search("x", false)}}))

	s.SetPreference(grid.ColumnFilters{})
	assert.Len(t, s.Filters(), 1)
}

func TestSynchronizer_PreferenceAdoptedOnlyWhenChanged(t *testing.T) {
	s := NewSynchronizer(variables.NewMemory(nil))
	pref := grid.ColumnFilters{{ID: "b", Value: grid.Search("test", false)}}
	s.SetPreference(pref)

	manual := grid.ColumnFilters{{ID: "c", Value: grid.Faceted("x")}}
	require.NoError(t, s.SetFilters(context.Background(), manual))

	s.SetPreference(pref)
	assert.Equal(t, manual, s.Filters(), "same preference is not re-adopted")
}

func TestSynchronizer_RefreshMergesVariableFilters(t *testing.T) {
	vars := variables.NewMemory(map[string]any{"status": ""})
	bus := variables.NewBus()
	s := NewSynchronizer(vars)
	s.Mount(bus)
	defer s.Close()

	s.SetColumns([]panel.Column{{ID: "b"}, queryColumn("status", "status", grid.FilterFaceted)})
	s.SetPreference(grid.ColumnFilters{{ID: "b", Value: grid.Search("test", false)}})

	vars.Set("status", []string{"open", "closed"})
	bus.Publish(variables.Event{Type: variables.EventRefresh})

	assert.Equal(t, grid.ColumnFilters{
		{ID: "b", Value: grid.Search("test", false)},
		{ID: "status", Value: grid.Faceted("open", "closed")},
	}, s.Filters())

	// Repeated refresh is a no-op.
	bus.Publish(variables.Event{Type: variables.EventRefresh})
	assert.Len(t, s.Filters(), 2)
}

func TestSynchronizer_ManualWinsUntilRefresh(t *testing.T) {
	vars := variables.NewMemory(map[string]any{"q": "alpha"})
	bus := variables.NewBus()
	s := NewSynchronizer(vars)
	s.Mount(bus)
	defer s.Close()

	s.SetColumns([]panel.Column{queryColumn("name", "q", grid.FilterSearch)})
	require.Equal(t, grid.Search("alpha", false), mustGet(t, s.Filters(), "name"))

	require.NoError(t, s.SetFilters(context.Background(), grid.ColumnFilters{{ID: "name", Value: grid.Search("manual", false)}}))
	assert.Equal(t, grid.Search("manual", false), mustGet(t, s.Filters(), "name"))

	bus.Publish(variables.Event{Type: variables.EventRefresh})
	assert.Equal(t, grid.Search("alpha", false), mustGet(t, s.Filters(), "name"))
}

func TestSynchronizer_EmptyVariableClearsColumn(t *testing.T) {
	vars := variables.NewMemory(map[string]any{"q": "alpha"})
	bus := variables.NewBus()
	s := NewSynchronizer(vars)
	s.Mount(bus)
	defer s.Close()

	s.SetColumns([]panel.Column{{ID: "other"}, queryColumn("name", "q", grid.FilterSearch)})
	require.NoError(t, s.SetFilters(context.Background(), grid.ColumnFilters{
		{ID: "other", Value: grid.Search("keep", false)},
		{ID: "name", Value: grid.Search("alpha", false)},
	}))

	vars.Set("q", "")
	bus.Publish(variables.Event{Type: variables.EventRefresh})

	assert.Equal(t, grid.ColumnFilters{{ID: "other", Value: grid.Search("keep", false)}}, s.Filters())
}

func TestSynchronizer_UnknownVariableContributesNothing(t *testing.T) {
	s := NewSynchronizer(variables.NewMemory(nil))
	require.NoError(t, s.SetFilters(context.Background(), grid.ColumnFilters{{ID: "name", Value: grid.Search("x", false)}}))

	s.SetColumns([]panel.Column{queryColumn("name", "missing", grid.FilterSearch)})
	assert.Equal(t, grid.Search("x", false), mustGet(t, s.Filters(), "name"))
}

func TestSynchronizer_DefaultsMergedWhenChanged(t *testing.T) {
	s := NewSynchronizer(variables.NewMemory(nil))
	require.NoError(t, s.SetFilters(context.Background(), grid.ColumnFilters{{ID: "a", Value: grid.Search("mine", false)}}))

	s.SetDefaults(grid.ColumnFilters{{ID: "b", Value: grid.Search("def", false)}})
	assert.Len(t, s.Filters(), 2)

	// Unchanged defaults do not override a later manual edit.
	require.NoError(t, s.SetFilters(context.Background(), grid.ColumnFilters{{ID: "b", Value: grid.Search("edited", false)}}))
	s.SetDefaults(grid.ColumnFilters{{ID: "b", Value: grid.Search("def", false)}})
	assert.Equal(t, grid.Search("edited", false), mustGet(t, s.Filters(), "b"))
}

func TestSynchronizer_CloseUnsubscribes(t *testing.T) {
	bus := variables.NewBus()
	s := NewSynchronizer(variables.NewMemory(nil))

	s.Mount(bus)
	s.Mount(bus)
	assert.Equal(t, 1, bus.Len())

	s.Close()
	s.Close()
	assert.Equal(t, 0, bus.Len())
}

func TestSynchronizer_RemountMovesSubscription(t *testing.T) {
	first, second := variables.NewBus(), variables.NewBus()
	vars := variables.NewMemory(map[string]any{"q": "a"})
	s := NewSynchronizer(vars)
	s.SetColumns([]panel.Column{queryColumn("name", "q", grid.FilterSearch)})

	s.Mount(first)
	s.Mount(second)
	assert.Equal(t, 0, first.Len())
	assert.Equal(t, 1, second.Len())

	vars.Set("q", "b")
	first.Publish(variables.Event{Type: variables.EventRefresh})
	assert.Equal(t, grid.Search("a", false), mustGet(t, s.Filters(), "name"), "old bus no longer reaches the synchronizer")

	second.Publish(variables.Event{Type: variables.EventRefresh})
	assert.Equal(t, grid.Search("b", false), mustGet(t, s.Filters(), "name"))
}

func TestSynchronizer_PersistsManualFilters(t *testing.T) {
	prefs := &memPrefs{}
	s := NewSynchronizer(variables.NewMemory(nil), WithPreferenceStore(prefs, "orders/alice"))

	manual := grid.ColumnFilters{{ID: "a", Value: grid.Search("x", true)}}
	require.NoError(t, s.SetFilters(context.Background(), manual))
	assert.Equal(t, manual, prefs.saved["orders/alice"])

	fresh := NewSynchronizer(variables.NewMemory(nil), WithPreferenceStore(prefs, "orders/alice"))
	require.NoError(t, fresh.LoadPreference(context.Background()))
	assert.Equal(t, manual, fresh.Filters())
}

func TestSynchronizer_PersistFailureReturned(t *testing.T) {
	prefs := &memPrefs{saveErr: errors.New("disk full")}
	s := NewSynchronizer(variables.NewMemory(nil), WithPreferenceStore(prefs, "k"))

	err := s.SetFilters(context.Background(), grid.ColumnFilters{{ID: "a", Value: grid.Search("x", false)}})
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, s.Filters(), 1, "in-memory state still updated")
}

func mustGet(t *testing.T, f grid.ColumnFilters, id string) grid.FilterValue {
	t.Helper()
	v, ok := f.Get(id)
	require.True(t, ok, "no filter for %q in %+v", id, f)
	return v
}
