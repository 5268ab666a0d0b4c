package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPartial_AppliesPrefixedKeysAtomically(t *testing.T) {
	m := NewMemory(map[string]any{"pageIndex": "0"})

	var seen []Update
	m.OnChange(func(u Update) { seen = append(seen, u) })

	m.Partial(map[string]any{"var-pageIndex": 15, "var-pageSize": 100, "from": "now-6h"}, true)

	require.Len(t, seen, 1, "one partial update must notify exactly once")
	assert.Equal(t, map[string]any{"var-pageIndex": 15, "var-pageSize": 100}, seen[0].Values)
	assert.True(t, seen[0].Replace)

	v, ok := Lookup(m, "pageIndex")
	require.True(t, ok)
	assert.Equal(t, 15, v)
	v, ok = Lookup(m, "pageSize")
	require.True(t, ok)
	assert.Equal(t, 100, v)
	_, ok = Lookup(m, "from")
	assert.False(t, ok)
}

func TestMemoryOnChange_Unsubscribe(t *testing.T) {
	m := NewMemory(nil)
	calls := 0
	stop := m.OnChange(func(Update) { calls++ })

	m.Partial(map[string]any{"var-a": "1"}, false)
	stop()
	m.Partial(map[string]any{"var-a": "2"}, false)

	assert.Equal(t, 1, calls)
	assert.Len(t, m.Updates(), 2)
}

func TestMemoryVariables_DeclarationOrder(t *testing.T) {
	m := NewMemory(map[string]any{"b": "2", "a": "1"})
	m.Set("c", "3")

	vars := m.Variables()
	require.Len(t, vars, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{vars[0].Name, vars[1].Name, vars[2].Name})
}

func TestLookup_Missing(t *testing.T) {
	_, ok := Lookup(NewMemory(nil), "nope")
	assert.False(t, ok)
	_, ok = Lookup(nil, "nope")
	assert.False(t, ok)
}

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	var got []Event
	stop := bus.Subscribe(func(ev Event) { got = append(got, ev) })

	bus.Publish(Event{Type: EventRefresh})
	stop()
	stop()
	bus.Publish(Event{Type: EventRefresh})

	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, 0, bus.Len())
}

func TestInterpolate(t *testing.T) {
	m := NewMemory(map[string]any{
		"user":   "bob",
		"ids":    []string{"1", "2"},
		"quoted": "o'neil",
	})

	assert.Equal(t, "SELECT * FROM t WHERE u = 'bob'", Interpolate(m, "SELECT * FROM t WHERE u = '$user'"))
	assert.Equal(t, "bob-bob-bob", Interpolate(m, "${user}-[[user]]-$user"))
	assert.Equal(t, "IN (1,2)", Interpolate(m, "IN (${ids:csv})"))
	assert.Equal(t, "IN ('1','2')", Interpolate(m, "IN (${ids:sqlstring})"))
	assert.Equal(t, `["1","2"]`, Interpolate(m, "${ids:json}"))
	assert.Equal(t, `"bob"`, Interpolate(m, "${user:json}"))
	assert.Equal(t, "'o''neil'", Interpolate(m, "${quoted:sqlstring}"))
	assert.Equal(t, "$missing stays", Interpolate(m, "$missing stays"))
	assert.Equal(t, "plain", m.Replace("plain"))
}
