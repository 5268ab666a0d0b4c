// Package variables models dashboard-scoped variables: reading them,
// writing several at once through a single partial location update, and
// the refresh event stream that tells panels to reconcile.
package variables

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// URLPrefix prefixes variable keys in a partial location update.
const URLPrefix = "var-"

// URLKey returns the location key for a variable name.
func URLKey(name string) string {
	return URLPrefix + name
}

// Current holds the selected value of a variable: a string, or a string
// slice for multi-value variables.
type Current struct {
	Value any `json:"value" yaml:"value"`
}

// Variable is one dashboard variable.
type Variable struct {
	Name    string   `json:"name" yaml:"name"`
	Current *Current `json:"current,omitempty" yaml:"current,omitempty"`
}

// Store is read and batched-write access to dashboard variables.
type Store interface {
	Variables() []Variable
	// Partial applies every var- prefixed key of update in one step.
	// replace asks the host to replace the current history entry instead
	// of pushing a new one.
	Partial(update map[string]any, replace bool)
}

// Lookup returns the current value of a variable.
// Returns false when the variable does not exist or has no current value.
func Lookup(s Store, name string) (any, bool) {
	if s == nil || name == "" {
		return nil, false
	}
	for _, v := range s.Variables() {
		if v.Name == name {
			if v.Current == nil {
				return nil, false
			}
			return v.Current.Value, true
		}
	}
	return nil, false
}

// Update is one applied partial location update.
type Update struct {
	Values  map[string]any
	Replace bool
}

// Memory is an in-process Store. Every Partial call is applied under one
// lock and reported to change listeners exactly once.
type Memory struct {
	mu        sync.Mutex
	order     []string
	values    map[string]any
	updates   []Update
	listeners map[int]func(Update)
	nextID    int
}

// NewMemory creates a store seeded with initial variable values.
func NewMemory(initial map[string]any) *Memory {
	m := &Memory{
		values:    make(map[string]any),
		listeners: make(map[int]func(Update)),
	}
	names := make([]string, 0, len(initial))
	for name := range initial {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		m.setLocked(name, initial[name])
	}
	return m
}

// Set assigns a variable without notifying listeners, the way a host
// restores variables on dashboard load.
func (m *Memory) Set(name string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(name, value)
}

func (m *Memory) setLocked(name string, value any) {
	if _, ok := m.values[name]; !ok {
		m.order = append(m.order, name)
	}
	m.values[name] = value
}

// Variables returns the variables in declaration order.
func (m *Memory) Variables() []Variable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Variable, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, Variable{Name: name, Current: &Current{Value: m.values[name]}})
	}
	return out
}

// Partial implements Store. Keys without the var- prefix belong to other
// parts of the location and are ignored here.
func (m *Memory) Partial(update map[string]any, replace bool) {
	m.mu.Lock()
	applied := Update{Values: make(map[string]any, len(update)), Replace: replace}
	for key, value := range update {
		name, ok := strings.CutPrefix(key, URLPrefix)
		if !ok || name == "" {
			continue
		}
		m.setLocked(name, value)
		applied.Values[key] = value
	}
	m.updates = append(m.updates, applied)
	listeners := make([]func(Update), 0, len(m.listeners))
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	slog.Debug("variables updated", "keys", len(applied.Values), "replace", replace)
	for _, fn := range listeners {
		fn(applied)
	}
}

// OnChange registers fn to run after every Partial. The returned function
// removes the listener.
func (m *Memory) OnChange(fn func(Update)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Updates returns every Partial applied so far, oldest first.
func (m *Memory) Updates() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.updates)
}

// Replace interpolates variables into text using this store.
func (m *Memory) Replace(text string) string {
	return Interpolate(m, text)
}
