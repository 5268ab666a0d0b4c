// Package filter keeps the authoritative column filter state of a panel
// and applies client-mode filters to loaded rows.
//
// Three sources feed the state, each merged onto the previous:
//  1. the persisted user preference, adopted whenever it changes
//  2. variable-driven filters, recomputed on every column change and
//     every refresh event
//  3. manual SetFilters calls, which win until the next refresh event
//
// Configured default filters merge the same way as variable-driven ones
// when they change.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/variables"
)

// PreferenceStore persists a user's filters. *store.Store implements it.
type PreferenceStore interface {
	LoadFilters(ctx context.Context, key string) (grid.ColumnFilters, error)
	SaveFilters(ctx context.Context, key string, filters grid.ColumnFilters) error
}

// Synchronizer reconciles filter sources into one ColumnFilters value.
//
// Thread-safety: all methods are safe for concurrent use. Refresh events
// are handled on the publishing goroutine.
type Synchronizer struct {
	vars    variables.Store
	prefs   PreferenceStore
	prefKey string

	mu          sync.Mutex
	columns     []panel.Column
	filters     grid.ColumnFilters
	preference  grid.ColumnFilters
	defaults    grid.ColumnFilters
	bus         variables.Subscriber
	unsubscribe func()
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithPreferenceStore persists manual filter changes under key and lets
// LoadPreference seed the state from it.
func WithPreferenceStore(p PreferenceStore, key string) Option {
	return func(s *Synchronizer) {
		s.prefs = p
		s.prefKey = key
	}
}

// NewSynchronizer creates a synchronizer reading variables from vars.
func NewSynchronizer(vars variables.Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{vars: vars, filters: grid.ColumnFilters{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount subscribes to refresh events on bus. Mounting on a different bus
// first unsubscribes from the previous one; mounting twice on the same
// bus is a no-op.
func (s *Synchronizer) Mount(bus variables.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus == bus && s.unsubscribe != nil {
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.bus = bus
	s.unsubscribe = bus.Subscribe(s.handle)
}

// Close unsubscribes from the bus. Safe to call more than once.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = nil
	s.bus = nil
}

func (s *Synchronizer) handle(ev variables.Event) {
	if ev.Type != variables.EventRefresh {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeVariablesLocked()
	slog.Debug("filters reconciled on refresh", "seq", ev.Seq, "filters", len(s.filters))
}

// SetColumns replaces the column set and merges variable-driven filters.
func (s *Synchronizer) SetColumns(columns []panel.Column) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = columns
	s.mergeVariablesLocked()
}

// SetPreference adopts a non-empty preference as the new state when it
// differs from the last preference seen, then merges variable-driven
// filters on top.
func (s *Synchronizer) SetPreference(pref grid.ColumnFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preference.Equal(pref) {
		return
	}
	s.preference = pref.Clone()
	if len(pref) == 0 {
		return
	}
	s.filters = pref.Clone()
	s.mergeVariablesLocked()
	slog.Debug("filter preference adopted", "filters", len(pref))
}

// LoadPreference reads the persisted preference and adopts it.
// Does nothing without a preference store.
func (s *Synchronizer) LoadPreference(ctx context.Context) error {
	if s.prefs == nil {
		return nil
	}
	pref, err := s.prefs.LoadFilters(ctx, s.prefKey)
	if err != nil {
		return fmt.Errorf("load filter preference: %w", err)
	}
	s.SetPreference(pref)
	return nil
}

// SetDefaults merges configured default filters when they change.
func (s *Synchronizer) SetDefaults(defaults grid.ColumnFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defaults.Equal(defaults) {
		return
	}
	s.defaults = defaults.Clone()
	s.filters = s.filters.Merge(defaults)
}

// SetFilters replaces the state with a manual edit and persists it as
// the user's preference when a store is configured. The persisted value
// also becomes the last seen preference so it is not re-adopted.
func (s *Synchronizer) SetFilters(ctx context.Context, filters grid.ColumnFilters) error {
	s.mu.Lock()
	s.filters = filters.Clone()
	if s.filters == nil {
		s.filters = grid.ColumnFilters{}
	}
	if s.prefs != nil {
		s.preference = filters.Clone()
	}
	s.mu.Unlock()

	if s.prefs == nil {
		return nil
	}
	if err := s.prefs.SaveFilters(ctx, s.prefKey, filters); err != nil {
		return fmt.Errorf("save filter preference: %w", err)
	}
	return nil
}

// Filters returns a copy of the current state.
func (s *Synchronizer) Filters() grid.ColumnFilters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Clone()
}

func (s *Synchronizer) mergeVariablesLocked() {
	derived := VariableFilters(s.vars, s.columns)
	if len(derived) == 0 {
		return
	}
	s.filters = s.filters.Merge(derived)
}
