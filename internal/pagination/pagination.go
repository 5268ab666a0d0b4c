// Package pagination drives grid paging in client mode, where page state is
// local, or query mode, where page state is bound to dashboard variables
// consumed by the panel query.
package pagination

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/panel"
	"github.com/roach88/gridsync/internal/variables"
)

// ErrInvalidState is returned for a negative page index or a non-positive
// page size.
var ErrInvalidState = errors.New("pagination: invalid state")

// State is the current page.
type State struct {
	PageIndex int `json:"pageIndex" yaml:"pageIndex"`
	PageSize  int `json:"pageSize" yaml:"pageSize"`
}

// Validate checks PageIndex >= 0 and PageSize > 0.
func (s State) Validate() error {
	if s.PageIndex < 0 {
		return fmt.Errorf("%w: page index %d", ErrInvalidState, s.PageIndex)
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("%w: page size %d", ErrInvalidState, s.PageSize)
	}
	return nil
}

// Offset returns the index of the first row on the page.
func (s State) Offset() int {
	return s.PageIndex * s.PageSize
}

// TotalKind tells whether a total is a real count.
type TotalKind int

const (
	// Exact totals come from the rows or a count field.
	Exact TotalKind = iota
	// Estimated totals assume one more page exists.
	Estimated
)

func (k TotalKind) String() string {
	if k == Estimated {
		return "estimated"
	}
	return "exact"
}

// Total is the total row count used to size the pager.
type Total struct {
	Kind TotalKind `json:"kind"`
	N    int       `json:"n"`
}

// ExactTotal returns an exact total of n.
func ExactTotal(n int) Total { return Total{Kind: Exact, N: n} }

// EstimatedTotal returns an estimated total of n.
func EstimatedTotal(n int) Total { return Total{Kind: Estimated, N: n} }

// PageCount returns the number of pages needed for t rows.
func (t Total) PageCount(pageSize int) int {
	if pageSize <= 0 || t.N <= 0 {
		return 0
	}
	return (t.N + pageSize - 1) / pageSize
}

// Controller owns page state for one panel.
//
// Thread-safety: all methods are safe for concurrent use.
type Controller struct {
	cfg  panel.Pagination
	vars variables.Store

	mu    sync.Mutex
	state State
}

// NewController creates a controller. In query mode the state is seeded
// once, here, from the bound variables.
func NewController(cfg panel.Pagination, vars variables.Store) *Controller {
	c := &Controller{cfg: cfg, vars: vars}
	c.state = State{PageIndex: 0, PageSize: cfg.PageSize()}
	if c.Manual() {
		c.state = c.seed()
		slog.Debug("pagination seeded from variables",
			"page_index", c.state.PageIndex,
			"page_size", c.state.PageSize,
		)
	}
	return c
}

// Manual reports whether paging is driven by the panel query.
func (c *Controller) Manual() bool {
	return c.cfg.Enabled && c.cfg.Mode == panel.PaginationQuery
}

// Enabled reports whether paging is on at all.
func (c *Controller) Enabled() bool {
	return c.cfg.Enabled
}

// seed resolves the page size from pageSizeVariable, then the page index
// from pageIndexVariable or floor(offset / pageSize), else 0.
func (c *Controller) seed() State {
	st := State{PageSize: c.cfg.PageSize()}
	if n, ok := c.lookupInt(c.cfg.PageSizeVariable); ok && n > 0 {
		st.PageSize = n
	}
	if n, ok := c.lookupInt(c.cfg.PageIndexVariable); ok && n >= 0 {
		st.PageIndex = n
		return st
	}
	if off, ok := c.lookupInt(c.cfg.OffsetVariable); ok && off >= 0 {
		st.PageIndex = off / st.PageSize
	}
	return st
}

func (c *Controller) lookupInt(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	v, ok := variables.Lookup(c.vars, name)
	if !ok {
		return 0, false
	}
	return grid.ToInt(v)
}

// State returns the current page.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Total returns the total row count. Client mode counts the filtered rows.
// Query mode reads the first value of the configured count field and
// falls back to an estimate of one page beyond the current one.
func (c *Controller) Total(frames []grid.Frame, filteredRows int) Total {
	if !c.Manual() {
		return ExactTotal(filteredRows)
	}
	if ref := c.cfg.TotalCount; ref != nil {
		if f, ok := grid.FindField(frames, *ref); ok && len(f.Values) > 0 {
			if n, ok := grid.ToInt(f.Values[0]); ok && n >= 0 {
				return ExactTotal(n)
			}
		}
	}
	st := c.State()
	return EstimatedTotal((st.PageIndex+1)*st.PageSize + st.PageSize)
}

// Set moves to st. See Update.
func (c *Controller) Set(st State) error {
	return c.Update(func(State) State { return st })
}

// Update applies fn to the current page. In query mode every bound
// variable (page index, page size, offset) is written in one partial
// update. An invalid result leaves the state unchanged.
func (c *Controller) Update(fn func(State) State) error {
	c.mu.Lock()
	next := fn(c.state)
	if err := next.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.mu.Unlock()

	if !c.Manual() {
		return nil
	}

	update := make(map[string]any, 3)
	if name := c.cfg.PageIndexVariable; name != "" {
		update[variables.URLKey(name)] = next.PageIndex
	}
	if name := c.cfg.PageSizeVariable; name != "" {
		update[variables.URLKey(name)] = next.PageSize
	}
	if name := c.cfg.OffsetVariable; name != "" {
		update[variables.URLKey(name)] = next.Offset()
	}
	if len(update) == 0 {
		return nil
	}
	c.vars.Partial(update, true)
	slog.Debug("pagination variables written",
		"page_index", next.PageIndex,
		"page_size", next.PageSize,
		"keys", len(update),
	)
	return nil
}

// Page returns the rows of the current page in client mode, or rows
// unchanged in query mode and when paging is disabled.
func (c *Controller) Page(rows []grid.Row) []grid.Row {
	if !c.cfg.Enabled || c.Manual() {
		return rows
	}
	st := c.State()
	start := st.Offset()
	if start >= len(rows) {
		return []grid.Row{}
	}
	end := min(start+st.PageSize, len(rows))
	return rows[start:end]
}
