// Package nested loads child records referenced by id from grid columns
// and keeps a per-type cache of them keyed by normalized id.
package nested

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/gridsync/internal/datasource"
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/notify"
	"github.com/roach88/gridsync/internal/panel"
)

// UnknownError is notified when a failed load carries no message.
const UnknownError = "Unknown Error"

// maxParallelLoads bounds LoadAll.
const maxParallelLoads = 4

// Resolver batches id lookups per object type.
//
// Thread-safety: all methods are safe for concurrent use. A load
// superseded by a newer load of the same object type is discarded.
type Resolver struct {
	objects   []panel.NestedObject
	requester datasource.Requester
	sink      notify.Sink
	replace   func(string) string

	mu    sync.Mutex
	cache map[string]map[grid.Key]grid.Row
	gen   map[string]uint64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithReplaceVariables interpolates dashboard variables into object queries.
func WithReplaceVariables(fn func(string) string) Option {
	return func(r *Resolver) {
		r.replace = fn
	}
}

// NewResolver creates a resolver for the nested object types in opts.
// A nil sink logs notifications.
func NewResolver(opts *panel.Options, requester datasource.Requester, sink notify.Sink, options ...Option) *Resolver {
	if sink == nil {
		sink = notify.Log{}
	}
	r := &Resolver{
		requester: requester,
		sink:      sink,
		cache:     make(map[string]map[grid.Key]grid.Row),
		gen:       make(map[string]uint64),
	}
	if opts != nil {
		r.objects = opts.NestedObjects
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Resolver) object(id string) (panel.NestedObject, bool) {
	for _, o := range r.objects {
		if o.ID == id {
			return o, true
		}
	}
	return panel.NestedObject{}, false
}

// CollectIDs returns the distinct ids referenced by column across rows in
// first-seen order. Array cells are flattened; nil and empty arrays
// contribute nothing.
func CollectIDs(column string, rows []grid.Row) []any {
	seen := make(map[grid.Key]bool)
	out := []any{}
	add := func(v any) {
		k, ok := grid.KeyOf(v)
		if !ok || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, v)
	}
	for _, row := range rows {
		switch cell := row[column].(type) {
		case []any:
			for _, v := range cell {
				add(v)
			}
		case []string:
			for _, v := range cell {
				add(v)
			}
		default:
			add(cell)
		}
	}
	return out
}

// Load fetches the records referenced by column. No request is made when
// the column names no configured object type or references no ids.
func (r *Resolver) Load(ctx context.Context, column panel.Column, rows []grid.Row) error {
	if column.ObjectID == "" {
		return nil
	}
	obj, ok := r.object(column.ObjectID)
	if !ok {
		slog.Debug("nested load skipped: unknown object type", "column", column.ID, "object", column.ObjectID)
		return nil
	}
	return r.load(ctx, obj, CollectIDs(column.ID, rows), rows)
}

func (r *Resolver) load(ctx context.Context, obj panel.NestedObject, ids []any, rows []grid.Row) error {
	if len(ids) == 0 {
		slog.Debug("nested load skipped: no ids", "object", obj.ID)
		return nil
	}

	r.mu.Lock()
	r.gen[obj.ID]++
	gen := r.gen[obj.ID]
	r.mu.Unlock()

	payloadRows := make([]any, len(rows))
	for i, row := range rows {
		payloadRows[i] = map[string]any(row.Clone())
	}
	resp, err := r.requester.Request(ctx, datasource.Request{
		Datasource:       obj.Request.Datasource,
		Query:            obj.Request.Query,
		Payload:          map[string]any{"rows": payloadRows, "ids": ids},
		ReplaceVariables: r.replace,
	})
	if err == nil && resp.Failed() {
		err = resp.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.superseded(obj.ID, gen) {
			slog.Warn("stale nested load failure discarded", "object", obj.ID, "error", err)
			return nil
		}
		msg := failureMessage(err)
		slog.Error("nested load failed", "object", obj.ID, "error", msg)
		r.sink.Error(msg)
		return fmt.Errorf("load %s: %w", obj.ID, err)
	}

	records := make(map[grid.Key]grid.Row)
	if frame, ok := resp.First(); ok {
		keyField := obj.KeyField()
		for _, row := range frame.Rows() {
			if k, ok := grid.KeyOf(row[keyField]); ok {
				records[k] = row
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[obj.ID] != gen {
		slog.Warn("stale nested load discarded", "object", obj.ID)
		return nil
	}
	r.cache[obj.ID] = records
	slog.Info("nested objects loaded", "object", obj.ID, "ids", len(ids), "records", len(records))
	return nil
}

func (r *Resolver) superseded(objectID string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen[objectID] != gen
}

// LoadAll loads every object type referenced by columns, one request per
// type, in parallel. Columns sharing a type share the request. All loads
// run to completion; the errors are joined.
func (r *Resolver) LoadAll(ctx context.Context, columns []panel.Column, rows []grid.Row) error {
	var order []string
	byType := make(map[string][]any)
	for _, col := range columns {
		if col.ObjectID == "" {
			continue
		}
		if _, ok := r.object(col.ObjectID); !ok {
			continue
		}
		if _, ok := byType[col.ObjectID]; !ok {
			order = append(order, col.ObjectID)
		}
		byType[col.ObjectID] = append(byType[col.ObjectID], CollectIDs(col.ID, rows)...)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	for _, t := range order {
		obj, _ := r.object(t)
		ids := dedupe(byType[t])
		g.Go(func() error {
			if err := r.load(gctx, obj, ids, rows); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func dedupe(ids []any) []any {
	seen := make(map[grid.Key]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		k, _ := grid.KeyOf(id)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, id)
	}
	return out
}

func failureMessage(err error) string {
	var qerrs datasource.QueryErrors
	if errors.As(err, &qerrs) {
		if len(qerrs) > 0 && qerrs[0].Message != "" {
			return qerrs[0].Message
		}
		return UnknownError
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return UnknownError
}

// Lookup returns the cached record of objectType with the given id.
func (r *Resolver) Lookup(objectType string, id any) (grid.Row, bool) {
	k, ok := grid.KeyOf(id)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.cache[objectType][k]
	return row, ok
}

// Objects returns a copy of the cached records of objectType.
func (r *Resolver) Objects(objectType string) map[grid.Key]grid.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.cache[objectType])
}

// Types returns the object types with a cache entry, sorted.
func (r *Resolver) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.cache))
}
