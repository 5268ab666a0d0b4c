// Package datasource is the request/response boundary to remote data
// sources. The panel core only inspects a response's State and its first
// frame; everything else about a datasource is opaque.
package datasource

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/gridsync/internal/grid"
)

// State is the outcome reported by a datasource.
type State string

const (
	StateDone  State = "Done"
	StateError State = "Error"
)

// QueryError is one error reported by a datasource for a query.
type QueryError struct {
	RefID   string `json:"refId,omitempty"`
	Message string `json:"message"`
}

// QueryErrors is the error list of a response in StateError.
type QueryErrors []QueryError

// Error returns the first message; the rest are counted.
func (e QueryErrors) Error() string {
	switch len(e) {
	case 0:
		return "query failed"
	case 1:
		return e[0].Message
	default:
		return fmt.Sprintf("%s (and %d more)", e[0].Message, len(e)-1)
	}
}

// Request is one datasource request.
type Request struct {
	Datasource string
	RefID      string
	Query      string
	// Payload carries the row (mutations) or {"rows", "ids"} (nested loads).
	Payload map[string]any
	// ReplaceVariables interpolates dashboard variables into Query.
	ReplaceVariables func(string) string
}

// Interpolated returns Query with variables replaced.
func (r Request) Interpolated() string {
	if r.ReplaceVariables == nil {
		return r.Query
	}
	return r.ReplaceVariables(r.Query)
}

// Response is a datasource reply.
type Response struct {
	State  State        `json:"state"`
	Errors []QueryError `json:"errors,omitempty"`
	Data   []grid.Frame `json:"data,omitempty"`
}

// Failed reports whether the response is in the error state.
func (r *Response) Failed() bool {
	return r != nil && r.State == StateError
}

// Err returns the response's error list, or nil when it succeeded.
func (r *Response) Err() error {
	if !r.Failed() {
		return nil
	}
	return QueryErrors(r.Errors)
}

// First returns the first frame of the response.
func (r *Response) First() (grid.Frame, bool) {
	if r == nil || len(r.Data) == 0 {
		return grid.Frame{}, false
	}
	return r.Data[0], true
}

// Requester executes datasource requests.
type Requester interface {
	Request(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a function to Requester.
type Func func(ctx context.Context, req Request) (*Response, error)

// Request calls f.
func (f Func) Request(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Registry routes requests to named datasources.
type Registry struct {
	sources map[string]Requester
	def     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Requester)}
}

// Register adds a datasource. The first one registered becomes the
// default for requests that name none.
func (r *Registry) Register(name string, req Requester) {
	if r.def == "" {
		r.def = name
	}
	r.sources[name] = req
}

// Names returns the registered datasource names.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.sources))
}

// Request implements Requester.
func (r *Registry) Request(ctx context.Context, req Request) (*Response, error) {
	name := strings.TrimSpace(req.Datasource)
	if name == "" {
		name = r.def
	}
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("datasource %q not found", req.Datasource)
	}
	return src.Request(ctx, req)
}
