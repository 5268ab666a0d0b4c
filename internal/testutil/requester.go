package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/gridsync/internal/datasource"
)

// RecordedRequest is one request seen by a RecordingRequester, with the
// query already interpolated.
type RecordedRequest struct {
	Datasource string         `json:"datasource"`
	Query      string         `json:"query"`
	Payload    map[string]any `json:"payload,omitempty"`
	Failed     bool           `json:"failed,omitempty"`
}

// RecordingRequester forwards requests to Next and keeps a log of them.
// A non-nil Fail replaces the response of matching requests with an
// error-state response carrying its message. A non-nil OnRecord is called
// with every recorded request after the response is known.
//
// Thread-safety: safe for concurrent use.
type RecordingRequester struct {
	Next     datasource.Requester
	Fail     func(req datasource.Request) (message string, fail bool)
	OnRecord func(rec RecordedRequest)

	mu       sync.Mutex
	requests []RecordedRequest
}

// Request implements datasource.Requester.
func (r *RecordingRequester) Request(ctx context.Context, req datasource.Request) (*datasource.Response, error) {
	rec := RecordedRequest{
		Datasource: req.Datasource,
		Query:      req.Interpolated(),
		Payload:    maps.Clone(req.Payload),
	}
	var (
		resp *datasource.Response
		err  error
	)
	if msg, fail := r.shouldFail(req); fail {
		resp = &datasource.Response{
			State:  datasource.StateError,
			Errors: []datasource.QueryError{{RefID: req.RefID, Message: msg}},
		}
	} else {
		resp, err = r.Next.Request(ctx, req)
	}
	rec.Failed = err != nil || resp.Failed()

	r.mu.Lock()
	r.requests = append(r.requests, rec)
	r.mu.Unlock()
	if r.OnRecord != nil {
		r.OnRecord(rec)
	}
	return resp, err
}

func (r *RecordingRequester) shouldFail(req datasource.Request) (string, bool) {
	if r.Fail == nil {
		return "", false
	}
	return r.Fail(req)
}

// Requests returns the requests seen so far, oldest first.
func (r *RecordingRequester) Requests() []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.requests)
}

// Reset drops the recorded requests.
func (r *RecordingRequester) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}
