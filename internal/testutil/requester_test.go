package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/datasource"
	"github.com/roach88/gridsync/internal/grid"
)

func okRequester() datasource.Requester {
	return datasource.Func(func(_ context.Context, req datasource.Request) (*datasource.Response, error) {
		return &datasource.Response{
			State: datasource.StateDone,
			Data:  []grid.Frame{{RefID: req.RefID}},
		}, nil
	})
}

func TestRecordingRequester_RecordsInterpolatedQuery(t *testing.T) {
	r := &RecordingRequester{Next: okRequester()}

	resp, err := r.Request(context.Background(), datasource.Request{
		Datasource:       "main",
		Query:            "SELECT $x",
		Payload:          map[string]any{"id": 1},
		ReplaceVariables: func(string) string { return "SELECT 1" },
	})
	require.NoError(t, err)
	assert.False(t, resp.Failed())

	assert.Equal(t, []RecordedRequest{{
		Datasource: "main",
		Query:      "SELECT 1",
		Payload:    map[string]any{"id": 1},
	}}, r.Requests())
}

func TestRecordingRequester_Fail(t *testing.T) {
	r := &RecordingRequester{
		Next: okRequester(),
		Fail: func(req datasource.Request) (string, bool) {
			return "database is locked", req.Datasource == "main"
		},
	}

	resp, err := r.Request(context.Background(), datasource.Request{Datasource: "main", RefID: "A"})
	require.NoError(t, err)
	require.True(t, resp.Failed())
	assert.EqualError(t, resp.Err(), "database is locked")

	resp, err = r.Request(context.Background(), datasource.Request{Datasource: "other"})
	require.NoError(t, err)
	assert.False(t, resp.Failed())

	requests := r.Requests()
	require.Len(t, requests, 2)
	assert.True(t, requests[0].Failed)
	assert.False(t, requests[1].Failed)

	r.Reset()
	assert.Empty(t, r.Requests())
}

func TestRecordingRequester_OnRecord(t *testing.T) {
	var seen []string
	r := &RecordingRequester{
		Next:     okRequester(),
		OnRecord: func(rec RecordedRequest) { seen = append(seen, rec.Query) },
	}

	_, err := r.Request(context.Background(), datasource.Request{Query: "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1"}, seen)
}
