package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendMutation_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq1, err := s.AppendMutation(ctx, createTestMutation("m1", "orders", "add"))
	require.NoError(t, err)
	seq2, err := s.AppendMutation(ctx, createTestMutation("m2", "orders", "delete"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)
}

func TestAppendMutation_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq1, err := s.AppendMutation(ctx, createTestMutation("m1", "orders", "add"))
	require.NoError(t, err)
	seq2, err := s.AppendMutation(ctx, createTestMutation("m1", "orders", "add"))
	require.NoError(t, err)
	assert.Equal(t, seq1, seq2)

	records, err := s.ReadMutations(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAppendMutation_RejectsUnknownOp(t *testing.T) {
	s := createTestStore(t)

	_, err := s.AppendMutation(context.Background(), createTestMutation("m1", "orders", "upsert"))
	assert.Error(t, err)
}

func TestReadMutations_OrderedAndScopedToPanel(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	failed := createTestMutation("m2", "orders", "update")
	failed.Outcome = OutcomeError
	failed.Message = "update Error: boom"

	for _, rec := range []MutationRecord{
		createTestMutation("m1", "orders", "add"),
		createTestMutation("x1", "customers", "add"),
		failed,
	} {
		_, err := s.AppendMutation(ctx, rec)
		require.NoError(t, err)
	}

	records, err := s.ReadMutations(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "m1", records[0].ID)
	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, "m2", records[1].ID)
	assert.Equal(t, int64(3), records[1].Seq)
	assert.Equal(t, OutcomeError, records[1].Outcome)
	assert.Equal(t, "update Error: boom", records[1].Message)
	assert.Equal(t, json.Number("1"), records[0].Row["id"])
}

func TestReadMutations_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	records, err := s.ReadMutations(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}
