package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/gridsync/internal/grid"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestMutation creates a journal record with minimal required fields.
func createTestMutation(id, panelID, op string) MutationRecord {
	return MutationRecord{
		ID:      id,
		PanelID: panelID,
		Op:      op,
		Row:     grid.Row{"id": 1},
		Outcome: OutcomeSuccess,
	}
}
