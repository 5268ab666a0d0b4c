package store

import (
	"context"
	"fmt"

	"github.com/roach88/gridsync/internal/grid"
)

// Mutation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// MutationRecord is one journal entry.
type MutationRecord struct {
	ID      string   `json:"id"`
	Seq     int64    `json:"seq"`
	PanelID string   `json:"panel_id"`
	Op      string   `json:"op"`
	Row     grid.Row `json:"row"`
	Outcome string   `json:"outcome"`
	Message string   `json:"message,omitempty"`
}

// AppendMutation inserts rec and returns the seq assigned to it.
// rec.Seq is ignored. Uses ON CONFLICT(id) DO NOTHING so a retried append
// of the same id is a no-op; the existing seq is returned in that case.
func (s *Store) AppendMutation(ctx context.Context, rec MutationRecord) (int64, error) {
	rowJSON, err := marshalRow(rec.Row)
	if err != nil {
		return 0, fmt.Errorf("append mutation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mutations (id, seq, panel_id, op, row, outcome, message)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM mutations), ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.PanelID,
		rec.Op,
		rowJSON,
		rec.Outcome,
		rec.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("append mutation: %w", err)
	}

	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM mutations WHERE id = ?`, rec.ID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("append mutation: read seq: %w", err)
	}
	return seq, nil
}

// ReadMutations returns the journal for a panel, oldest first.
// Ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the panel has no entries.
func (s *Store) ReadMutations(ctx context.Context, panelID string) ([]MutationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, panel_id, op, row, outcome, message
		FROM mutations
		WHERE panel_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, panelID)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	records := []MutationRecord{}
	for rows.Next() {
		var rec MutationRecord
		var rowJSON string
		if err := rows.Scan(&rec.ID, &rec.Seq, &rec.PanelID, &rec.Op, &rowJSON, &rec.Outcome, &rec.Message); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		if rec.Row, err = unmarshalRow(rowJSON); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return records, nil
}
