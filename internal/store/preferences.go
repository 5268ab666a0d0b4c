package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/gridsync/internal/grid"
)

// PreferenceKey builds the key under which a user's filters for a panel
// are stored.
func PreferenceKey(panelID, login string) string {
	return panelID + "/" + login
}

// LoadFilters returns the saved filters for key.
// Returns nil (not an error) when nothing has been saved.
func (s *Store) LoadFilters(ctx context.Context, key string) (grid.ColumnFilters, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT filters FROM filter_preferences WHERE key = ?
	`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load filters: %w", err)
	}
	return unmarshalFilters(data)
}

// SaveFilters replaces the saved filters for key.
func (s *Store) SaveFilters(ctx context.Context, key string, filters grid.ColumnFilters) error {
	data, err := marshalFilters(filters)
	if err != nil {
		return fmt.Errorf("save filters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO filter_preferences (key, filters, seq)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM filter_preferences))
		ON CONFLICT(key) DO UPDATE SET filters = excluded.filters, seq = excluded.seq
	`, key, data)
	if err != nil {
		return fmt.Errorf("save filters: %w", err)
	}
	return nil
}
