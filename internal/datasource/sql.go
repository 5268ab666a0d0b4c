package datasource

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/gridsync/internal/grid"
)

// namedParam matches :name placeholders. A preceding colon or word
// character excludes casts (x::int) and times (10:30).
var namedParam = regexp.MustCompile(`(^|[^:\w]):([A-Za-z_]\w*)`)

var returningClause = regexp.MustCompile(`(?i)\bRETURNING\b`)

// SQL is a Requester over a database/sql handle, typically SQLite.
//
// The query is interpolated first, then every :name placeholder it still
// contains is bound from the payload. Placeholders without a payload key
// bind NULL. Lists and objects are bound as JSON text so queries can
// expand them with json_each.
// Statements that do not return rows report a single frame with
// rowsAffected and lastInsertId.
type SQL struct {
	db *sql.DB
}

// NewSQL wraps db.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// OpenSQLite opens a SQLite database for use as a datasource.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open datasource: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect datasource: %w", err)
	}
	// In-memory databases are per connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Request implements Requester. Statement failures are reported as a
// StateError response; only context cancellation is returned as an error.
func (s *SQL) Request(ctx context.Context, req Request) (*Response, error) {
	query := req.Interpolated()
	args, err := bindArgs(query, req.Payload)
	if err != nil {
		return errorResponse(req.RefID, err), nil
	}

	slog.Debug("datasource request",
		"datasource", req.Datasource,
		"ref_id", req.RefID,
		"params", len(args),
	)

	var resp *Response
	if returnsRows(query) {
		resp, err = s.query(ctx, req.RefID, query, args)
	} else {
		resp, err = s.exec(ctx, req.RefID, query, args)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("datasource statement failed", "datasource", req.Datasource, "error", err)
		return errorResponse(req.RefID, err), nil
	}
	return resp, nil
}

func (s *SQL) query(ctx context.Context, refID, query string, args []any) (*Response, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	frame := grid.Frame{RefID: refID, Fields: make([]grid.Field, len(cols))}
	for i, name := range cols {
		frame.Fields[i] = grid.Field{Name: name, Values: []any{}}
	}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			frame.Fields[i].Values = append(frame.Fields[i].Values, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range frame.Fields {
		frame.Fields[i].Type = inferType(frame.Fields[i].Values)
	}
	return &Response{State: StateDone, Data: []grid.Frame{frame}}, nil
}

func (s *SQL) exec(ctx context.Context, refID, query string, args []any) (*Response, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	frame := grid.Frame{RefID: refID, Fields: []grid.Field{
		{Name: "rowsAffected", Type: grid.FieldTypeNumber, Values: []any{affected}},
		{Name: "lastInsertId", Type: grid.FieldTypeNumber, Values: []any{lastID}},
	}}
	return &Response{State: StateDone, Data: []grid.Frame{frame}}, nil
}

func errorResponse(refID string, err error) *Response {
	return &Response{
		State:  StateError,
		Errors: []QueryError{{RefID: refID, Message: err.Error()}},
	}
}

// bindArgs returns one sql.Named per distinct placeholder in query.
func bindArgs(query string, payload map[string]any) ([]any, error) {
	var args []any
	seen := make(map[string]bool)
	for _, m := range namedParam.FindAllStringSubmatch(query, -1) {
		name := m[2]
		if seen[name] {
			continue
		}
		seen[name] = true
		v, err := bindValue(payload[name])
		if err != nil {
			return nil, fmt.Errorf("bind :%s: %w", name, err)
		}
		args = append(args, sql.Named(name, v))
	}
	return args, nil
}

func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, time.Time, []byte:
		return x, nil
	case json.Number:
		return x.String(), nil
	case grid.Key:
		return string(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

// returnsRows reports whether the statement produces a result set.
func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(stripLeadingComments(query)))
	for _, kw := range []string{"SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN"} {
		if strings.HasPrefix(q, kw) {
			return true
		}
	}
	return returningClause.MatchString(q)
}

func stripLeadingComments(q string) string {
	for {
		q = strings.TrimSpace(q)
		switch {
		case strings.HasPrefix(q, "--"):
			nl := strings.IndexByte(q, '\n')
			if nl < 0 {
				return ""
			}
			q = q[nl+1:]
		case strings.HasPrefix(q, "/*"):
			end := strings.Index(q, "*/")
			if end < 0 {
				return ""
			}
			q = q[end+2:]
		default:
			return q
		}
	}
}

func inferType(values []any) grid.FieldType {
	for _, v := range values {
		switch v.(type) {
		case nil:
			continue
		case string:
			return grid.FieldTypeString
		case int64, float64:
			return grid.FieldTypeNumber
		case bool:
			return grid.FieldTypeBoolean
		case time.Time:
			return grid.FieldTypeTime
		default:
			return grid.FieldTypeOther
		}
	}
	return grid.FieldTypeOther
}
