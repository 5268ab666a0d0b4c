package cli

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/store"
)

const pagedPanel = `id: items
query:
  datasource: main
  refId: A
  query: SELECT id, name, (SELECT COUNT(*) FROM items) AS total FROM items ORDER BY id LIMIT ${pageSize} OFFSET ${offset}
columns:
  - id: id
  - id: name
    filter:
      enabled: true
      type: search
  - id: __actions
pagination:
  enabled: true
  mode: query
  defaultPageSize: 2
  pageSizeVariable: pageSize
  offsetVariable: offset
  totalCount:
    source: A
    name: total
`

const clientPanel = `id: items
query:
  datasource: main
  query: SELECT id, name FROM items ORDER BY id
columns:
  - id: id
  - id: name
    filter:
      enabled: true
      type: search
pagination:
  enabled: true
  defaultPageSize: 2
`

func itemsDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO items (id, name) VALUES (1, 'apple'), (2, 'banana'), (3, 'cherry'), (4, 'date'), (5, 'elder')`)
	require.NoError(t, err)
	return path
}

func TestPage_QueryModeText(t *testing.T) {
	dbPath := itemsDB(t)
	panelPath := writeFile(t, t.TempDir(), "items.yaml", pagedPanel)

	out, err := executeRoot(t, "page", panelPath, "--db", dbPath, "--var", "pageSize=2", "--var", "offset=0", "--page", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "cherry")
	assert.Contains(t, out, "date")
	assert.NotContains(t, out, "apple")
	assert.NotContains(t, out, "__actions")
	assert.Contains(t, out, "page 2 (size 2), 2 row(s) shown, 5 total")
}

func TestPage_ClientModeJSON(t *testing.T) {
	dbPath := itemsDB(t)
	panelPath := writeFile(t, t.TempDir(), "items.yaml", clientPanel)

	out, err := executeRoot(t, "--format", "json", "page", panelPath, "--db", dbPath, "--page", "2")
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   PageResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"id", "name"}, resp.Data.Columns)
	require.Len(t, resp.Data.Rows, 1)
	assert.Equal(t, "elder", resp.Data.Rows[0]["name"])
	assert.Equal(t, 5, resp.Data.Total)
	assert.True(t, resp.Data.Exact)
	assert.Equal(t, 2, resp.Data.Page.PageIndex)
}

func TestPage_SavedFiltersApply(t *testing.T) {
	dbPath := itemsDB(t)
	panelPath := writeFile(t, t.TempDir(), "items.yaml", clientPanel)
	storePath := filepath.Join(t.TempDir(), "prefs.db")

	st, err := store.Open(storePath)
	require.NoError(t, err)
	require.NoError(t, st.SaveFilters(t.Context(), store.PreferenceKey("items", "alice"),
		grid.ColumnFilters{{ID: "name", Value: grid.Search("an", false)}}))
	require.NoError(t, st.Close())

	out, err := executeRoot(t, "page", panelPath, "--db", dbPath, "--store", storePath, "--user", "alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "banana")
	assert.NotContains(t, out, "cherry")
	assert.Contains(t, out, "1 row(s) shown, 1 total")
}

func TestPage_MissingDatabase(t *testing.T) {
	panelPath := writeFile(t, t.TempDir(), "items.yaml", clientPanel)

	_, err := executeRoot(t, "page", panelPath, "--db", "/nonexistent/items.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPage_QueryFailure(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE other (x INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	panelPath := writeFile(t, t.TempDir(), "items.yaml", clientPanel)

	out, err := executeRoot(t, "page", panelPath, "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no such table: items")
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"status=open", "region=eu", "region=us", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"status": "open",
		"region": []string{"eu", "us"},
		"empty":  "",
	}, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
}
