//go:build integration

// Integration tests run the engine against a real PostgreSQL database
// handed out by pgflock (port 9776).

package sqlmcp

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rickchristie/govner/pgflock/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

// acquireTestDB locks a scratch database and returns its connection string.
func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

// newPostgresInstance returns an engine bound to a locked database, a
// writable handle for fixtures and the database name.
func newPostgresInstance(t *testing.T, mutate func(*Settings)) (*SQLMcp, *sql.DB, string) {
	t.Helper()
	connStr := acquireTestDB(t)
	base, err := pgx.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("Failed to parse connection string: %v", err)
	}

	opener := func(_ context.Context, database string) (*sql.DB, error) {
		cfg := base.Copy()
		cfg.Database = database
		return stdlib.OpenDB(*cfg), nil
	}

	settings := testSettings()
	settings.Driver = "postgres"
	settings.Host = base.Host
	settings.Port = int(base.Port)
	settings.Database = base.Database
	if mutate != nil {
		mutate(&settings)
	}
	p, err := New(settings, testLogger(), WithOpener(opener))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	fixtures := stdlib.OpenDB(*base)
	t.Cleanup(func() { _ = fixtures.Close() })
	return p, fixtures, base.Database
}

func execOrFatal(t *testing.T, db *sql.DB, stmt string) {
	t.Helper()
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("Exec failed: %s\nSQL: %s", err, stmt)
	}
}

func TestIntegration_SelectBasic(t *testing.T) {
	p, db, name := newPostgresInstance(t, nil)
	execOrFatal(t, db, "CREATE TABLE users (id serial PRIMARY KEY, name text, email text)")
	execOrFatal(t, db, "INSERT INTO users (name, email) VALUES ('Alice', 'alice@example.com'), ('Bob', 'bob@example.com')")

	out := p.RunReadonlyQuery(context.Background(), QueryInput{Database: name, Query: "SELECT id, name, email FROM users ORDER BY id"})
	require.Nil(t, out.Error)
	assert.Equal(t, []string{"id", "name", "email"}, out.Columns)
	assert.Equal(t, 2, out.RowCount)
	assert.Equal(t, "Alice", out.Rows[0]["name"])
	assert.Equal(t, "Bob", out.Rows[1]["name"])
}

func TestIntegration_Truncation(t *testing.T) {
	p, _, name := newPostgresInstance(t, nil)

	out := p.RunReadonlyQuery(context.Background(), QueryInput{
		Database: name,
		Query:    "SELECT g FROM generate_series(1, 100) AS g ORDER BY g",
		MaxRows:  intPtr(10),
	})
	require.Nil(t, out.Error)
	assert.Equal(t, 10, out.RowCount)
	assert.Equal(t, 10, out.RowLimit)
	assert.True(t, out.Truncated)
}

func TestIntegration_TypeConversion(t *testing.T) {
	p, db, name := newPostgresInstance(t, nil)
	execOrFatal(t, db, `CREATE TABLE typed (
		id uuid, amount numeric(30,4), doc jsonb, raw bytea, at timestamptz, day date, missing text)`)
	execOrFatal(t, db, `INSERT INTO typed VALUES (
		'a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11', 12345678901234567890.1234,
		'{"phone":"+62821233447"}', '\xdeadbeef', '2024-03-09T14:05:06Z', '2024-03-09', NULL)`)

	out := p.RunReadonlyQuery(context.Background(), QueryInput{Database: name, Query: "SELECT * FROM typed"})
	require.Nil(t, out.Error)
	row := out.Rows[0]
	assert.Equal(t, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11", row["id"])
	assert.Equal(t, "12345678901234567890.1234", row["amount"])
	assert.Equal(t, map[string]any{"phone": "+62821233447"}, row["doc"])
	assert.Equal(t, "3q2+7w==", row["raw"])
	assert.Equal(t, "2024-03-09", row["day"])
	assert.Nil(t, row["missing"])
	assert.Contains(t, row["at"], "2024-03-09T")
}

func TestIntegration_ReadOnlyTransactionBlocksSideEffects(t *testing.T) {
	p, db, name := newPostgresInstance(t, nil)
	execOrFatal(t, db, "CREATE SEQUENCE counter")

	// nextval passes the lexical guard; the read-only transaction stops it.
	out := p.RunReadonlyQuery(context.Background(), QueryInput{Database: name, Query: "SELECT nextval('counter')"})
	require.NotNil(t, out.Error)
	assert.Equal(t, KindDriverRejected, out.Error.Kind)
	assert.Contains(t, out.Error.Message, "read-only transaction")
}

func TestIntegration_GuardBlocksWrites(t *testing.T) {
	p, db, name := newPostgresInstance(t, nil)
	execOrFatal(t, db, "CREATE TABLE t (id int)")

	for _, q := range []string{
		"INSERT INTO t VALUES (1)",
		"WITH x AS (DELETE FROM t RETURNING id) SELECT * FROM x",
		"SELECT 1; DROP TABLE t",
	} {
		out := p.RunReadonlyQuery(context.Background(), QueryInput{Database: name, Query: q})
		require.NotNil(t, out.Error, q)
		assert.Equal(t, KindValidation, out.Error.Kind, q)
	}

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM t").Scan(&n))
	assert.Zero(t, n)
}

func TestIntegration_Timeout(t *testing.T) {
	p, _, name := newPostgresInstance(t, func(s *Settings) { s.QueryTimeoutSeconds = 1 })

	out := p.RunReadonlyQuery(context.Background(), QueryInput{Database: name, Query: "SELECT pg_sleep(5)"})
	require.NotNil(t, out.Error)
	assert.Equal(t, KindTimeout, out.Error.Kind)

	// The session that timed out is discarded; the next call gets a fresh one.
	out = p.RunReadonlyQuery(context.Background(), QueryInput{Database: name, Query: "SELECT 1 AS one"})
	require.Nil(t, out.Error)
}

func TestIntegration_ErrorPrompt(t *testing.T) {
	p, _, name := newPostgresInstance(t, nil)

	out := p.RunReadonlyQuery(context.Background(), QueryInput{Database: name, Query: "SELECT * FROM no_such_table"})
	require.NotNil(t, out.Error)
	assert.Equal(t, KindDriverRejected, out.Error.Kind)
	assert.True(t, strings.Contains(out.Error.Message, "list_tables"), out.Error.Message)
}

func TestIntegration_Catalog(t *testing.T) {
	p, db, name := newPostgresInstance(t, nil)
	execOrFatal(t, db, "CREATE TABLE customers (id int PRIMARY KEY, name text NOT NULL)")
	execOrFatal(t, db, "CREATE TABLE orders (id int PRIMARY KEY, customer_id int REFERENCES customers(id))")
	execOrFatal(t, db, "CREATE VIEW big_orders AS SELECT id FROM orders WHERE id > 100")

	tables, err := p.ListTables(context.Background(), name)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tables.RowCount, 2)

	cols, err := p.ListTableColumns(context.Background(), name, "public", "customers")
	require.NoError(t, err)
	assert.Equal(t, 2, cols.RowCount)

	fks, err := p.ListForeignKeys(context.Background(), name, "public", "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, fks.RowCount)

	def, err := p.ListViewDefinition(context.Background(), name, "public", "big_orders")
	require.NoError(t, err)
	require.Equal(t, 1, def.RowCount)

	require.NoError(t, p.Ping(context.Background()))
}
