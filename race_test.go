package sqlmcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fde-labs/fde-sql-mcp/internal/errprompt"
	"github.com/fde-labs/fde-sql-mcp/internal/guard"
	"github.com/fde-labs/fde-sql-mcp/internal/sanitize"
	"github.com/fde-labs/fde-sql-mcp/internal/sqllex"
	"github.com/fde-labs/fde-sql-mcp/internal/timeout"
)

func TestRace_ConcurrentSanitization(t *testing.T) {
	s, err := sanitize.NewSanitizer([]sanitize.Rule{
		{Pattern: `\d{3}-\d{4}`, Replacement: "***-****"},
		{Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Replacement: "[REDACTED]"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				// Rows mutates in place, so each iteration gets fresh rows.
				rows := []map[string]any{
					{"phone": "555-1234", "email": "test@example.com", "name": "Alice"},
					{"phone": "555-5678", "contact": map[string]any{"email": "bob@test.org"}},
				}
				s.Rows(rows)
			}
		}()
	}
	wg.Wait()
}

func TestRace_ConcurrentGuard(t *testing.T) {
	c := guard.NewChecker(guard.Config{MaxQueryChars: 20000, EnforceReadOnly: true, Lexer: sqllex.TSQL})

	queries := []string{
		"SELECT * FROM dbo.Users",
		"INSERT INTO dbo.Users (name) VALUES ('test')",
		"UPDATE dbo.Users SET name = 'test' WHERE id = 1",
		"WITH x AS (SELECT 1 AS n) SELECT n FROM x",
		"SELECT 'DROP TABLE' AS s",
		"SELECT 1; SELECT 2",
		"EXEC sp_who",
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Classify(queries[(id+j)%len(queries)])
			}
		}(i)
	}
	wg.Wait()
}

func TestRace_ConcurrentErrorPrompt(t *testing.T) {
	m, err := errprompt.WithDefaults([]errprompt.Rule{
		{Pattern: `(?i)permission was denied`, Message: "The service identity lacks permission on this object."},
	})
	if err != nil {
		t.Fatal(err)
	}

	messages := []string{
		"The SELECT permission was denied on the object 'Users'",
		"Invalid object name 'dbo.Nope'.",
		"Invalid column name 'foo'.",
		"Cannot open database \"Nope\" requested by the login.",
		"connection refused",
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = m.Annotate(messages[(id+j)%len(messages)])
			}
		}(i)
	}
	wg.Wait()
}

func TestRace_ConcurrentTimeout(t *testing.T) {
	m, err := timeout.NewManager(timeout.Config{
		Ceiling: 30 * time.Second,
		Rules: []timeout.Rule{
			{Pattern: `(?i)sys\.dm_`, Timeout: 5 * time.Second},
			{Pattern: `(?i)information_schema`, Timeout: 10 * time.Second},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	queries := []string{
		"SELECT * FROM sys.dm_exec_requests",
		"SELECT * FROM INFORMATION_SCHEMA.TABLES",
		"SELECT * FROM dbo.Users",
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = m.Resolve(queries[(id+j)%len(queries)])
			}
		}(i)
	}
	wg.Wait()
}

func TestStress_ConcurrentQueries(t *testing.T) {
	t.Parallel()
	p, server := newTestInstance(t, testSettings())
	m := server.mock("Sales")
	m.MatchExpectationsInOrder(false)

	const goroutines = 8
	const queriesPerGoroutine = 5
	for i := 0; i < goroutines*queriesPerGoroutine; i++ {
		m.ExpectQuery(`SELECT TOP \(501\) \d+ AS id`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	}

	var wg sync.WaitGroup
	var errCount atomic.Int64
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < queriesPerGoroutine; j++ {
				output := p.RunReadonlyQuery(context.Background(), QueryInput{
					Database: "Sales",
					Query:    fmt.Sprintf("SELECT %d AS id", id*100+j),
				})
				if output.Error != nil {
					errCount.Add(1)
					t.Errorf("goroutine %d iter %d: %s", id, j, output.Error.Message)
				}
			}
		}(i)
	}
	wg.Wait()

	if errCount.Load() > 0 {
		t.Fatalf("%d errors in concurrent queries", errCount.Load())
	}
	if n := server.opened("Sales"); n != 1 {
		t.Fatalf("expected one handle for Sales, got %d", n)
	}
	server.verify()
}

func TestStress_SemaphoreLimit(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.MaxConcurrentQueries = 2
	p, server := newTestInstance(t, settings)
	m := server.mock("Sales")
	m.MatchExpectationsInOrder(false)

	const goroutines = 6
	for i := 0; i < goroutines; i++ {
		m.ExpectQuery(`SELECT TOP \(501\) 1`).
			WillDelayFor(100 * time.Millisecond).
			WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))
	}

	var maxInFlight atomic.Int64
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := int64(len(p.semaphore)); n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			output := p.RunReadonlyQuery(context.Background(), QueryInput{Database: "Sales", Query: "SELECT 1"})
			if output.Error != nil {
				t.Errorf("unexpected error: %s", output.Error.Message)
			}
		}()
	}
	wg.Wait()
	close(stop)
	elapsed := time.Since(start)

	if got := maxInFlight.Load(); got > 2 {
		t.Fatalf("expected at most 2 queries in flight, observed %d", got)
	}
	// Six 100ms queries through two slots need at least three rounds.
	if elapsed < 250*time.Millisecond {
		t.Fatalf("expected queries to queue behind the semaphore, finished in %v", elapsed)
	}
}
