package sqlmcp

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testSettings() Settings {
	return Settings{
		Host:                     "sql01.test",
		Database:                 "master",
		Driver:                   "sqlserver",
		Encrypt:                  true,
		TrustServerCertificate:   true,
		ConnectionTimeoutSeconds: 5,
		QueryTimeoutSeconds:      5,
		MaxRows:                  500,
		MaxQueryChars:            20000,
		EnforceReadOnly:          true,
		MaxConcurrentQueries:     4,
		PoolConnections:          true,
	}
}

// mockServer hands out one sqlmock handle per database name.
type mockServer struct {
	t     *testing.T
	mu    sync.Mutex
	dbs   map[string]*mockDB
	opens map[string]int
}

type mockDB struct {
	db   *sql.DB
	mock sqlmock.Sqlmock
}

func newMockServer(t *testing.T) *mockServer {
	return &mockServer{t: t, dbs: make(map[string]*mockDB), opens: make(map[string]int)}
}

// mock returns the expectation handle for database, creating it on first use.
func (s *mockServer) mock(database string) sqlmock.Sqlmock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(database).mock
}

func (s *mockServer) get(database string) *mockDB {
	if m, ok := s.dbs[database]; ok {
		return m
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		s.t.Fatalf("failed to create sqlmock: %v", err)
	}
	m := &mockDB{db: db, mock: mock}
	s.dbs[database] = m
	return m
}

func (s *mockServer) open(_ context.Context, database string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens[database]++
	return s.get(database).db, nil
}

func (s *mockServer) opened(database string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[database]
}

// verify fails the test if any database has unmet expectations.
func (s *mockServer) verify() {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, m := range s.dbs {
		if err := m.mock.ExpectationsWereMet(); err != nil {
			s.t.Errorf("database %q: %v", name, err)
		}
	}
}

// newTestInstance builds an engine whose connections come from a mockServer.
func newTestInstance(t *testing.T, settings Settings, opts ...Option) (*SQLMcp, *mockServer) {
	t.Helper()
	server := newMockServer(t)
	opts = append([]Option{WithOpener(server.open)}, opts...)
	p, err := New(settings, testLogger(), opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, server
}

func intPtr(n int) *int {
	return &n
}

// memoryCache is an in-process catalogcache.Cache.
type memoryCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	closed bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
