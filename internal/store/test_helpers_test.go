package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlstream/internal/scripts"
	"github.com/roach88/sqlstream/internal/testutil"
)

// postgresDSNEnv enables the PostgreSQL run of the backend suites.
const postgresDSNEnv = "SQLSTREAM_TEST_POSTGRES_DSN"

// testEpoch is the first timestamp handed out by test clocks.
var testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// newTestSettings returns settings for a fresh SQLite file store.
func newTestSettings(t *testing.T) Settings {
	t.Helper()
	return Settings{
		Dialect:          scripts.SQLite,
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		Clock:            testutil.NewStepClock(testEpoch, time.Second).Now,
	}
}

// openTestStore opens a store without creating its schema.
func openTestStore(t *testing.T, settings Settings) *Store {
	t.Helper()
	s, err := New(context.Background(), settings)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestStore creates a SQLite store with the current schema.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s := openTestStore(t, newTestSettings(t))
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	return s
}

// backend opens stores of one dialect, each in its own namespace.
type backend struct {
	name     string
	settings func(t *testing.T) Settings
}

// testBackends returns SQLite, plus PostgreSQL when postgresDSNEnv is set.
func testBackends() []backend {
	backends := []backend{{name: "sqlite", settings: newTestSettings}}

	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		return backends
	}
	return append(backends, backend{
		name: "postgres",
		settings: func(t *testing.T) Settings {
			schema := "sqlstream_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
			return Settings{
				Dialect:          scripts.Postgres,
				ConnectionString: dsn,
				Schema:           schema,
				Clock:            testutil.NewStepClock(testEpoch, time.Second).Now,
			}
		},
	})
}

// forEachBackend runs fn against a freshly created store on every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, createBackendStore(t, b.settings(t)))
		})
	}
}

// createBackendStore creates the schema and drops it again at cleanup.
func createBackendStore(t *testing.T, settings Settings) *Store {
	t.Helper()
	s := openTestStore(t, settings)
	ctx := context.Background()
	require.NoError(t, s.CreateSchema(ctx))
	if settings.Dialect == scripts.Postgres {
		t.Cleanup(func() {
			if s.disposed.Load() {
				return
			}
			s.DropAll(ctx)
			s.DB().ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS "%s" CASCADE`, s.Schema()))
		})
	}
	return s
}

// newMessages builds n messages with ids drawn from seq.
func newMessages(seq *testutil.IDSequence, n int, msgType string) []NewMessage {
	msgs := make([]NewMessage, n)
	for i := range msgs {
		msgs[i] = NewMessage{
			MessageID: seq.Next(),
			Type:      msgType,
			Payload:   fmt.Sprintf(`{"n":%d}`, i),
			Metadata:  `{"source":"test"}`,
		}
	}
	return msgs
}

// mustAppend appends and fails the test on error.
func mustAppend(t *testing.T, s *Store, streamID string, expected ExpectedVersion, msgs []NewMessage) AppendResult {
	t.Helper()
	res, err := s.Append(context.Background(), MustResolveStreamKey(streamID), expected, msgs)
	require.NoError(t, err)
	return res
}

func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// mustUUID returns the n-th id of a fixed test sequence.
func mustUUID(n int) uuid.UUID {
	return testutil.ID("test", n)
}

const msec = time.Millisecond

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
