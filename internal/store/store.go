package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlstream/internal/scripts"
)

// DefaultCommandTimeout bounds every backend call when Settings leaves it unset.
const DefaultCommandTimeout = 30 * time.Second

// sqlitePragmas are applied to every SQLite connection through the DSN:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for the write lock up to 5 seconds
//   - foreign_keys: enforce messages -> streams
//   - txlock=immediate: take the write lock at BEGIN, so the version check
//     and the insert of an append can never interleave with another writer
var sqlitePragmas = []string{
	"_journal_mode=WAL",
	"_synchronous=NORMAL",
	"_busy_timeout=5000",
	"_foreign_keys=1",
	"_txlock=immediate",
}

// Settings configures a Store.
type Settings struct {
	// Dialect selects the backend. Defaults to scripts.SQLite.
	Dialect scripts.Dialect

	// ConnectionString is a SQLite path/URI or a PostgreSQL DSN.
	ConnectionString string

	// Schema is the namespace owning every table of this store.
	// Defaults to the dialect's default schema.
	Schema string

	// CommandTimeout bounds each backend call. Zero means DefaultCommandTimeout;
	// negative disables the per-call timeout.
	CommandTimeout time.Duration

	// Clock stamps messages submitted without CreatedAt. Defaults to time.Now.
	Clock func() time.Time

	// NotifierFactory builds the change notifier on first subscription.
	// Nil makes SubscribeToChanges fail with NotifierUnavailable.
	NotifierFactory NotifierFactory

	// Open is the connection factory. Defaults to sql.Open.
	Open func(driverName, dsn string) (*sql.DB, error)

	// MaxOpenConns caps the connection pool. Zero means 1 for SQLite (single
	// writer) and the database/sql default for PostgreSQL.
	MaxOpenConns int

	// Logger receives store diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is an append-only multi-stream message store on a relational backend.
//
// Thread-safety: all methods are safe for concurrent use. Concurrency between
// appenders, including appenders in other processes, is resolved by backend
// transactions rather than in-process locks.
type Store struct {
	db       *sql.DB
	scripts  *scripts.Scripts
	settings Settings
	log      *slog.Logger
	clock    func() time.Time
	timeout  time.Duration

	disposed atomic.Bool
	schemaOK atomic.Bool

	notifierOnce  sync.Once
	notifier      Notifier
	notifierErr   error
	notifierReady atomic.Bool
}

// New opens a store. It verifies connectivity but does not create or check
// the schema; call CreateSchema or CheckSchema for that.
func New(ctx context.Context, settings Settings) (*Store, error) {
	if settings.Dialect == "" {
		settings.Dialect = scripts.SQLite
	}
	if settings.CommandTimeout == 0 {
		settings.CommandTimeout = DefaultCommandTimeout
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}
	if settings.Open == nil {
		settings.Open = sql.Open
	}
	if settings.Logger == nil {
		settings.Logger = slog.Default()
	}
	if settings.ConnectionString == "" {
		return nil, fmt.Errorf("open store: connection string is required")
	}

	sc, err := scripts.New(settings.Dialect, settings.Schema)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	settings.Schema = sc.Schema()

	dsn := settings.ConnectionString
	if settings.Dialect == scripts.SQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := settings.Open(settings.Dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch {
	case settings.MaxOpenConns > 0:
		db.SetMaxOpenConns(settings.MaxOpenConns)
	case settings.Dialect == scripts.SQLite:
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{
		db:       db,
		scripts:  sc,
		settings: settings,
		log:      settings.Logger.With("component", "store", "dialect", string(settings.Dialect), "schema", sc.Schema()),
		clock:    settings.Clock,
		timeout:  settings.CommandTimeout,
	}

	pingCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, backendError("open store", err)
	}

	return s, nil
}

// sqliteDSN appends the store's connection parameters to a SQLite path.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(sqlitePragmas, "&")
}

// Close disposes the store: the notifier (if one was built) and the
// connection pool. Every later call fails with StoreDisposed.
// Close is idempotent.
func (s *Store) Close() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}

	// Completes any in-flight construction and prevents later ones.
	s.notifierOnce.Do(func() {})

	var firstErr error
	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			firstErr = fmt.Errorf("close notifier: %w", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close database: %w", err)
		}
	}
	return firstErr
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the backend dialect of the store.
func (s *Store) Dialect() scripts.Dialect {
	return s.settings.Dialect
}

// Schema returns the namespace owning the store's tables.
func (s *Store) Schema() string {
	return s.scripts.Schema()
}

// ConnectionString returns the configured connection string, for notifiers
// that need their own backend connection.
func (s *Store) ConnectionString() string {
	return s.settings.ConnectionString
}

// ChangeChannel names the backend notification channel appends write to.
func (s *Store) ChangeChannel() string {
	return s.scripts.ChangeChannel()
}

// Logger returns the store's logger.
func (s *Store) Logger() *slog.Logger {
	return s.log
}

// opContext applies the per-call timeout.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// guardDisposed fails fast, without backend I/O, after Close.
func (s *Store) guardDisposed(op string) error {
	if s.disposed.Load() {
		return &Error{Code: CodeStoreDisposed, Op: op, Message: "store has been closed"}
	}
	return nil
}

// guard runs the disposed check and the schema compatibility check.
// The schema is checked against the backend once per store instance; later
// calls only read a flag.
func (s *Store) guard(ctx context.Context, op string) error {
	if err := s.guardDisposed(op); err != nil {
		return err
	}
	if s.schemaOK.Load() {
		return nil
	}

	res, err := s.checkSchema(ctx)
	if err != nil {
		return backendError(op, err)
	}
	if !res.IsMatch() {
		return &Error{
			Code:    CodeSchemaIncompatible,
			Op:      op,
			Message: fmt.Sprintf("schema version %d, expected %d", res.Current, res.Expected),
		}
	}
	s.schemaOK.Store(true)
	return nil
}
