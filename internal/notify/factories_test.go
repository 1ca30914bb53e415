package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlstream/internal/scripts"
	"github.com/roach88/sqlstream/internal/store"
)

func openStore(t *testing.T, settings store.Settings) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), settings)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// sqlitePair opens two stores on one SQLite file: a watcher using factory and
// a writer standing in for another process.
func sqlitePair(t *testing.T, factory store.NotifierFactory) (watcher, writer *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.db")

	watcher = openStore(t, store.Settings{ConnectionString: path, NotifierFactory: factory})
	require.NoError(t, watcher.CreateSchema(context.Background()))
	writer = openStore(t, store.Settings{ConnectionString: path})
	return watcher, writer
}

func appendOne(t *testing.T, s *store.Store, stream string) {
	t.Helper()
	_, err := s.Append(context.Background(), store.MustResolveStreamKey(stream), store.ExpectedAny,
		[]store.NewMessage{{MessageID: uuid.New(), Type: "t"}})
	require.NoError(t, err)
}

func TestInProcess_WakesOnLocalAppend(t *testing.T) {
	s, _ := sqlitePair(t, InProcess())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.SubscribeToChanges(ctx)
	require.NoError(t, err)

	appendOne(t, s, "a")
	requireSignal(t, changes)
}

func TestInProcess_StoreCloseClosesSubscribers(t *testing.T) {
	s, _ := sqlitePair(t, InProcess())

	changes, err := s.SubscribeToChanges(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	requireClosed(t, changes)
}

func TestPolling_WakesOnOtherWriter(t *testing.T) {
	watcher, writer := sqlitePair(t, Polling(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := watcher.SubscribeToChanges(ctx)
	require.NoError(t, err)

	appendOne(t, writer, "a")
	requireSignal(t, changes)
}

func TestWatchFile_WakesOnOtherWriter(t *testing.T) {
	watcher, writer := sqlitePair(t, WatchFile("", time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := watcher.SubscribeToChanges(ctx)
	require.NoError(t, err)

	appendOne(t, writer, "a")
	requireSignal(t, changes)
}

func TestCrossProcessNotifiers_WakeOnCommitRightAfterSubscribe(t *testing.T) {
	factories := map[string]func() store.NotifierFactory{
		"polling":   func() store.NotifierFactory { return Polling(10 * time.Millisecond) },
		"watchfile": func() store.NotifierFactory { return WatchFile("", time.Minute) },
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				watcher, writer := sqlitePair(t, factory())
				ctx, cancel := context.WithCancel(context.Background())

				changes, err := watcher.SubscribeToChanges(ctx)
				require.NoError(t, err)

				// No pause: the commit races the notifier's start-up.
				appendOne(t, writer, "a")
				requireSignal(t, changes)
				cancel()
			}
		})
	}
}

func TestWatchFile_RejectsInMemoryDatabase(t *testing.T) {
	s := openStore(t, store.Settings{
		ConnectionString: "file::memory:?cache=shared",
		NotifierFactory:  WatchFile("", 0),
	})

	_, err := s.SubscribeToChanges(context.Background())
	assert.ErrorIs(t, err, store.ErrNotifierUnavailable)
}

func TestListen_RequiresPostgres(t *testing.T) {
	s, _ := sqlitePair(t, Listen())

	_, err := s.SubscribeToChanges(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotifierUnavailable)
	assert.Contains(t, err.Error(), "requires postgres")
}

func TestListen_WakesOnOtherWriter(t *testing.T) {
	dsn := os.Getenv("SQLSTREAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SQLSTREAM_TEST_POSTGRES_DSN not set")
	}
	schema := "notify_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	ctx := context.Background()

	watcher := openStore(t, store.Settings{Dialect: scripts.Postgres, ConnectionString: dsn, Schema: schema, NotifierFactory: Listen()})
	require.NoError(t, watcher.CreateSchema(ctx))
	t.Cleanup(func() {
		watcher.DB().ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS "%s" CASCADE`, schema))
	})
	writer := openStore(t, store.Settings{Dialect: scripts.Postgres, ConnectionString: dsn, Schema: schema})

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes, err := watcher.SubscribeToChanges(subCtx)
	require.NoError(t, err)

	appendOne(t, writer, "a")
	requireSignal(t, changes)
}

func TestSQLitePath(t *testing.T) {
	assert.Equal(t, "/tmp/x.db", sqlitePath("/tmp/x.db"))
	assert.Equal(t, "/tmp/x.db", sqlitePath("file:/tmp/x.db?mode=rwc"))
	assert.Equal(t, "x.db", sqlitePath("x.db?_busy_timeout=1"))
}
