package notify

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lib/pq"

	"github.com/roach88/sqlstream/internal/scripts"
	"github.com/roach88/sqlstream/internal/store"
)

// DefaultPollInterval is used by Polling when no interval is given.
const DefaultPollInterval = 500 * time.Millisecond

// listenPingInterval keeps an idle LISTEN connection checked.
const listenPingInterval = 90 * time.Second

// InProcess returns a factory for a notifier that is only woken by appends
// made through the same store instance.
func InProcess() store.NotifierFactory {
	return func(s *store.Store) (store.Notifier, error) {
		return NewBroadcaster(s.Logger()), nil
	}
}

// Polling returns a factory for a notifier that also polls the store head
// every interval and wakes subscribers when it moves.
func Polling(interval time.Duration) store.NotifierFactory {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return func(s *store.Store) (store.Notifier, error) {
		b := NewBroadcaster(s.Logger())
		head := newHeadTracker(s)
		return startFeed(b, func(ctx context.Context) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if head.moved(ctx) {
						b.Notify()
					}
				}
			}
		}, nil), nil
	}
}

// WatchFile returns a factory for a SQLite notifier that watches the database
// and its write-ahead log for writes by other processes. An empty path
// watches the store's own database file. Every fallback interval the head is
// polled as well, in case the platform drops file events.
func WatchFile(path string, fallback time.Duration) store.NotifierFactory {
	if fallback <= 0 {
		fallback = 10 * DefaultPollInterval
	}
	return func(s *store.Store) (store.Notifier, error) {
		if s.Dialect() != scripts.SQLite {
			return nil, fmt.Errorf("watch notifier requires sqlite, store uses %s", s.Dialect())
		}
		dbPath := path
		if dbPath == "" {
			dbPath = sqlitePath(s.ConnectionString())
		}
		if dbPath == "" || strings.Contains(dbPath, ":memory:") {
			return nil, fmt.Errorf("watch notifier needs a database file, got %q", s.ConnectionString())
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		// The WAL file comes and goes, so watch the directory and filter.
		if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", filepath.Dir(dbPath), err)
		}
		base := filepath.Base(dbPath)
		watched := map[string]bool{base: true, base + "-wal": true}

		b := NewBroadcaster(s.Logger())
		head := newHeadTracker(s)
		return startFeed(b, func(ctx context.Context) {
			ticker := time.NewTicker(fallback)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if !watched[filepath.Base(event.Name)] || !event.Has(fsnotify.Write|fsnotify.Create) {
						continue
					}
					if head.moved(ctx) {
						b.Notify()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					b.log.Warn("fsnotify error", "error", err)
				case <-ticker.C:
					if head.moved(ctx) {
						b.Notify()
					}
				}
			}
		}, watcher.Close), nil
	}
}

// Listen returns a factory for a PostgreSQL notifier that LISTENs on the
// store's change channel. Appends publish to it at commit, so every process
// sharing the database is woken.
func Listen() store.NotifierFactory {
	return func(s *store.Store) (store.Notifier, error) {
		if s.Dialect() != scripts.Postgres {
			return nil, fmt.Errorf("listen notifier requires postgres, store uses %s", s.Dialect())
		}
		b := NewBroadcaster(s.Logger())

		listener := pq.NewListener(s.ConnectionString(), 10*time.Millisecond, time.Minute,
			func(ev pq.ListenerEventType, err error) {
				if err != nil {
					b.log.Warn("listener event", "event", ev, "error", err)
				}
			})
		if err := listener.Listen(s.ChangeChannel()); err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("listen %s: %w", s.ChangeChannel(), err)
		}

		return startFeed(b, func(ctx context.Context) {
			ping := time.NewTicker(listenPingInterval)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case n := <-listener.Notify:
					// A nil notification follows a reconnect; commits may
					// have been missed, so wake everyone.
					if n == nil {
						b.log.Debug("listener reconnected", "channel", s.ChangeChannel())
					}
					b.Notify()
				case <-ping.C:
					if err := listener.Ping(); err != nil {
						b.log.Warn("listener ping failed", "error", err)
					}
				}
			}
		}, listener.Close), nil
	}
}

// feed is a Broadcaster fed by a background source.
type feed struct {
	*Broadcaster
	cancel  context.CancelFunc
	done    chan struct{}
	release func() error
}

func startFeed(b *Broadcaster, run func(ctx context.Context), release func() error) *feed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &feed{Broadcaster: b, cancel: cancel, done: make(chan struct{}), release: release}
	go func() {
		defer close(f.done)
		run(ctx)
	}()
	return f
}

// Close stops the source, releases its resources and closes every
// subscriber channel.
func (f *feed) Close() error {
	f.cancel()
	<-f.done

	var err error
	if f.release != nil {
		err = f.release()
	}
	return errors.Join(err, f.Broadcaster.Close())
}

// headTracker remembers the last observed store head.
type headTracker struct {
	s    *store.Store
	last store.Position
}

// newHeadTracker records the current head before returning. The baseline
// must exist before the subscriber's first read, or a commit landing in
// between is taken as the baseline and never signaled.
func newHeadTracker(s *store.Store) *headTracker {
	h := &headTracker{s: s}
	if pos, err := s.ReadHeadPosition(context.Background()); err == nil {
		h.last = pos
	}
	return h
}

// moved reads the head and reports whether it changed since the last call.
func (h *headTracker) moved(ctx context.Context) bool {
	pos, err := h.s.ReadHeadPosition(ctx)
	if err != nil {
		if ctx.Err() == nil && !store.IsStoreDisposed(err) {
			h.s.Logger().Warn("poll head position", "error", err)
		}
		return false
	}
	if pos == h.last {
		return false
	}
	h.last = pos
	return true
}

// sqlitePath extracts the file path from a SQLite connection string.
func sqlitePath(conn string) string {
	conn = strings.TrimPrefix(conn, "file:")
	if i := strings.IndexByte(conn, '?'); i >= 0 {
		conn = conn[:i]
	}
	return conn
}
