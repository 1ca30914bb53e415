// Package notify provides change notifiers for the message store.
//
// Every notifier wakes subscribers on the local Notify the store issues after
// each commit. Polling, WatchFile and Listen additionally watch for commits
// made by other processes.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/sqlstream/internal/metrics"
)

// Broadcaster fans change signals out to subscribers.
//
// Each subscriber owns a channel with a buffer of one, so a slow subscriber
// sees one pending signal no matter how many commits happened, and Notify
// never blocks.
//
// Thread-safety: all methods are safe for concurrent use.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	closed bool
	stop   chan struct{}
	log    *slog.Logger
}

// NewBroadcaster creates an open broadcaster.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		subs: make(map[chan struct{}]struct{}),
		stop: make(chan struct{}),
		log:  log,
	}
}

// Subscribe registers a subscriber. The channel is closed when ctx is done
// or the broadcaster is closed; subscribing to a closed broadcaster returns
// a closed channel.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(ch)
		case <-b.stop:
		}
	}()
	return ch
}

func (b *Broadcaster) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Notify signals every subscriber. A no-op after Close.
func (b *Broadcaster) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Already pending
		}
	}
	metrics.ChangeSignalsTotal.Inc()
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Close is idempotent.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.stop)
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	return nil
}
