package store

import (
	"context"
	"fmt"
)

// Notifier wakes subscribers after new messages have been committed.
//
// Signals carry no payload and coalesce: a subscriber that has not drained its
// channel receives one signal for any number of commits. Subscribers re-read
// from their last known position after every signal.
type Notifier interface {
	// Subscribe returns a channel that receives a value after each change.
	// The channel is closed when ctx is done or the notifier is closed.
	Subscribe(ctx context.Context) <-chan struct{}

	// Notify signals every current subscriber.
	Notify()

	// Close releases the notifier and closes every subscriber channel.
	Close() error
}

// NotifierFactory builds the notifier of a store. It is invoked at most once
// per store, on the first SubscribeToChanges call.
type NotifierFactory func(s *Store) (Notifier, error)

// SubscribeToChanges returns a channel that receives a value whenever new
// messages may be readable. The channel closes when ctx is done or the store
// is closed.
func (s *Store) SubscribeToChanges(ctx context.Context) (<-chan struct{}, error) {
	const op = "subscribe to changes"
	if err := s.guardDisposed(op); err != nil {
		return nil, err
	}

	n, err := s.getNotifier()
	if err != nil {
		return nil, err
	}
	return n.Subscribe(ctx), nil
}

// getNotifier builds the notifier once. A failed construction is remembered
// and returned to every later caller.
func (s *Store) getNotifier() (Notifier, error) {
	const op = "subscribe to changes"

	s.notifierOnce.Do(func() {
		// Close may have won the race for the Once.
		if s.disposed.Load() {
			s.notifierErr = &Error{Code: CodeStoreDisposed, Op: op, Message: "store has been closed"}
			return
		}
		if s.settings.NotifierFactory == nil {
			s.notifierErr = &Error{Code: CodeNotifierUnavailable, Op: op, Message: "no notifier factory configured"}
			return
		}
		n, err := s.settings.NotifierFactory(s)
		if err != nil {
			s.notifierErr = &Error{Code: CodeNotifierUnavailable, Op: op, Err: fmt.Errorf("build notifier: %w", err)}
			return
		}
		s.notifier = n
		s.notifierReady.Store(true)
	})

	if s.notifierErr != nil {
		return nil, s.notifierErr
	}
	if s.notifier == nil {
		// Once ran from Close before any subscription.
		return nil, &Error{Code: CodeStoreDisposed, Op: op, Message: "store has been closed"}
	}
	return s.notifier, nil
}

// signalChanges wakes local subscribers after a commit. It never constructs
// the notifier: with no subscriber there is nobody to wake.
func (s *Store) signalChanges() {
	if s.notifierReady.Load() && !s.disposed.Load() {
		s.notifier.Notify()
	}
}
