package store

import (
	"context"
	"errors"
	"time"
)

const (
	catchUpPageSize = 256

	// CatchUpPollInterval is how often CatchUp re-reads the head when the
	// store has no notifier.
	CatchUpPollInterval = 500 * time.Millisecond
)

// MessageHandler processes one message of a catch-up subscription.
type MessageHandler func(ctx context.Context, m Message) error

// CatchUp delivers every message with a position after `after` to handle, in
// position order, and then keeps delivering new messages as they commit.
// PositionEnd starts at the beginning of the store.
//
// After reaching the head it waits for a change signal, or polls every
// CatchUpPollInterval when no notifier is configured. It returns ctx.Err()
// when ctx ends, the handler's error when it fails, and StoreDisposed when
// the store is closed underneath it.
func (s *Store) CatchUp(ctx context.Context, after Position, handle MessageHandler) error {
	const op = "catch up"

	next := int64(0)
	if v, ok := after.Value(); ok {
		next = v + 1
	}

	// Subscribe before the first read so no commit falls between the read
	// reaching the head and the wait.
	changes, err := s.SubscribeToChanges(ctx)
	if err != nil && !errors.Is(err, ErrNotifierUnavailable) {
		return err
	}

	var tick <-chan time.Time
	if changes == nil {
		ticker := time.NewTicker(CatchUpPollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		page, err := s.ReadAllForwards(ctx, next, catchUpPageSize)
		if err != nil {
			return err
		}
		for _, m := range page.Messages {
			if err := handle(ctx, m); err != nil {
				return err
			}
		}
		next = page.Next
		if !page.IsEnd {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &Error{Code: CodeStoreDisposed, Op: op, Message: "store has been closed"}
			}
		case <-tick:
		}
	}
}
