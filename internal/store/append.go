package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/roach88/sqlstream/internal/metrics"
	"github.com/roach88/sqlstream/internal/scripts"
)

// Append writes msgs to the end of a stream if expected matches the stream's
// current version, and returns the stream and store heads after the write.
//
// The version check, the assignment of versions and positions, and the insert
// run in one backend transaction, so concurrent appenders to the same stream
// (in this or any other process) observe a single linear history. Messages of
// one batch receive contiguous versions and contiguous positions. The batch is
// committed atomically; the change notifier is signaled only after commit.
//
// Resubmitting a batch that was already committed (same message ids, same
// stream, same expected version) returns the original result without writing.
//
// Errors: WrongExpectedVersionError on a failed precondition, and *Error with
// CodeInvalidStreamID, CodeInvalidAppend, CodeSchemaIncompatible,
// CodeStoreDisposed or CodeBackendUnavailable. Append never retries.
func (s *Store) Append(ctx context.Context, key StreamKey, expected ExpectedVersion, msgs []NewMessage) (AppendResult, error) {
	start := time.Now()
	res, outcome, err := s.append(ctx, key, expected, msgs)

	metrics.AppendsTotal.WithLabelValues(outcome).Inc()
	metrics.AppendDurationSeconds.Observe(time.Since(start).Seconds())

	return res, err
}

func (s *Store) append(ctx context.Context, key StreamKey, expected ExpectedVersion, msgs []NewMessage) (AppendResult, string, error) {
	const op = "append"
	if err := s.guardDisposed(op); err != nil {
		return AppendResult{}, metrics.Fail, err
	}
	if key.StorageID == "" {
		return AppendResult{}, metrics.Fail, &Error{Code: CodeInvalidStreamID, Op: op, Message: "stream key is not resolved"}
	}
	if err := validateAppend(expected, msgs); err != nil {
		return AppendResult{}, metrics.Fail, err
	}
	if err := s.guard(ctx, op); err != nil {
		return AppendResult{}, metrics.Fail, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	// Step 1: make sure the stream row exists, then lock it. The row lock (or
	// SQLite's immediate write lock) serializes appenders of this stream.
	if _, err := tx.ExecContext(ctx, s.scripts.Get(scripts.EnsureStream), key.StorageID, key.DisplayID); err != nil {
		return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("ensure stream: %w", err))
	}

	var (
		internalID int64
		rawVersion int32
		rawPos     int64
	)
	err = tx.QueryRowContext(ctx, s.scripts.Get(scripts.LockStream), key.StorageID).Scan(&internalID, &rawVersion, &rawPos)
	if err != nil {
		return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("lock stream: %w", err))
	}
	current := versionFromRaw(rawVersion)

	// Step 2: precondition, with idempotent replay of an identical batch.
	conflict := &WrongExpectedVersionError{StreamID: key.DisplayID, Expected: expected, Current: current}
	replayFrom := int32(-1)

	if v, ok := expected.Exact(); ok {
		if v != rawVersion {
			if v > rawVersion {
				return AppendResult{}, metrics.Conflict, conflict
			}
			replayFrom = v + 1
		}
	} else if expected.IsNoStream() {
		if !current.IsEnd() {
			replayFrom = 0
		}
	} else if len(msgs) > 0 {
		var first int32
		err := tx.QueryRowContext(ctx, s.scripts.Get(scripts.FindMessage), internalID, msgs[0].MessageID).Scan(&first)
		switch {
		case err == nil:
			replayFrom = first
		case !errors.Is(err, sql.ErrNoRows):
			return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("find message: %w", err))
		}
	}

	if replayFrom >= 0 {
		prev, matched, err := s.matchCommitted(ctx, tx, internalID, replayFrom, msgs)
		if err != nil {
			return AppendResult{}, metrics.Fail, backendError(op, err)
		}
		if !matched {
			s.log.Debug("append conflict", "stream", key.DisplayID, "expected", expected.String(), "current", current.String())
			return AppendResult{}, metrics.Conflict, conflict
		}
		s.log.Debug("append replayed", "stream", key.DisplayID, "version", prev.CurrentVersion.String())
		return prev, metrics.Idempotent, nil
	}

	if len(msgs) == 0 {
		return AppendResult{CurrentVersion: current, CurrentPosition: positionFromRaw(rawPos)}, metrics.Ok, nil
	}

	// Step 3: claim a contiguous block of positions. The head row stays locked
	// until commit, so positions become visible in commit order.
	var newHead int64
	err = tx.QueryRowContext(ctx, s.scripts.Get(scripts.AllocatePositions), len(msgs)).Scan(&newHead)
	if err != nil {
		return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("allocate positions: %w", err))
	}
	firstPos := newHead - int64(len(msgs)) + 1

	// Step 4: insert the batch.
	stmt, err := tx.PrepareContext(ctx, s.scripts.Get(scripts.InsertMessage))
	if err != nil {
		return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	now := s.clock()
	for i, m := range msgs {
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err := stmt.ExecContext(ctx,
			internalID,
			rawVersion+1+int32(i),
			firstPos+int64(i),
			m.MessageID,
			created.UTC(),
			m.Type,
			m.Payload,
			m.Metadata,
		)
		if err != nil {
			if isUniqueViolation(err) {
				// A message id of the batch is already in the stream at
				// another version.
				return AppendResult{}, metrics.Conflict, conflict
			}
			return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("insert message %d: %w", i, err))
		}
	}

	lastVersion := rawVersion + int32(len(msgs))
	if _, err := tx.ExecContext(ctx, s.scripts.Get(scripts.UpdateStream), lastVersion, newHead, internalID); err != nil {
		return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("update stream: %w", err))
	}

	// Delivered by the backend at commit, never before.
	if !s.scripts.IsEmpty(scripts.NotifyChanges) {
		if _, err := tx.ExecContext(ctx, s.scripts.Get(scripts.NotifyChanges)); err != nil {
			return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("notify: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return AppendResult{}, metrics.Fail, backendError(op, fmt.Errorf("commit: %w", err))
	}

	metrics.AppendMessagesTotal.Add(float64(len(msgs)))
	s.log.Debug("append committed",
		"stream", key.DisplayID,
		"count", len(msgs),
		"version", lastVersion,
		"position", newHead,
	)

	s.signalChanges()

	return AppendResult{
		CurrentVersion:  StreamVersionAt(lastVersion),
		CurrentPosition: PositionAt(newHead),
	}, metrics.Ok, nil
}

// matchCommitted reports whether the stream already holds exactly msgs at
// versions from, from+1, ... and returns the result of that earlier append.
func (s *Store) matchCommitted(ctx context.Context, tx *sql.Tx, internalID int64, from int32, msgs []NewMessage) (AppendResult, bool, error) {
	if len(msgs) == 0 {
		return AppendResult{}, false, nil
	}

	rows, err := tx.QueryContext(ctx, s.scripts.Get(scripts.ReadStreamIDs), internalID, from, len(msgs))
	if err != nil {
		return AppendResult{}, false, fmt.Errorf("read committed ids: %w", err)
	}
	defer rows.Close()

	var (
		res AppendResult
		i   int
	)
	for rows.Next() {
		var (
			id      uuid.UUID
			version int32
			pos     int64
		)
		if err := rows.Scan(&id, &version, &pos); err != nil {
			return AppendResult{}, false, fmt.Errorf("scan committed id: %w", err)
		}
		if version != from+int32(i) || id != msgs[i].MessageID {
			return AppendResult{}, false, nil
		}
		res = AppendResult{CurrentVersion: StreamVersionAt(version), CurrentPosition: PositionAt(pos)}
		i++
	}
	if err := rows.Err(); err != nil {
		return AppendResult{}, false, fmt.Errorf("iterate committed ids: %w", err)
	}

	return res, i == len(msgs), nil
}

// validateAppend rejects malformed requests before any backend I/O.
func validateAppend(expected ExpectedVersion, msgs []NewMessage) error {
	if v, ok := expected.Exact(); ok && v < 0 {
		return &Error{Code: CodeInvalidAppend, Op: "append", Message: fmt.Sprintf("expected version %d is negative", v)}
	}

	seen := make(map[uuid.UUID]struct{}, len(msgs))
	for i, m := range msgs {
		if m.MessageID == uuid.Nil {
			return &Error{Code: CodeInvalidAppend, Op: "append", Message: fmt.Sprintf("message %d has no id", i)}
		}
		if m.Type == "" {
			return &Error{Code: CodeInvalidAppend, Op: "append", Message: fmt.Sprintf("message %d has no type", i)}
		}
		if utf8.RuneCountInString(m.Type) > MaxTypeLength {
			return &Error{Code: CodeInvalidAppend, Op: "append", Message: fmt.Sprintf("message %d type exceeds %d characters", i, MaxTypeLength)}
		}
		if _, dup := seen[m.MessageID]; dup {
			return &Error{Code: CodeInvalidAppend, Op: "append", Message: fmt.Sprintf("message id %s appears twice in the batch", m.MessageID)}
		}
		seen[m.MessageID] = struct{}{}
	}
	return nil
}
