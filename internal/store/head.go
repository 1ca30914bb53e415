package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/sqlstream/internal/scripts"
)

// ReadHeadPosition returns the greatest position in the store, or
// PositionEnd when the store holds no messages.
func (s *Store) ReadHeadPosition(ctx context.Context) (Position, error) {
	const op = "read head position"
	if err := s.guard(ctx, op); err != nil {
		return PositionEnd, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var head sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.scripts.Get(scripts.ReadHeadPosition)).Scan(&head); err != nil {
		return PositionEnd, backendError(op, err)
	}
	if !head.Valid {
		return PositionEnd, nil
	}
	return positionFromRaw(head.Int64), nil
}

// ReadStreamHeadPosition returns the greatest position within a stream, or
// PositionEnd when the stream is empty or absent.
func (s *Store) ReadStreamHeadPosition(ctx context.Context, key StreamKey) (Position, error) {
	const op = "read stream head position"
	if err := s.guard(ctx, op); err != nil {
		return PositionEnd, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var pos int64
	err := s.db.QueryRowContext(ctx, s.scripts.Get(scripts.ReadStreamHeadPosition), key.StorageID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return PositionEnd, nil
	}
	if err != nil {
		return PositionEnd, backendError(op, err)
	}
	return positionFromRaw(pos), nil
}

// ReadStreamHeadVersion returns the greatest version within a stream, or
// StreamVersionEnd when the stream is empty or absent.
func (s *Store) ReadStreamHeadVersion(ctx context.Context, key StreamKey) (StreamVersion, error) {
	const op = "read stream head version"
	if err := s.guard(ctx, op); err != nil {
		return StreamVersionEnd, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var version int32
	err := s.db.QueryRowContext(ctx, s.scripts.Get(scripts.ReadStreamHeadVersion), key.StorageID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return StreamVersionEnd, nil
	}
	if err != nil {
		return StreamVersionEnd, backendError(op, err)
	}
	return versionFromRaw(version), nil
}

// CountMessages returns the number of messages in a stream; 0 when absent.
func (s *Store) CountMessages(ctx context.Context, key StreamKey) (int, error) {
	return s.countMessages(ctx, "count messages", key, nil)
}

// CountMessagesBefore returns the number of messages in a stream created
// strictly before cutoff; 0 when absent.
func (s *Store) CountMessagesBefore(ctx context.Context, key StreamKey, cutoff time.Time) (int, error) {
	return s.countMessages(ctx, "count messages before", key, &cutoff)
}

func (s *Store) countMessages(ctx context.Context, op string, key StreamKey, cutoff *time.Time) (int, error) {
	if err := s.guard(ctx, op); err != nil {
		return 0, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var row *sql.Row
	if cutoff == nil {
		row = s.db.QueryRowContext(ctx, s.scripts.Get(scripts.CountStreamMessages), key.StorageID)
	} else {
		row = s.db.QueryRowContext(ctx, s.scripts.Get(scripts.CountStreamMessagesBefore), key.StorageID, cutoff.UTC())
	}

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, backendError(op, err)
	}
	return n, nil
}
