package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/sqlstream/internal/metrics"
	"github.com/roach88/sqlstream/internal/scripts"
)

// ReadAllForwards returns up to maxCount messages of every stream with position
// >= from, in ascending position order.
func (s *Store) ReadAllForwards(ctx context.Context, from int64, maxCount int) (AllPage, error) {
	const op = "read all forwards"
	if err := validatePageSize(op, maxCount); err != nil {
		return AllPage{}, err
	}
	if from < 0 {
		from = 0
	}

	msgs, err := s.readAll(ctx, op, scripts.ReadAllForwards, from, maxCount)
	if err != nil {
		return AllPage{}, err
	}

	page := AllPage{From: from, Next: from, IsEnd: len(msgs) <= maxCount}
	if !page.IsEnd {
		msgs = msgs[:maxCount]
	}
	if n := len(msgs); n > 0 {
		page.Next = msgs[n-1].Position + 1
	}
	page.Messages = msgs

	metrics.ReadMessagesTotal.WithLabelValues(metrics.Forwards).Add(float64(len(msgs)))
	return page, nil
}

// ReadAllBackwards returns up to maxCount messages of every stream with position
// <= from, in descending position order. PositionEnd reads from the head.
func (s *Store) ReadAllBackwards(ctx context.Context, from Position, maxCount int) (AllPage, error) {
	const op = "read all backwards"
	if err := validatePageSize(op, maxCount); err != nil {
		return AllPage{}, err
	}

	start := int64(math.MaxInt64)
	if v, ok := from.Value(); ok {
		start = v
	}

	msgs, err := s.readAll(ctx, op, scripts.ReadAllBackwards, start, maxCount)
	if err != nil {
		return AllPage{}, err
	}

	page := AllPage{From: start, Next: start, IsEnd: len(msgs) <= maxCount}
	if !page.IsEnd {
		msgs = msgs[:maxCount]
	}
	if from.IsEnd() {
		// Report the head actually read rather than the open bound.
		page.From, page.Next = -1, -1
		if len(msgs) > 0 {
			page.From = msgs[0].Position
		}
	}
	if n := len(msgs); n > 0 {
		page.Next = msgs[n-1].Position - 1
	}
	if page.Next < 0 {
		page.IsEnd = true
	}
	page.Messages = msgs

	metrics.ReadMessagesTotal.WithLabelValues(metrics.Backwards).Add(float64(len(msgs)))
	return page, nil
}

// readAll fetches maxCount+1 rows so the caller can tell whether more remain.
func (s *Store) readAll(ctx context.Context, op string, name scripts.Name, from int64, maxCount int) ([]Message, error) {
	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.scripts.Get(name), from, maxCount+1)
	if err != nil {
		return nil, backendError(op, fmt.Errorf("query messages: %w", err))
	}
	defer rows.Close()

	msgs, err := scanMessages(rows, maxCount+1)
	if err != nil {
		return nil, backendError(op, err)
	}
	s.log.Debug("read all", "op", op, "from", from, "count", len(msgs))
	return msgs, nil
}

// ReadStreamForwards returns up to maxCount messages of one stream with version
// >= from, in ascending version order.
func (s *Store) ReadStreamForwards(ctx context.Context, key StreamKey, from int32, maxCount int) (StreamPage, error) {
	const op = "read stream forwards"
	if from < 0 {
		from = 0
	}

	page, err := s.readStream(ctx, op, scripts.ReadStreamForwards, key, from, maxCount)
	if err != nil {
		return StreamPage{}, err
	}

	page.Next = from
	if n := len(page.Messages); n > 0 {
		page.Next = page.Messages[n-1].StreamVersion + 1
	}

	metrics.ReadMessagesTotal.WithLabelValues(metrics.Forwards).Add(float64(len(page.Messages)))
	return page, nil
}

// ReadStreamBackwards returns up to maxCount messages of one stream with version
// <= from, in descending version order. StreamVersionEnd reads from the
// stream head.
func (s *Store) ReadStreamBackwards(ctx context.Context, key StreamKey, from StreamVersion, maxCount int) (StreamPage, error) {
	const op = "read stream backwards"

	start := int32(math.MaxInt32)
	if v, ok := from.Value(); ok {
		start = v
	}

	page, err := s.readStream(ctx, op, scripts.ReadStreamBackwards, key, start, maxCount)
	if err != nil {
		return StreamPage{}, err
	}

	page.Next = start
	if from.IsEnd() {
		page.From, page.Next = -1, -1
		if len(page.Messages) > 0 {
			page.From = page.Messages[0].StreamVersion
		}
	}
	if n := len(page.Messages); n > 0 {
		page.Next = page.Messages[n-1].StreamVersion - 1
	}
	if page.Next < 0 {
		page.IsEnd = true
	}

	metrics.ReadMessagesTotal.WithLabelValues(metrics.Backwards).Add(float64(len(page.Messages)))
	return page, nil
}

// readStream reads the stream head and one page of messages from the same
// snapshot.
func (s *Store) readStream(ctx context.Context, op string, name scripts.Name, key StreamKey, from int32, maxCount int) (StreamPage, error) {
	if key.StorageID == "" {
		return StreamPage{}, &Error{Code: CodeInvalidStreamID, Op: op, Message: "stream key is not resolved"}
	}
	if err := validatePageSize(op, maxCount); err != nil {
		return StreamPage{}, err
	}
	if err := s.guard(ctx, op); err != nil {
		return StreamPage{}, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, s.readTxOptions())
	if err != nil {
		return StreamPage{}, backendError(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	page := StreamPage{
		StreamID:     key.DisplayID,
		Status:       StreamFound,
		From:         from,
		LastVersion:  StreamVersionEnd,
		LastPosition: PositionEnd,
	}

	var (
		version int32
		pos     int64
	)
	err = tx.QueryRowContext(ctx, s.scripts.Get(scripts.ReadStreamHeadVersion), key.StorageID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		page.Status = StreamNotFound
		page.IsEnd = true
		page.Messages = []Message{}
		return page, nil
	}
	if err != nil {
		return StreamPage{}, backendError(op, fmt.Errorf("read stream head: %w", err))
	}
	if err := tx.QueryRowContext(ctx, s.scripts.Get(scripts.ReadStreamHeadPosition), key.StorageID).Scan(&pos); err != nil {
		return StreamPage{}, backendError(op, fmt.Errorf("read stream head position: %w", err))
	}
	page.LastVersion = versionFromRaw(version)
	page.LastPosition = positionFromRaw(pos)

	rows, err := tx.QueryContext(ctx, s.scripts.Get(name), key.StorageID, from, maxCount+1)
	if err != nil {
		return StreamPage{}, backendError(op, fmt.Errorf("query messages: %w", err))
	}
	defer rows.Close()

	msgs, err := scanMessages(rows, maxCount+1)
	if err != nil {
		return StreamPage{}, backendError(op, err)
	}

	page.IsEnd = len(msgs) <= maxCount
	if !page.IsEnd {
		msgs = msgs[:maxCount]
	}
	page.Messages = msgs

	s.log.Debug("read stream", "op", op, "stream", key.DisplayID, "from", from, "count", len(msgs))
	return page, nil
}

// readTxOptions gives stream reads a consistent snapshot. SQLite transactions
// already serialize against writers.
func (s *Store) readTxOptions() *sql.TxOptions {
	if s.settings.Dialect == scripts.Postgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func validatePageSize(op string, maxCount int) error {
	if maxCount <= 0 {
		return &Error{Code: CodeInvalidRead, Op: op, Message: fmt.Sprintf("page size %d must be positive", maxCount)}
	}
	return nil
}

// scanMessages scans message rows. Returns an empty slice, never nil.
func scanMessages(rows *sql.Rows, capacity int) ([]Message, error) {
	msgs := make([]Message, 0, min(capacity, 1024))
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.StreamID, &m.StreamVersion, &m.Position, &m.MessageID,
			&m.CreatedAt, &m.Type, &m.Payload, &m.Metadata,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
