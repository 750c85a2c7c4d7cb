package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/storage"
)

// History returns one page of changes for a record, newest first.
func (s *Store) History(ctx context.Context, entity string, seq int64, page, limit int) ([]storage.HistoryEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return nil, fmt.Errorf("entity is required")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT history_seq, entity, seq, op, prior, changed_at
		   FROM entity_history
		  WHERE entity = ? AND seq = ?
		  ORDER BY history_seq DESC
		  LIMIT ? OFFSET ?`,
		entity, seq, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]storage.HistoryEntry, 0, limit)
	for rows.Next() {
		var entry storage.HistoryEntry
		var prior sql.NullString
		var changedAt int64
		if err := rows.Scan(&entry.HistorySeq, &entry.Entity, &entry.Seq, &entry.Operation, &prior, &changedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if prior.Valid {
			parsed, err := payload.ParseMap([]byte(prior.String))
			if err != nil {
				return nil, fmt.Errorf("decode history payload: %w", err)
			}
			entry.Prior = parsed
		}
		entry.ChangedAt = fromMillis(changedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return entries, nil
}

// RollbackHistory restores the record to the snapshot taken before the given
// history entry. Rolling back an insert removes the record; every rollback is
// itself recorded in history.
func (s *Store) RollbackHistory(ctx context.Context, entity string, historySeq int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return fmt.Errorf("entity is required")
	}

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := rollbackHistoryIn(ctx, sqlTx, entity, historySeq); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func rollbackHistoryIn(ctx context.Context, q dbtx, entity string, historySeq int64) error {
	var seq int64
	var prior sql.NullString
	row := q.QueryRowContext(
		ctx,
		`SELECT seq, prior FROM entity_history WHERE entity = ? AND history_seq = ?`,
		entity, historySeq,
	)
	if err := row.Scan(&seq, &prior); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load history entry: %w", err)
	}

	var current sql.NullString
	row = q.QueryRowContext(
		ctx,
		`SELECT data FROM entity_records WHERE entity = ? AND seq = ?`,
		entity, seq,
	)
	if err := row.Scan(&current); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load record: %w", err)
	}

	now := toMillis(time.Now())
	if prior.Valid {
		// Restore the pre-change snapshot and revive the row if needed.
		result, err := q.ExecContext(
			ctx,
			`UPDATE entity_records SET data = ?, deleted = 0, updated_at = ? WHERE entity = ? AND seq = ?`,
			prior.String, now, entity, seq,
		)
		if err != nil {
			return fmt.Errorf("restore record: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("restore record: %w", err)
		}
		if affected == 0 {
			if _, err := q.ExecContext(
				ctx,
				`INSERT INTO entity_records (entity, seq, data, deleted, created_at, updated_at)
				 VALUES (?, ?, ?, 0, ?, ?)`,
				entity, seq, prior.String, now, now,
			); err != nil {
				return fmt.Errorf("restore record: %w", err)
			}
		}
	} else {
		// The entry recorded an insert, so undoing it removes the row.
		if _, err := q.ExecContext(
			ctx,
			`DELETE FROM entity_records WHERE entity = ? AND seq = ?`,
			entity, seq,
		); err != nil {
			return fmt.Errorf("remove record: %w", err)
		}
	}

	var snapshot any
	if current.Valid {
		snapshot = current.String
	}
	if _, err := q.ExecContext(
		ctx,
		`INSERT INTO entity_history (entity, seq, op, prior, changed_at)
		 VALUES (?, ?, 'rollback', ?, ?)`,
		entity, seq, snapshot, now,
	); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
