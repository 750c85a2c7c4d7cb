package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/storage"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Submit inserts a new record or merges fields into an existing one.
func (s *Store) Submit(ctx context.Context, entity string, data payload.Map) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	return submitIn(ctx, s.sqlDB, entity, data)
}

// Delete removes a record, soft by default or hard when requested.
func (s *Store) Delete(ctx context.Context, entity string, seq int64, hard bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return deleteIn(ctx, s.sqlDB, entity, seq, hard)
}

// InTransaction runs fn inside one SQLite transaction. Mutations made through
// the provided Mutator commit together or roll back together.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Mutator) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, &txMutator{sqlTx: sqlTx}); err != nil {
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

// txMutator applies mutations inside an open SQLite transaction.
type txMutator struct {
	sqlTx *sql.Tx
}

func (m *txMutator) Submit(ctx context.Context, entity string, data payload.Map) (int64, error) {
	return submitIn(ctx, m.sqlTx, entity, data)
}

func (m *txMutator) Delete(ctx context.Context, entity string, seq int64, hard bool) error {
	return deleteIn(ctx, m.sqlTx, entity, seq, hard)
}

var _ storage.Mutator = (*txMutator)(nil)

func submitIn(ctx context.Context, q dbtx, entity string, data payload.Map) (int64, error) {
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return 0, fmt.Errorf("entity is required")
	}
	if data == nil {
		return 0, fmt.Errorf("payload is required")
	}

	if seqValue, ok := data["seq"]; ok {
		seq, ok := seqValue.Int64()
		if !ok {
			return 0, fmt.Errorf("seq must be an integer")
		}
		return seq, updateRecord(ctx, q, entity, seq, data)
	}
	return insertRecord(ctx, q, entity, data)
}

func insertRecord(ctx context.Context, q dbtx, entity string, data payload.Map) (int64, error) {
	var seq int64
	row := q.QueryRowContext(
		ctx,
		`INSERT INTO entity_sequences (entity, next_seq) VALUES (?, 1)
		 ON CONFLICT(entity) DO UPDATE SET next_seq = next_seq + 1
		 RETURNING next_seq`,
		entity,
	)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocate sequence: %w", err)
	}

	encoded, err := data.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	now := toMillis(time.Now())
	if _, err := q.ExecContext(
		ctx,
		`INSERT INTO entity_records (entity, seq, data, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		entity, seq, string(encoded), now, now,
	); err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	if err := appendHistory(ctx, q, entity, seq, string(storage.OpSubmit), nil, now); err != nil {
		return 0, err
	}
	return seq, nil
}

func updateRecord(ctx context.Context, q dbtx, entity string, seq int64, data payload.Map) error {
	var prior string
	row := q.QueryRowContext(
		ctx,
		`SELECT data FROM entity_records WHERE entity = ? AND seq = ? AND deleted = 0`,
		entity, seq,
	)
	if err := row.Scan(&prior); err != nil {
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load record: %w", err)
	}

	merged, err := payload.ParseMap([]byte(prior))
	if err != nil {
		return fmt.Errorf("decode record payload: %w", err)
	}
	for field, value := range data {
		if field == "seq" {
			continue
		}
		merged[field] = value
	}
	encoded, err := merged.Encode()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	now := toMillis(time.Now())
	if _, err := q.ExecContext(
		ctx,
		`UPDATE entity_records SET data = ?, updated_at = ? WHERE entity = ? AND seq = ?`,
		string(encoded), now, entity, seq,
	); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return appendHistory(ctx, q, entity, seq, string(storage.OpSubmit), &prior, now)
}

func deleteIn(ctx context.Context, q dbtx, entity string, seq int64, hard bool) error {
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return fmt.Errorf("entity is required")
	}

	var prior string
	row := q.QueryRowContext(
		ctx,
		`SELECT data FROM entity_records WHERE entity = ? AND seq = ? AND deleted = 0`,
		entity, seq,
	)
	if err := row.Scan(&prior); err != nil {
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load record: %w", err)
	}

	now := toMillis(time.Now())
	if hard {
		if _, err := q.ExecContext(
			ctx,
			`DELETE FROM entity_records WHERE entity = ? AND seq = ?`,
			entity, seq,
		); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
	} else {
		if _, err := q.ExecContext(
			ctx,
			`UPDATE entity_records SET deleted = 1, updated_at = ? WHERE entity = ? AND seq = ?`,
			now, entity, seq,
		); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
	}
	return appendHistory(ctx, q, entity, seq, string(storage.OpDelete), &prior, now)
}

func appendHistory(ctx context.Context, q dbtx, entity string, seq int64, op string, prior *string, changedAt int64) error {
	var priorValue any
	if prior != nil {
		priorValue = *prior
	}
	if _, err := q.ExecContext(
		ctx,
		`INSERT INTO entity_history (entity, seq, op, prior, changed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entity, seq, op, priorValue, changedAt,
	); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
