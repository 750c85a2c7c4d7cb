// Package sqlite provides the SQLite-backed entity storage collaborator.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/entityd/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/storage"
	"github.com/louisbranch/entityd/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists entity records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite entity store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns one live record by entity and sequence.
func (s *Store) Get(ctx context.Context, entity string, seq int64) (storage.Record, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Record{}, err
	}
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return storage.Record{}, fmt.Errorf("entity is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT entity, seq, data, deleted, created_at, updated_at
		   FROM entity_records
		  WHERE entity = ? AND seq = ? AND deleted = 0`,
		entity,
		seq,
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// List returns one page of live records for an entity.
func (s *Store) List(ctx context.Context, entity string, page, limit int, orderBy string) ([]storage.Record, error) {
	return s.Query(ctx, entity, nil, page, limit, orderBy)
}

// Count returns the number of live records for an entity.
func (s *Store) Count(ctx context.Context, entity string) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return 0, fmt.Errorf("entity is required")
	}

	var count int64
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM entity_records WHERE entity = ? AND deleted = 0`,
		entity,
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// Query returns one page of live records matching every filter.
func (s *Store) Query(ctx context.Context, entity string, filters []storage.Filter, page, limit int, orderBy string) ([]storage.Record, error) {
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

	where := []string{"entity = ?", "deleted = 0"}
	args := []any{entity}
	for _, filter := range filters {
		clause, clauseArgs, err := compileFilter(filter)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}

	order, err := compileOrder(orderBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT entity, seq, data, deleted, created_at, updated_at
		   FROM entity_records
		  WHERE %s
		  ORDER BY %s
		  LIMIT ? OFFSET ?`,
		strings.Join(where, " AND "),
		order,
	)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]storage.Record, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return records, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (storage.Record, error) {
	var record storage.Record
	var data string
	var deleted int
	var createdAt int64
	var updatedAt int64
	if err := row.Scan(&record.Entity, &record.Seq, &data, &deleted, &createdAt, &updatedAt); err != nil {
		return storage.Record{}, err
	}
	parsed, err := payload.ParseMap([]byte(data))
	if err != nil {
		return storage.Record{}, fmt.Errorf("decode record payload: %w", err)
	}
	record.Data = parsed
	record.Deleted = deleted != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func compileFilter(filter storage.Filter) (string, []any, error) {
	if !identPattern.MatchString(filter.Field) {
		return "", nil, fmt.Errorf("invalid filter field %q", filter.Field)
	}
	column := "json_extract(data, '$." + filter.Field + "')"
	if filter.Field == "seq" {
		column = "seq"
	}

	operators := map[string]string{
		"eq": "=", "ne": "!=", "gt": ">", "gte": ">=", "lt": "<", "lte": "<=", "like": "LIKE",
	}
	if sqlOp, ok := operators[filter.Op]; ok {
		arg, err := bindScalar(filter.Value)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", filter.Field, err)
		}
		return column + " " + sqlOp + " ?", []any{arg}, nil
	}
	if filter.Op == "in" {
		items, ok := filter.Value.Items()
		if !ok || len(items) == 0 {
			return "", nil, fmt.Errorf("filter %s: in requires a non-empty array", filter.Field)
		}
		placeholders := make([]string, len(items))
		args := make([]any, len(items))
		for i, item := range items {
			arg, err := bindScalar(item)
			if err != nil {
				return "", nil, fmt.Errorf("filter %s: %w", filter.Field, err)
			}
			placeholders[i] = "?"
			args[i] = arg
		}
		return column + " IN (" + strings.Join(placeholders, ", ") + ")", args, nil
	}
	return "", nil, fmt.Errorf("invalid filter op %q", filter.Op)
}

func bindScalar(value payload.Value) (any, error) {
	switch value.Kind() {
	case payload.KindNull:
		return nil, nil
	case payload.KindBool:
		b, _ := value.BoolValue()
		return b, nil
	case payload.KindNumber:
		if n, ok := value.Int64(); ok {
			return n, nil
		}
		f, _ := value.Float64()
		return f, nil
	case payload.KindString:
		s, _ := value.StringValue()
		return s, nil
	default:
		return nil, fmt.Errorf("filter values must be scalars")
	}
}

func compileOrder(orderBy string) (string, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return "seq ASC", nil
	}

	parts := strings.Fields(orderBy)
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid order_by %q", orderBy)
	}
	field := parts[0]
	if !identPattern.MatchString(field) {
		return "", fmt.Errorf("invalid order_by field %q", field)
	}
	direction := "ASC"
	if len(parts) == 2 {
		switch strings.ToLower(parts[1]) {
		case "asc":
		case "desc":
			direction = "DESC"
		default:
			return "", fmt.Errorf("invalid order_by direction %q", parts[1])
		}
	}
	column := "json_extract(data, '$." + field + "')"
	if field == "seq" {
		column = "seq"
	}
	return column + " " + direction, nil
}

var _ storage.Store = (*Store)(nil)
