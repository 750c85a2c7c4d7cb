// Package storage defines the narrow persistence contract the entity server
// core depends on.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/entityd/internal/payload"
)

// ErrNotFound reports that a record or history entry does not exist.
var ErrNotFound = errors.New("record not found")

// Operation names a mutation kind.
type Operation string

const (
	OpSubmit Operation = "submit"
	OpDelete Operation = "delete"
)

// Filter is one query predicate over a payload field.
type Filter struct {
	Field string
	Op    string
	Value payload.Value
}

// FilterOps enumerates the supported filter operators.
var FilterOps = map[string]struct{}{
	"eq": {}, "ne": {}, "gt": {}, "gte": {}, "lt": {}, "lte": {}, "like": {}, "in": {},
}

// Record is one stored entity row.
type Record struct {
	Entity    string
	Seq       int64
	Data      payload.Map
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is one change recorded against a record. Prior holds the row
// snapshot before the change; nil means the row did not exist yet.
type HistoryEntry struct {
	HistorySeq int64
	Entity     string
	Seq        int64
	Operation  string
	Prior      payload.Map
	ChangedAt  time.Time
}

// Mutator applies submit and delete statements. Implementations are provided
// both for immediate execution and inside an atomic transaction scope.
type Mutator interface {
	// Submit inserts a record (payload without "seq") or merges fields into
	// an existing one (payload with "seq") and returns the record sequence.
	Submit(ctx context.Context, entity string, data payload.Map) (int64, error)
	// Delete removes a record, either soft (recoverable) or hard.
	Delete(ctx context.Context, entity string, seq int64, hard bool) error
}

// Store is the storage collaborator for the entity server.
type Store interface {
	Mutator

	Get(ctx context.Context, entity string, seq int64) (Record, error)
	List(ctx context.Context, entity string, page, limit int, orderBy string) ([]Record, error)
	Count(ctx context.Context, entity string) (int64, error)
	Query(ctx context.Context, entity string, filters []Filter, page, limit int, orderBy string) ([]Record, error)
	History(ctx context.Context, entity string, seq int64, page, limit int) ([]HistoryEntry, error)
	RollbackHistory(ctx context.Context, entity string, historySeq int64) error

	// InTransaction runs fn inside one atomic scope; every mutation through
	// the provided Mutator is applied completely or not at all.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Mutator) error) error

	Close() error
}
