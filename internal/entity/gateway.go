// Package entity validates requests against the entity data model before
// delegating to the storage collaborator.
package entity

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/platform/errors"
	"github.com/louisbranch/entityd/internal/storage"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 500
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Gateway is a stateless validation layer over the storage collaborator.
// It offers no atomicity beyond a single call; multi-statement atomicity
// belongs to the transaction engine.
type Gateway struct {
	store storage.Store
}

// New returns a gateway backed by store.
func New(store storage.Store) *Gateway {
	return &Gateway{store: store}
}

// ValidateName checks an entity name against the identifier rules.
func ValidateName(entity string) error {
	if !namePattern.MatchString(entity) {
		return errors.New(errors.CodeEntityInvalidName, fmt.Sprintf("invalid entity name %q", entity))
	}
	return nil
}

// ValidateStatement checks a mutation before it is queued or applied.
func ValidateStatement(entity string, op storage.Operation, data payload.Map) error {
	if err := ValidateName(entity); err != nil {
		return err
	}
	switch op {
	case storage.OpSubmit:
		if len(data) == 0 {
			return errors.New(errors.CodeEntityInvalidPayload, "submit requires a non-empty payload")
		}
		if seq, ok := data["seq"]; ok {
			if _, isRef := refSeq(seq); !isRef {
				if _, isInt := seq.Int64(); !isInt {
					return errors.New(errors.CodeEntityInvalidPayload, "seq must be an integer")
				}
			}
		}
	case storage.OpDelete:
	default:
		return errors.New(errors.CodeEntityInvalidPayload, fmt.Sprintf("unknown operation %q", op))
	}
	return nil
}

func refSeq(value payload.Value) (int, bool) {
	s, ok := value.StringValue()
	if !ok {
		return 0, false
	}
	return payload.ParseRef(s)
}

// Submit validates and applies one submit immediately.
func (g *Gateway) Submit(ctx context.Context, entity string, data payload.Map) (int64, error) {
	if err := ValidateStatement(entity, storage.OpSubmit, data); err != nil {
		return 0, err
	}
	if _, isRef := refSeq(data["seq"]); isRef {
		return 0, errors.New(errors.CodeEntityInvalidPayload, "placeholder seq is only valid inside a transaction")
	}
	seq, err := g.store.Submit(ctx, entity, data)
	if err != nil {
		return 0, mapStorageErr(err)
	}
	return seq, nil
}

// Delete validates and applies one delete immediately.
func (g *Gateway) Delete(ctx context.Context, entity string, seq int64, hard bool) error {
	if err := ValidateName(entity); err != nil {
		return err
	}
	if err := g.store.Delete(ctx, entity, seq, hard); err != nil {
		return mapStorageErr(err)
	}
	return nil
}

// Get returns one record.
func (g *Gateway) Get(ctx context.Context, entity string, seq int64) (storage.Record, error) {
	if err := ValidateName(entity); err != nil {
		return storage.Record{}, err
	}
	record, err := g.store.Get(ctx, entity, seq)
	if err != nil {
		return storage.Record{}, mapStorageErr(err)
	}
	return record, nil
}

// List returns one page of records.
func (g *Gateway) List(ctx context.Context, entity string, page, limit int, orderBy string) ([]storage.Record, error) {
	return g.Query(ctx, entity, nil, page, limit, orderBy)
}

// Count returns the number of live records for an entity.
func (g *Gateway) Count(ctx context.Context, entity string) (int64, error) {
	if err := ValidateName(entity); err != nil {
		return 0, err
	}
	count, err := g.store.Count(ctx, entity)
	if err != nil {
		return 0, mapStorageErr(err)
	}
	return count, nil
}

// Query returns one page of records matching every filter.
func (g *Gateway) Query(ctx context.Context, entity string, filters []storage.Filter, page, limit int, orderBy string) ([]storage.Record, error) {
	if err := ValidateName(entity); err != nil {
		return nil, err
	}
	page, limit, err := normalizePaging(page, limit)
	if err != nil {
		return nil, err
	}
	for _, filter := range filters {
		if err := validateFilter(filter); err != nil {
			return nil, err
		}
	}
	if orderBy != "" {
		if err := validateOrderBy(orderBy); err != nil {
			return nil, err
		}
	}
	records, err := g.store.Query(ctx, entity, filters, page, limit, orderBy)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return records, nil
}

// History returns one page of changes for a record, newest first.
func (g *Gateway) History(ctx context.Context, entity string, seq int64, page, limit int) ([]storage.HistoryEntry, error) {
	if err := ValidateName(entity); err != nil {
		return nil, err
	}
	page, limit, err := normalizePaging(page, limit)
	if err != nil {
		return nil, err
	}
	entries, err := g.store.History(ctx, entity, seq, page, limit)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return entries, nil
}

// RollbackHistory restores the snapshot recorded before a history entry.
func (g *Gateway) RollbackHistory(ctx context.Context, entity string, historySeq int64) error {
	if err := ValidateName(entity); err != nil {
		return err
	}
	if err := g.store.RollbackHistory(ctx, entity, historySeq); err != nil {
		return mapStorageErr(err)
	}
	return nil
}

func normalizePaging(page, limit int) (int, int, error) {
	if page == 0 {
		page = defaultPage
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if page < 1 {
		return 0, 0, errors.New(errors.CodeEntityInvalidPaging, "page must be at least 1")
	}
	if limit < 1 || limit > maxLimit {
		return 0, 0, errors.New(errors.CodeEntityInvalidPaging, fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	}
	return page, limit, nil
}

func validateFilter(filter storage.Filter) error {
	if !namePattern.MatchString(filter.Field) {
		return errors.New(errors.CodeEntityInvalidField, fmt.Sprintf("invalid filter field %q", filter.Field))
	}
	if _, ok := storage.FilterOps[filter.Op]; !ok {
		return errors.New(errors.CodeEntityInvalidFilter, fmt.Sprintf("unknown filter op %q", filter.Op))
	}
	if filter.Op == "in" {
		if _, ok := filter.Value.Items(); !ok {
			return errors.New(errors.CodeEntityInvalidFilter, "in filter requires an array value")
		}
	}
	return nil
}

func validateOrderBy(orderBy string) error {
	parts := strings.Fields(orderBy)
	if len(parts) == 0 || len(parts) > 2 {
		return errors.New(errors.CodeEntityInvalidField, fmt.Sprintf("invalid order_by %q", orderBy))
	}
	if !namePattern.MatchString(parts[0]) {
		return errors.New(errors.CodeEntityInvalidField, fmt.Sprintf("invalid order_by field %q", parts[0]))
	}
	if len(parts) == 2 {
		direction := strings.ToLower(parts[1])
		if direction != "asc" && direction != "desc" {
			return errors.New(errors.CodeEntityInvalidField, fmt.Sprintf("invalid order_by direction %q", parts[1]))
		}
	}
	return nil
}

func mapStorageErr(err error) error {
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.Wrap(errors.CodeNotFound, "record not found", err)
	}
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		return err
	}
	return errors.Wrap(errors.CodeStorageFailure, "storage operation failed", err)
}
