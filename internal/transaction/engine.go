// Package transaction queues entity statements and commits them atomically,
// resolving placeholder references to sequences produced earlier in the same
// transaction.
package transaction

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/platform/errors"
	"github.com/louisbranch/entityd/internal/platform/id"
	"github.com/louisbranch/entityd/internal/storage"
)

// DefaultTTL is how long an idle open transaction survives before the sweep
// discards it.
const DefaultTTL = 5 * time.Minute

// Statement is one queued mutation awaiting commit.
type Statement struct {
	Entity string
	Op     storage.Operation
	// Data carries the submit payload. Placeholders are resolved at commit.
	Data payload.Map
	// Seq identifies the delete target. It may be a number or a placeholder.
	Seq  payload.Value
	Hard bool
}

// Engine tracks open transactions and applies their statements through the
// storage collaborator in one atomic scope.
type Engine struct {
	store storage.Store
	ttl   time.Duration
	now   func() time.Time

	mu   sync.Mutex
	open map[string]*queue
}

type queue struct {
	statements []Statement
	lastActive time.Time
}

// New returns an engine backed by store. A non-positive ttl falls back to
// DefaultTTL.
func New(store storage.Store, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		open:  make(map[string]*queue),
	}
}

// Start opens a new transaction and returns its identifier.
func (e *Engine) Start(ctx context.Context) (string, error) {
	if e == nil || e.store == nil {
		return "", errors.New(errors.CodeStorageFailure, "transaction engine is not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	txID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("new transaction id: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.open[txID] = &queue{lastActive: e.now()}
	return txID, nil
}

// Enqueue appends a statement to an open transaction and returns its index.
// Submitting clients use the index as a placeholder for the sequence the
// statement will produce at commit.
func (e *Engine) Enqueue(txID string, stmt Statement) (int, error) {
	switch stmt.Op {
	case storage.OpSubmit:
		if stmt.Data == nil {
			return 0, errors.New(errors.CodeEntityInvalidPayload, "submit statement requires a payload")
		}
	case storage.OpDelete:
	default:
		return 0, errors.New(errors.CodeEntityInvalidPayload, fmt.Sprintf("unknown operation %q", stmt.Op))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.open[txID]
	if !ok {
		return 0, notFound(txID)
	}
	index := len(q.statements)
	q.statements = append(q.statements, stmt)
	q.lastActive = e.now()
	return index, nil
}

// Commit applies every queued statement in order inside one storage
// transaction. The identifier is retired whether the commit succeeds or not.
func (e *Engine) Commit(ctx context.Context, txID string) ([]Result, error) {
	statements, err := e.take(txID)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(statements))
	err = e.store.InTransaction(ctx, func(ctx context.Context, tx storage.Mutator) error {
		seqs := make(map[int]int64, len(statements))
		for i, stmt := range statements {
			result, err := applyStatement(ctx, tx, i, stmt, seqs)
			if err != nil {
				return err
			}
			if stmt.Op == storage.OpSubmit {
				seqs[i] = result.Seq
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Rollback discards an open transaction without touching storage.
func (e *Engine) Rollback(txID string) error {
	_, err := e.take(txID)
	return err
}

// take removes the transaction from the open set and returns its statements.
func (e *Engine) take(txID string) ([]Statement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.open[txID]
	if !ok {
		return nil, notFound(txID)
	}
	delete(e.open, txID)
	return q.statements, nil
}

func applyStatement(ctx context.Context, tx storage.Mutator, index int, stmt Statement, seqs map[int]int64) (Result, error) {
	resolve := func(ref int) (payload.Value, error) {
		seq, ok := seqs[ref]
		if !ok {
			return payload.Value{}, errors.WithMetadata(
				errors.CodeTxUnresolvedReference,
				fmt.Sprintf("statement %d references %s, which has not produced a sequence", index, payload.Ref(ref)),
				map[string]string{"index": strconv.Itoa(index), "ref": strconv.Itoa(ref)},
			)
		}
		return payload.Int(seq), nil
	}

	switch stmt.Op {
	case storage.OpSubmit:
		resolved, err := stmt.Data.ResolveRefs(resolve)
		if err != nil {
			return Result{}, err
		}
		seq, err := tx.Submit(ctx, stmt.Entity, resolved)
		if err != nil {
			return Result{}, failed(index, err)
		}
		delete(resolved, "seq")
		return Result{Index: index, Entity: stmt.Entity, Seq: seq, Op: storage.OpSubmit, Data: resolved}, nil

	case storage.OpDelete:
		seq, err := resolveSeq(stmt.Seq, resolve)
		if err != nil {
			return Result{}, err
		}
		if err := tx.Delete(ctx, stmt.Entity, seq, stmt.Hard); err != nil {
			return Result{}, failed(index, err)
		}
		return Result{Index: index, Entity: stmt.Entity, Seq: seq, Op: storage.OpDelete}, nil

	default:
		return Result{}, failed(index, fmt.Errorf("unknown operation %q", stmt.Op))
	}
}

func resolveSeq(value payload.Value, resolve func(int) (payload.Value, error)) (int64, error) {
	if s, ok := value.StringValue(); ok {
		if ref, isRef := payload.ParseRef(s); isRef {
			resolved, err := resolve(ref)
			if err != nil {
				return 0, err
			}
			value = resolved
		}
	}
	seq, ok := value.Int64()
	if !ok {
		return 0, errors.New(errors.CodeEntityInvalidPayload, "delete statement requires an integer seq")
	}
	return seq, nil
}

func notFound(txID string) error {
	return errors.WithMetadata(
		errors.CodeTxNotFound,
		"transaction is not open",
		map[string]string{"transaction_id": txID},
	)
}

func failed(index int, cause error) error {
	return errors.WrapWithMetadata(
		errors.CodeTxCommitFailed,
		fmt.Sprintf("statement %d failed", index),
		map[string]string{"index": strconv.Itoa(index)},
		cause,
	)
}

// Sweep discards open transactions idle longer than the engine TTL and
// returns how many were dropped.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-e.ttl)
	dropped := 0
	for txID, q := range e.open {
		if q.lastActive.Before(cutoff) {
			delete(e.open, txID)
			dropped++
		}
	}
	return dropped
}

// StartSweep discards idle transactions on a fixed interval until ctx ends.
func (e *Engine) StartSweep(ctx context.Context, every time.Duration) {
	if e == nil || every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Sweep()
			}
		}
	}()
}
