package transaction

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/platform/errors"
	"github.com/louisbranch/entityd/internal/storage"
	"github.com/louisbranch/entityd/internal/storage/sqlite"
)

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "entityd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return New(store, 0), store
}

func mustStart(t *testing.T, engine *Engine) string {
	t.Helper()

	txID, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return txID
}

func TestEnqueueReturnsStatementIndexes(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	txID := mustStart(t, engine)

	for want := 0; want < 3; want++ {
		index, err := engine.Enqueue(txID, Statement{
			Entity: "order",
			Op:     storage.OpSubmit,
			Data:   payload.Map{"total": payload.Int(100)},
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if index != want {
			t.Fatalf("index = %d, want %d", index, want)
		}
	}
	if got := payload.Ref(2); got != "$tx.2" {
		t.Fatalf("placeholder = %q, want $tx.2", got)
	}
}

func TestEnqueueUnknownTransaction(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	_, err := engine.Enqueue("missing", Statement{
		Entity: "order",
		Op:     storage.OpSubmit,
		Data:   payload.Map{},
	})
	if !stderrors.Is(err, errors.New(errors.CodeTxNotFound, "")) {
		t.Fatalf("error = %v, want %s", err, errors.CodeTxNotFound)
	}
}

func TestCommitResolvesPlaceholders(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t)
	ctx := context.Background()
	txID := mustStart(t, engine)

	if _, err := engine.Enqueue(txID, Statement{
		Entity: "order",
		Op:     storage.OpSubmit,
		Data:   payload.Map{"status": payload.String("pending")},
	}); err != nil {
		t.Fatalf("enqueue order: %v", err)
	}
	for _, product := range []string{"widget", "gadget"} {
		if _, err := engine.Enqueue(txID, Statement{
			Entity: "order_item",
			Op:     storage.OpSubmit,
			Data: payload.Map{
				"order_seq": payload.String(payload.Ref(0)),
				"product":   payload.String(product),
			},
		}); err != nil {
			t.Fatalf("enqueue item: %v", err)
		}
	}

	results, err := engine.Commit(ctx, txID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	orderSeq := results[0].Seq
	for _, result := range results[1:] {
		got, _ := result.Data["order_seq"].Int64()
		if got != orderSeq {
			t.Fatalf("order_seq = %d, want %d", got, orderSeq)
		}
	}

	items, err := store.Query(ctx, "order_item", []storage.Filter{
		{Field: "order_seq", Op: "eq", Value: payload.Int(orderSeq)},
	}, 1, 20, "")
	if err != nil {
		t.Fatalf("query items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("stored %d items, want 2", len(items))
	}
}

func TestCommitRejectsForwardReference(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t)
	ctx := context.Background()
	txID := mustStart(t, engine)

	if _, err := engine.Enqueue(txID, Statement{
		Entity: "order_item",
		Op:     storage.OpSubmit,
		Data:   payload.Map{"order_seq": payload.String(payload.Ref(1))},
	}); err != nil {
		t.Fatalf("enqueue item: %v", err)
	}
	if _, err := engine.Enqueue(txID, Statement{
		Entity: "order",
		Op:     storage.OpSubmit,
		Data:   payload.Map{"status": payload.String("pending")},
	}); err != nil {
		t.Fatalf("enqueue order: %v", err)
	}

	_, err := engine.Commit(ctx, txID)
	if !stderrors.Is(err, errors.New(errors.CodeTxUnresolvedReference, "")) {
		t.Fatalf("error = %v, want %s", err, errors.CodeTxUnresolvedReference)
	}

	// Nothing persisted and the identifier is retired.
	count, err := store.Count(ctx, "order")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if _, err := engine.Commit(ctx, txID); !stderrors.Is(err, errors.New(errors.CodeTxNotFound, "")) {
		t.Fatalf("second commit error = %v, want %s", err, errors.CodeTxNotFound)
	}
}

func TestCommitIsAtomic(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t)
	ctx := context.Background()
	txID := mustStart(t, engine)

	if _, err := engine.Enqueue(txID, Statement{
		Entity: "order",
		Op:     storage.OpSubmit,
		Data:   payload.Map{"status": payload.String("pending")},
	}); err != nil {
		t.Fatalf("enqueue order: %v", err)
	}
	// Updating a sequence that does not exist fails the whole commit.
	if _, err := engine.Enqueue(txID, Statement{
		Entity: "order",
		Op:     storage.OpSubmit,
		Data: payload.Map{
			"seq":    payload.Int(999),
			"status": payload.String("paid"),
		},
	}); err != nil {
		t.Fatalf("enqueue update: %v", err)
	}

	_, err := engine.Commit(ctx, txID)
	if !stderrors.Is(err, errors.New(errors.CodeTxCommitFailed, "")) {
		t.Fatalf("error = %v, want %s", err, errors.CodeTxCommitFailed)
	}
	var coded *errors.Error
	if !stderrors.As(err, &coded) || coded.Metadata["index"] != "1" {
		t.Fatalf("metadata = %v, want index 1", err)
	}

	count, err := store.Count(ctx, "order")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 after failed commit", count)
	}
}

func TestCommitDeletesByPlaceholder(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t)
	ctx := context.Background()
	txID := mustStart(t, engine)

	if _, err := engine.Enqueue(txID, Statement{
		Entity: "order",
		Op:     storage.OpSubmit,
		Data:   payload.Map{"status": payload.String("pending")},
	}); err != nil {
		t.Fatalf("enqueue submit: %v", err)
	}
	if _, err := engine.Enqueue(txID, Statement{
		Entity: "order",
		Op:     storage.OpDelete,
		Seq:    payload.String(payload.Ref(0)),
	}); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}

	results, err := engine.Commit(ctx, txID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if results[1].Seq != results[0].Seq {
		t.Fatalf("delete seq = %d, want %d", results[1].Seq, results[0].Seq)
	}
	if _, err := store.Get(ctx, "order", results[0].Seq); !stderrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after delete: %v, want ErrNotFound", err)
	}
}

func TestRollbackDiscardsQueue(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t)
	ctx := context.Background()
	txID := mustStart(t, engine)

	if _, err := engine.Enqueue(txID, Statement{
		Entity: "order",
		Op:     storage.OpSubmit,
		Data:   payload.Map{"status": payload.String("pending")},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := engine.Rollback(txID); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	count, err := store.Count(ctx, "order")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if err := engine.Rollback(txID); !stderrors.Is(err, errors.New(errors.CodeTxNotFound, "")) {
		t.Fatalf("second rollback error = %v, want %s", err, errors.CodeTxNotFound)
	}
}

func TestSweepDropsIdleTransactions(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	engine.ttl = time.Minute
	now := time.Unix(1772359200, 0)
	engine.now = func() time.Time { return now }

	stale := mustStart(t, engine)
	now = now.Add(2 * time.Minute)
	fresh := mustStart(t, engine)

	if dropped := engine.Sweep(); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if _, err := engine.Enqueue(stale, Statement{Op: storage.OpDelete}); !stderrors.Is(err, errors.New(errors.CodeTxNotFound, "")) {
		t.Fatalf("stale enqueue error = %v, want %s", err, errors.CodeTxNotFound)
	}
	if _, err := engine.Enqueue(fresh, Statement{Op: storage.OpDelete, Seq: payload.Int(1), Entity: "order"}); err != nil {
		t.Fatalf("fresh enqueue: %v", err)
	}
}

func TestResultMarshalFlattensPayload(t *testing.T) {
	t.Parallel()

	result := Result{
		Index:  1,
		Entity: "order_item",
		Seq:    5001,
		Op:     storage.OpSubmit,
		Data: payload.Map{
			"order_seq": payload.Int(101),
			"product":   payload.String("widget"),
		},
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["seq"].(float64) != 5001 {
		t.Fatalf("seq = %v, want 5001", decoded["seq"])
	}
	if decoded["order_seq"].(float64) != 101 {
		t.Fatalf("order_seq = %v, want 101", decoded["order_seq"])
	}
	if decoded["product"] != "widget" {
		t.Fatalf("product = %v, want widget", decoded["product"])
	}
	if decoded["entity"] != "order_item" {
		t.Fatalf("entity = %v, want order_item", decoded["entity"])
	}
}
