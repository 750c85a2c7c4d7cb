package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "entityd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func mustSubmit(t *testing.T, store *Store, entity string, data payload.Map) int64 {
	t.Helper()

	seq, err := store.Submit(context.Background(), entity, data)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return seq
}

func TestSubmitAssignsMonotonicSequences(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	for want := int64(1); want <= 3; want++ {
		seq := mustSubmit(t, store, "order", payload.Map{"total": payload.Int(int64(want * 100))})
		if seq != want {
			t.Fatalf("seq = %d, want %d", seq, want)
		}
	}

	// Sequences are tracked per entity.
	if seq := mustSubmit(t, store, "player", payload.Map{"name": payload.String("zed")}); seq != 1 {
		t.Fatalf("player seq = %d, want 1", seq)
	}
}

func TestSubmitWithSeqMergesFields(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seq := mustSubmit(t, store, "order", payload.Map{
		"status": payload.String("pending"),
		"total":  payload.Int(250),
	})

	got, err := store.Submit(ctx, "order", payload.Map{
		"seq":    payload.Int(seq),
		"status": payload.String("paid"),
	})
	if err != nil {
		t.Fatalf("submit update: %v", err)
	}
	if got != seq {
		t.Fatalf("seq = %d, want %d", got, seq)
	}

	record, err := store.Get(ctx, "order", seq)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status, _ := record.Data["status"].StringValue(); status != "paid" {
		t.Fatalf("status = %q, want paid", status)
	}
	if total, _ := record.Data["total"].Int64(); total != 250 {
		t.Fatalf("total = %d, want untouched 250", total)
	}
	if _, ok := record.Data["seq"]; ok {
		t.Fatal("stored payload must not contain seq")
	}
}

func TestSubmitUpdateMissingRecord(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.Submit(context.Background(), "order", payload.Map{
		"seq":    payload.Int(99),
		"status": payload.String("paid"),
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSoftHidesRecord(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seq := mustSubmit(t, store, "order", payload.Map{"total": payload.Int(100)})

	if err := store.Delete(ctx, "order", seq, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "order", seq); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after delete: %v, want ErrNotFound", err)
	}
	count, err := store.Count(ctx, "order")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}

	// Deleting again reports not found.
	if err := store.Delete(ctx, "order", seq, false); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: %v, want ErrNotFound", err)
	}
}

func TestDeleteHardRemovesRow(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seq := mustSubmit(t, store, "order", payload.Map{"total": payload.Int(100)})

	if err := store.Delete(ctx, "order", seq, true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "order", seq); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after delete: %v, want ErrNotFound", err)
	}

	// The freed sequence is never reused.
	if next := mustSubmit(t, store, "order", payload.Map{"total": payload.Int(200)}); next != seq+1 {
		t.Fatalf("next seq = %d, want %d", next, seq+1)
	}
}

func TestQueryFilters(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		mustSubmit(t, store, "order", payload.Map{
			"status": payload.String([]string{"pending", "paid"}[i%2]),
			"total":  payload.Int(int64(i * 100)),
		})
	}

	cases := []struct {
		name    string
		filters []storage.Filter
		want    int
	}{
		{"eq", []storage.Filter{{Field: "status", Op: "eq", Value: payload.String("paid")}}, 3},
		{"gt", []storage.Filter{{Field: "total", Op: "gt", Value: payload.Int(300)}}, 2},
		{"lte", []storage.Filter{{Field: "total", Op: "lte", Value: payload.Int(200)}}, 2},
		{"like", []storage.Filter{{Field: "status", Op: "like", Value: payload.String("p%")}}, 5},
		{"in", []storage.Filter{{Field: "total", Op: "in", Value: payload.Array(payload.Int(100), payload.Int(500))}}, 2},
		{"combined", []storage.Filter{
			{Field: "status", Op: "eq", Value: payload.String("paid")},
			{Field: "total", Op: "gte", Value: payload.Int(300)},
		}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := store.Query(ctx, "order", tc.filters, 1, 50, "")
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(records) != tc.want {
				t.Fatalf("got %d records, want %d", len(records), tc.want)
			}
		})
	}
}

func TestQueryRejectsUnsafeFields(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.Query(context.Background(), "order", []storage.Filter{
		{Field: "total'); DROP TABLE entity_records; --", Op: "eq", Value: payload.Int(1)},
	}, 1, 20, "")
	if err == nil {
		t.Fatal("expected error for unsafe filter field")
	}

	_, err = store.List(context.Background(), "order", 1, 20, "total; DROP TABLE entity_records")
	if err == nil {
		t.Fatal("expected error for unsafe order_by")
	}
}

func TestListOrderAndPaging(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		mustSubmit(t, store, "order", payload.Map{"total": payload.Int(int64(i * 100))})
	}

	records, err := store.List(ctx, "order", 1, 2, "total desc")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if total, _ := records[0].Data["total"].Int64(); total != 500 {
		t.Fatalf("first total = %d, want 500", total)
	}

	records, err = store.List(ctx, "order", 3, 2, "")
	if err != nil {
		t.Fatalf("list page 3: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("page 3 size = %d, want 1", len(records))
	}
	if records[0].Seq != 5 {
		t.Fatalf("page 3 seq = %d, want 5", records[0].Seq)
	}
}

func TestHistoryRecordsChanges(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seq := mustSubmit(t, store, "order", payload.Map{"status": payload.String("pending")})
	if _, err := store.Submit(ctx, "order", payload.Map{
		"seq":    payload.Int(seq),
		"status": payload.String("paid"),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Delete(ctx, "order", seq, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	entries, err := store.History(ctx, "order", seq, 1, 20)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Newest first: delete, update, insert.
	if entries[0].Operation != "delete" || entries[1].Operation != "submit" || entries[2].Operation != "submit" {
		t.Fatalf("operations = %s,%s,%s", entries[0].Operation, entries[1].Operation, entries[2].Operation)
	}
	if entries[2].Prior != nil {
		t.Fatal("insert entry must record a nil prior snapshot")
	}
	if status, _ := entries[1].Prior["status"].StringValue(); status != "pending" {
		t.Fatalf("update prior status = %q, want pending", status)
	}
	if status, _ := entries[0].Prior["status"].StringValue(); status != "paid" {
		t.Fatalf("delete prior status = %q, want paid", status)
	}
}

func TestRollbackHistoryRestoresSnapshot(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seq := mustSubmit(t, store, "order", payload.Map{"status": payload.String("pending")})
	if _, err := store.Submit(ctx, "order", payload.Map{
		"seq":    payload.Int(seq),
		"status": payload.String("paid"),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	entries, err := store.History(ctx, "order", seq, 1, 20)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := store.RollbackHistory(ctx, "order", entries[0].HistorySeq); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	record, err := store.Get(ctx, "order", seq)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status, _ := record.Data["status"].StringValue(); status != "pending" {
		t.Fatalf("status = %q, want pending", status)
	}

	entries, err = store.History(ctx, "order", seq, 1, 20)
	if err != nil {
		t.Fatalf("history after rollback: %v", err)
	}
	if entries[0].Operation != "rollback" {
		t.Fatalf("latest operation = %s, want rollback", entries[0].Operation)
	}
}

func TestRollbackHistoryUndoesInsert(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seq := mustSubmit(t, store, "order", payload.Map{"status": payload.String("pending")})

	entries, err := store.History(ctx, "order", seq, 1, 20)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := store.RollbackHistory(ctx, "order", entries[0].HistorySeq); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := store.Get(ctx, "order", seq); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after rollback: %v, want ErrNotFound", err)
	}
}

func TestRollbackHistoryRevivesDeletedRecord(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seq := mustSubmit(t, store, "order", payload.Map{"status": payload.String("pending")})
	if err := store.Delete(ctx, "order", seq, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	entries, err := store.History(ctx, "order", seq, 1, 20)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := store.RollbackHistory(ctx, "order", entries[0].HistorySeq); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	record, err := store.Get(ctx, "order", seq)
	if err != nil {
		t.Fatalf("get after rollback: %v", err)
	}
	if status, _ := record.Data["status"].StringValue(); status != "pending" {
		t.Fatalf("status = %q, want pending", status)
	}
}

func TestRollbackHistoryMissingEntry(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.RollbackHistory(context.Background(), "order", 12345)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	boom := fmt.Errorf("statement 2 failed")

	err := store.InTransaction(ctx, func(ctx context.Context, tx storage.Mutator) error {
		if _, err := tx.Submit(ctx, "order", payload.Map{"total": payload.Int(100)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}

	count, err := store.Count(ctx, "order")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 after rollback", count)
	}
}

func TestInTransactionCommitsAllMutations(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	err := store.InTransaction(ctx, func(ctx context.Context, tx storage.Mutator) error {
		orderSeq, err := tx.Submit(ctx, "order", payload.Map{"status": payload.String("pending")})
		if err != nil {
			return err
		}
		if _, err := tx.Submit(ctx, "order_item", payload.Map{
			"order_seq": payload.Int(orderSeq),
			"product":   payload.String("widget"),
		}); err != nil {
			return err
		}
		return tx.Delete(ctx, "order", orderSeq, false)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	items, err := store.List(ctx, "order_item", 1, 20, "")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if _, err := store.Get(ctx, "order", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("order should be deleted, got %v", err)
	}
}
