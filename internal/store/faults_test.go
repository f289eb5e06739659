package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/store"
)

func TestFaultStore_SkipThenFail(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFaultStore(store.NewMemoryStore())
	fs.CreateWallet(ctx, "u1", decimal.Zero)

	fs.Arm(store.Fault{Op: store.OpSetBalance, Skip: 1, Times: 1})

	if err := fs.SetBalance(ctx, "u1", d("1")); err != nil {
		t.Fatalf("first call should pass through, got %v", err)
	}
	if err := fs.SetBalance(ctx, "u1", d("2")); !errors.Is(err, store.ErrInjected) {
		t.Fatalf("second call should fail, got %v", err)
	}
	if err := fs.SetBalance(ctx, "u1", d("3")); err != nil {
		t.Fatalf("fault should be exhausted, got %v", err)
	}
	if len(fs.Armed()) != 0 {
		t.Errorf("exhausted fault still armed: %+v", fs.Armed())
	}

	w, _ := fs.GetWallet(ctx, "u1")
	if !w.Balance.Equal(d("3")) {
		t.Errorf("balance = %s, want 3", w.Balance)
	}
}

func TestFaultStore_UntilCleared(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFaultStore(store.NewMemoryStore())
	fs.Arm(store.Fault{Op: store.OpGetFund})

	for i := 0; i < 3; i++ {
		if _, err := fs.GetFund(ctx, "f1"); !errors.Is(err, store.ErrInjected) {
			t.Fatalf("call %d: expected injected fault, got %v", i, err)
		}
	}

	fs.Clear()
	if _, err := fs.GetFund(ctx, "f1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("after clear expected ErrNotFound from inner store, got %v", err)
	}
}

func TestParseOp(t *testing.T) {
	if op, err := store.ParseOp("create_position"); err != nil || op != store.OpCreatePosition {
		t.Errorf("ParseOp(create_position) = %q, %v", op, err)
	}
	if _, err := store.ParseOp("drop_database"); err == nil {
		t.Error("expected error for unknown op")
	}
}
