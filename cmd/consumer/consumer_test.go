package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeUpdater implements InventoryUpdater for tests
type fakeUpdater struct {
	fail  int // number of times to fail before succeeding
	calls int
	ids   []int
}

func (f *fakeUpdater) MarkOutOfStock(ctx context.Context, ids []int) (int64, error) {
	f.calls++
	if f.calls <= f.fail {
		return 0, errors.New("db fail")
	}
	f.ids = ids
	return int64(len(ids)), nil
}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{fail: 2}
	start := time.Now()
	n, err := applyWithRetry(context.Background(), f, []int{2, 3}, 3, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if n != 2 || f.calls != 3 {
		t.Fatalf("expected 2 rows after 3 calls, got rows=%d calls=%d", n, f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{fail: 5}
	if _, err := applyWithRetry(context.Background(), f, []int{1}, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestApplyWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeUpdater{fail: 5}
	if _, err := applyWithRetry(ctx, f, []int{1}, 3, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSoldIDs(t *testing.T) {
	ids, ok, err := soldIDs([]byte(`{"store":"sold_vehicles","items":[4,5]}`))
	if err != nil || !ok || len(ids) != 2 || ids[0] != 4 {
		t.Fatalf("unexpected sold decode: ids=%v ok=%v err=%v", ids, ok, err)
	}
	if _, ok, err := soldIDs([]byte(`{"store":"cart_items","items":[{"id":1}]}`)); ok || err != nil {
		t.Fatalf("cart events must be skipped, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := soldIDs([]byte(`{"store":"sold_vehicles","items":[]}`)); ok {
		t.Fatalf("empty sold set has nothing to apply")
	}
	if _, _, err := soldIDs([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
