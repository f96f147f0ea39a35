package poll

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestUntil_SucceedsWhenConditionHolds(t *testing.T) {
	calls := 0
	err := Until(context.Background(), time.Millisecond, 10, func(_ context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 checks, got %d", calls)
	}
}

func TestUntil_Exhausts(t *testing.T) {
	calls := 0
	err := Until(context.Background(), time.Millisecond, 5, func(_ context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected exactly 5 checks, got %d", calls)
	}
}

func TestUntil_CheckErrorAborts(t *testing.T) {
	boom := fmt.Errorf("provider exploded")
	calls := 0
	err := Until(context.Background(), time.Millisecond, 10, func(_ context.Context) (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected check error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected single check before abort, got %d", calls)
	}
}

func TestUntil_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Until(ctx, time.Second, 10, func(_ context.Context) (bool, error) {
		t.Fatal("check should not run after cancellation")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
