package results

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/elie-eliseai/callzilla/internal/store"
	"github.com/elie-eliseai/callzilla/internal/testutil"
)

func makeAttempt(n int) store.CallAttempt {
	return store.CallAttempt{
		ID:             uuid.New(),
		SessionID:      uuid.New(),
		PropertyID:     "prop-1",
		Phone:          "+15550002222",
		CallSID:        fmt.Sprintf("CA-%d", n),
		AttemptNumber:  n,
		Classification: "call_tree",
		CreatedAt:      time.Now().UTC(),
	}
}

func newTestWriter(ms *testutil.MockStore, threshold, bufMax int) *Writer {
	return New(ms, Config{
		FlushInterval:  1 * time.Hour, // long interval so we control flush manually
		FlushThreshold: threshold,
		BufferMax:      bufMax,
	})
}

func TestAdd_BuffersRows(t *testing.T) {
	ms := testutil.NewMockStore()
	w := newTestWriter(ms, 1000, 10000) // high threshold so no auto-flush

	_ = w.Add(makeAttempt(1))
	_ = w.Add(makeAttempt(2))

	if w.BufferLen() != 2 {
		t.Errorf("expected buffer length 2, got %d", w.BufferLen())
	}
	if ms.GetInsertAttemptsCalls() != 0 {
		t.Errorf("expected 0 insert calls before flush, got %d", ms.GetInsertAttemptsCalls())
	}
}

func TestFlush_WritesAndClearsBuffer(t *testing.T) {
	ms := testutil.NewMockStore()
	w := newTestWriter(ms, 1000, 10000)

	_ = w.Add(makeAttempt(1))
	_ = w.Add(makeAttempt(2))
	w.flush()

	if w.BufferLen() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", w.BufferLen())
	}
	if ms.GetInsertAttemptsCalls() != 1 {
		t.Errorf("expected 1 insert call, got %d", ms.GetInsertAttemptsCalls())
	}
	if ms.AttemptCount() != 2 {
		t.Errorf("expected 2 rows stored, got %d", ms.AttemptCount())
	}
}

func TestThreshold_TriggersFlush(t *testing.T) {
	ms := testutil.NewMockStore()
	threshold := 5
	w := newTestWriter(ms, threshold, 10000)

	for i := 0; i < threshold; i++ {
		_ = w.Add(makeAttempt(i))
	}

	// The threshold-triggered flush runs in a goroutine. Wait briefly.
	time.Sleep(100 * time.Millisecond)

	if ms.GetInsertAttemptsCalls() < 1 {
		t.Errorf("expected at least 1 insert call after reaching threshold, got %d", ms.GetInsertAttemptsCalls())
	}
}

func TestBackpressure_DropsOldestRows(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.SetInsertAttemptsErr(fmt.Errorf("db down")) // prevent auto-flush from clearing buffer
	bufMax := 10
	w := newTestWriter(ms, 1000, bufMax)

	for i := 0; i < bufMax+5; i++ {
		_ = w.Add(makeAttempt(i))
	}

	if w.BufferLen() > bufMax {
		t.Errorf("expected buffer <= %d, got %d", bufMax, w.BufferLen())
	}
}

func TestWriteFailure_RequeuePreservesOrder(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.SetInsertAttemptsErr(fmt.Errorf("connection refused"))
	w := newTestWriter(ms, 1000, 10000)

	_ = w.Add(makeAttempt(1))
	_ = w.Add(makeAttempt(2))
	w.flush()
	_ = w.Add(makeAttempt(3))

	if w.BufferLen() != 3 {
		t.Fatalf("expected 3 rows re-queued, got %d", w.BufferLen())
	}

	ms.SetInsertAttemptsErr(nil)
	w.flush()

	got := ms.StoredAttempts()
	if len(got) != 3 {
		t.Fatalf("expected 3 rows stored, got %d", len(got))
	}
	for i, a := range got {
		if a.AttemptNumber != i+1 {
			t.Errorf("row %d out of order: attempt %d", i, a.AttemptNumber)
		}
	}
}

func TestConsecutiveFailures_AlertsAfterThree(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.SetInsertAttemptsErr(fmt.Errorf("connection refused"))
	w := newTestWriter(ms, 1000, 10000)

	var alerts []string
	var mu sync.Mutex
	w.SetAlertPublisher(func(subject string, _ []byte) error {
		mu.Lock()
		alerts = append(alerts, subject)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 3; i++ {
		_ = w.Add(makeAttempt(i))
		w.flush()
	}

	mu.Lock()
	defer mu.Unlock()

	found := false
	for _, a := range alerts {
		if a == "dial.system.results.write_failure" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected write_failure alert after 3 consecutive failures, got alerts: %v", alerts)
	}
}

func TestConsecutiveFailures_ResetsOnSuccess(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.SetInsertAttemptsErr(fmt.Errorf("connection refused"))
	w := newTestWriter(ms, 1000, 10000)

	_ = w.Add(makeAttempt(1))
	w.flush()
	_ = w.Add(makeAttempt(2))
	w.flush()

	ms.SetInsertAttemptsErr(nil)
	w.flush()

	w.mu.Lock()
	cf := w.consecutiveFail
	w.mu.Unlock()

	if cf != 0 {
		t.Errorf("expected consecutiveFail reset to 0, got %d", cf)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ms := testutil.NewMockStore()
	w := newTestWriter(ms, 1000, 10000)
	w.flushInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	_ = w.Add(makeAttempt(1))

	// Let the ticker fire at least once.
	time.Sleep(150 * time.Millisecond)

	cancel()
	w.Wait()

	// After shutdown, buffer should be empty (final flush).
	if w.BufferLen() != 0 {
		t.Errorf("expected empty buffer after shutdown, got %d", w.BufferLen())
	}
}

func TestConcurrentAdds(t *testing.T) {
	ms := testutil.NewMockStore()
	w := newTestWriter(ms, 1000, 100000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = w.Add(makeAttempt(n))
		}(i)
	}
	wg.Wait()

	if w.BufferLen() != 100 {
		t.Errorf("expected 100 rows, got %d", w.BufferLen())
	}
}
