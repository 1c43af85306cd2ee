package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/store"
)

func TestMemory_EnqueueDequeue(t *testing.T) {
	q := NewMemory(8, zap.NewNop())
	defer q.Close()

	ctx := context.Background()
	if err := q.Enqueue(ctx, &Job{NotificationID: 1, Channel: store.ChannelEmail}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, &Job{NotificationID: 2, Channel: store.ChannelSMS}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// FIFO order
	if first.NotificationID != 1 || second.NotificationID != 2 {
		t.Errorf("expected jobs 1, 2 in order, got %d, %d", first.NotificationID, second.NotificationID)
	}

	if first.Receipt == "" {
		t.Error("expected a receipt on dequeued job")
	}
	if first.EnqueuedAt.IsZero() {
		t.Error("expected EnqueuedAt to be set")
	}
}

func TestMemory_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemory(8, zap.NewNop())
	defer q.Close()

	ctx := context.Background()
	got := make(chan *Job, 1)
	go func() {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Errorf("Dequeue: %v", err)
			return
		}
		got <- job
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Enqueue(ctx, &Job{NotificationID: 42, Channel: store.ChannelPush}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case job := <-got:
		if job.NotificationID != 42 {
			t.Errorf("expected notification 42, got %d", job.NotificationID)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Enqueue")
	}
}

func TestMemory_DequeueContextCancelled(t *testing.T) {
	q := NewMemory(8, zap.NewNop())
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemory_RequeueDelaysRedelivery(t *testing.T) {
	q := NewMemory(8, zap.NewNop())
	defer q.Close()

	ctx := context.Background()
	if err := q.Enqueue(ctx, &Job{NotificationID: 7, Channel: store.ChannelEmail}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.Requeue(ctx, job, 50*time.Millisecond); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	// Not visible before the delay elapses.
	if n := q.Len(); n != 0 {
		t.Errorf("expected empty queue during delay, got %d jobs", n)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	redelivered, err := q.Dequeue(waitCtx)
	if err != nil {
		t.Fatalf("Dequeue after requeue: %v", err)
	}
	if redelivered.NotificationID != 7 {
		t.Errorf("expected notification 7 redelivered, got %d", redelivered.NotificationID)
	}
}

func TestMemory_CloseUnblocksDequeue(t *testing.T) {
	q := NewMemory(8, zap.NewNop())

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}
}

func TestMemory_CloseDrainsBufferedJobs(t *testing.T) {
	q := NewMemory(8, zap.NewNop())

	ctx := context.Background()
	if err := q.Enqueue(ctx, &Job{NotificationID: 9, Channel: store.ChannelSMS}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	q.Close()

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("expected buffered job after Close, got %v", err)
	}
	if job.NotificationID != 9 {
		t.Errorf("expected notification 9, got %d", job.NotificationID)
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed once drained, got %v", err)
	}
}

func TestMemory_EnqueueAfterClose(t *testing.T) {
	q := NewMemory(8, zap.NewNop())
	q.Close()

	err := q.Enqueue(context.Background(), &Job{NotificationID: 1, Channel: store.ChannelEmail})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	r := receipt(123, "abc-def")
	rowID, token, err := parseReceipt(r)
	if err != nil {
		t.Fatalf("parseReceipt: %v", err)
	}
	if rowID != 123 || token != "abc-def" {
		t.Errorf("expected (123, abc-def), got (%d, %s)", rowID, token)
	}

	if _, _, err := parseReceipt("garbage"); err == nil {
		t.Error("expected error for malformed receipt")
	}
}
