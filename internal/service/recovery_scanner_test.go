package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"go.uber.org/zap"
)

func newRecoveryScanner(t *testing.T, h *harness, publisher queue.Publisher) *RecoveryScanner {
	t.Helper()

	scanner, err := NewRecoveryScanner(
		h.items,
		h.batches,
		publisher,
		h.newProcessor(t, &fakeProvider{}),
		h.aggregator,
		RecoveryOptions{
			Interval:          time.Hour,
			PendingAfter:      time.Minute,
			ProcessingTimeout: 5 * time.Minute,
		},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewRecoveryScanner() error = %v", err)
	}
	return scanner
}

func TestRecoveryScannerRequeuesStalePending(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch, items := h.seedBatch(t, 3)
	if _, err := h.items.MarkProcessing(context.Background(), items[2].ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}

	publisher := &fakePublisher{}
	scanner := newRecoveryScanner(t, h, publisher)
	scanner.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if err := scanner.requeuePending(context.Background()); err != nil {
		t.Fatalf("requeuePending() error = %v", err)
	}

	msgs := publisher.messages()
	if len(msgs) != 2 {
		t.Fatalf("re-enqueued = %d, want 2", len(msgs))
	}
	for i, msg := range msgs {
		if msg.ItemID != items[i].ID || msg.BatchID != batch.ID {
			t.Fatalf("message[%d] = %+v, want item %d", i, msg, items[i].ID)
		}
	}

	// Touched items are not picked up again by the next pass.
	if err := scanner.requeuePending(context.Background()); err != nil {
		t.Fatalf("second requeuePending() error = %v", err)
	}
	if got := len(publisher.messages()); got != 2 {
		t.Fatalf("re-enqueued after second pass = %d, want 2", got)
	}
}

func TestRecoveryScannerKeepsItemsWhenPublishFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, items := h.seedBatch(t, 1)

	failing := true
	publisher := &fakePublisher{
		publishFn: func(context.Context, queue.ItemMessage) error {
			if failing {
				return errors.New("broker unavailable")
			}
			return nil
		},
	}
	scanner := newRecoveryScanner(t, h, publisher)
	scanner.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if err := scanner.requeuePending(context.Background()); err != nil {
		t.Fatalf("requeuePending() error = %v", err)
	}
	if got := len(publisher.messages()); got != 0 {
		t.Fatalf("re-enqueued = %d, want 0", got)
	}

	failing = false
	if err := scanner.requeuePending(context.Background()); err != nil {
		t.Fatalf("requeuePending() error = %v", err)
	}
	msgs := publisher.messages()
	if len(msgs) != 1 || msgs[0].ItemID != items[0].ID {
		t.Fatalf("re-enqueued = %+v, want item %d", msgs, items[0].ID)
	}
}

func TestRecoveryScannerExpiresStuckProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch, items := h.seedBatch(t, 2)
	h.resolve(t, items[0], domain.ItemStatusSuccess)
	if err := h.batches.IncrementProcessed(context.Background(), batch.ID); err != nil {
		t.Fatalf("IncrementProcessed() error = %v", err)
	}
	if _, err := h.items.MarkProcessing(context.Background(), items[1].ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}

	scanner := newRecoveryScanner(t, h, &fakePublisher{})
	scanner.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	if err := scanner.expireProcessing(context.Background()); err != nil {
		t.Fatalf("expireProcessing() error = %v", err)
	}

	item := h.item(t, items[1].ID)
	if item.Status != domain.ItemStatusFailed || item.ResultMessage != TimedOutMessage {
		t.Fatalf("item = %s/%q, want failed/%q", item.Status, item.ResultMessage, TimedOutMessage)
	}

	stored := h.batch(t, batch.ID)
	if stored.ProcessedRows != 1 || stored.Errors != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", stored.ProcessedRows, stored.Errors)
	}
	if stored.Status != domain.BatchStatusFailed {
		t.Fatalf("batch status = %s, want failed", stored.Status)
	}
}

func TestRecoveryScannerLeavesFreshProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, items := h.seedBatch(t, 1)
	if _, err := h.items.MarkProcessing(context.Background(), items[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}

	scanner := newRecoveryScanner(t, h, &fakePublisher{})
	if err := scanner.scan(context.Background()); err != nil {
		t.Fatalf("scan() error = %v", err)
	}

	if got := h.item(t, items[0].ID).Status; got != domain.ItemStatusProcessing {
		t.Fatalf("item status = %s, want processing", got)
	}
}

func TestRecoveryScannerFinalizesStalledBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch, items := h.seedBatch(t, 2)
	for _, item := range items {
		h.resolve(t, item, domain.ItemStatusSuccess)
	}

	scanner := newRecoveryScanner(t, h, &fakePublisher{})
	scanner.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if err := scanner.finalizeStalled(context.Background()); err != nil {
		t.Fatalf("finalizeStalled() error = %v", err)
	}

	if got := h.batch(t, batch.ID).Status; got != domain.BatchStatusCompleted {
		t.Fatalf("batch status = %s, want completed", got)
	}
	if got := h.progress.count("batch_update"); got != 1 {
		t.Fatalf("batch_update events = %d, want 1", got)
	}
}

func TestRecoveryScannerStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scanner := newRecoveryScanner(t, h, &fakePublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scanner.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestNewRecoveryScannerDefaults(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scanner, err := NewRecoveryScanner(h.items, h.batches, &fakePublisher{}, h.newProcessor(t, &fakeProvider{}), h.aggregator, RecoveryOptions{}, nil)
	if err != nil {
		t.Fatalf("NewRecoveryScanner() error = %v", err)
	}
	if scanner.opts.Interval != defaultRecoveryInterval || scanner.opts.Limit != defaultRecoveryLimit {
		t.Fatalf("opts = %+v, want defaults", scanner.opts)
	}

	if _, err := NewRecoveryScanner(h.items, h.batches, nil, nil, h.aggregator, RecoveryOptions{}, nil); err == nil {
		t.Fatal("expected error without publisher")
	}
}
