package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/batch-engine/internal/delivery"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/ingest"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"github.com/kursadbilgin/batch-engine/internal/testsupport"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// harness wires the real GORM repositories against an in-memory database.
type harness struct {
	batches    *repository.GormBatchRepo
	items      *repository.GormItemRepo
	attempts   *repository.GormAttemptRepo
	tx         *repository.GormTransactor
	progress   *fakeProgress
	aggregator *BatchAggregator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testsupport.NewDB(t)
	h := &harness{
		batches:  repository.NewGormBatchRepo(db),
		items:    repository.NewGormItemRepo(db),
		attempts: repository.NewGormAttemptRepo(db),
		tx:       repository.NewGormTransactor(db),
		progress: &fakeProgress{},
	}

	aggregator, err := NewBatchAggregator(h.batches, h.items, h.progress, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBatchAggregator() error = %v", err)
	}
	h.aggregator = aggregator
	return h
}

func (h *harness) seedBatch(t *testing.T, rows int) (*domain.Batch, []*domain.Item) {
	t.Helper()
	ctx := context.Background()

	batch := &domain.Batch{
		ID:               uuid.NewString(),
		OriginalFilename: "upload.xlsx",
		Status:           domain.BatchStatusProcessing,
		TotalRows:        rows,
	}
	if err := h.batches.Create(ctx, batch); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	items := make([]*domain.Item, 0, rows)
	for i := 1; i <= rows; i++ {
		items = append(items, &domain.Item{
			BatchID:   batch.ID,
			RowNumber: i,
			Phone:     fmt.Sprintf("0722%06d", i),
			Amount:    decimal.NewFromInt(int64(i * 10)),
			Status:    domain.ItemStatusPending,
		})
	}
	if err := h.items.CreateItems(ctx, items); err != nil {
		t.Fatalf("create items: %v", err)
	}
	return batch, items
}

func (h *harness) newProcessor(t *testing.T, provider delivery.Provider) *ItemProcessor {
	t.Helper()

	processor, err := NewItemProcessor(
		h.items,
		h.batches,
		h.attempts,
		h.tx,
		provider,
		&fakeRateLimiter{},
		h.aggregator,
		h.progress,
		ProcessorOptions{Lane: "mock", MaxRetries: 2},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewItemProcessor() error = %v", err)
	}
	processor.randIntn = func(int) int { return 0 }
	processor.sleep = func(context.Context, time.Duration) error { return nil }
	return processor
}

func (h *harness) batch(t *testing.T, id string) *domain.Batch {
	t.Helper()
	batch, err := h.batches.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load batch: %v", err)
	}
	return batch
}

func (h *harness) item(t *testing.T, id int64) *domain.Item {
	t.Helper()
	item, err := h.items.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load item: %v", err)
	}
	return item
}

type progressEvent struct {
	event string
	item  domain.Item
	batch domain.Batch
}

type fakeProgress struct {
	mu     sync.Mutex
	events []progressEvent
}

func (f *fakeProgress) PublishItemUpdate(_ context.Context, item domain.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, progressEvent{event: "item_update", item: item})
}

func (f *fakeProgress) PublishBatchUpdate(_ context.Context, batch domain.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, progressEvent{event: "batch_update", batch: batch})
}

func (f *fakeProgress) snapshot() []progressEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]progressEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeProgress) count(event string) int {
	n := 0
	for _, e := range f.snapshot() {
		if e.event == event {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	deliverFn func(ctx context.Context, item domain.Item) (*delivery.Result, error)
}

func (f *fakeProvider) Deliver(ctx context.Context, item domain.Item) (*delivery.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.deliverFn != nil {
		return f.deliverFn(ctx, item)
	}
	return &delivery.Result{Success: true, Message: delivery.MockSuccessMessage}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, lane string) (bool, error)
	waitFn  func(ctx context.Context, lane string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, lane string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, lane)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, lane string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, lane)
	}
	return nil
}

type fakePublisher struct {
	mu           sync.Mutex
	published    []queue.ItemMessage
	publishFn    func(ctx context.Context, msg queue.ItemMessage) error
	publishAllFn func(ctx context.Context, msgs []queue.ItemMessage) (int, error)
	closeFn      func() error
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.ItemMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) PublishAll(ctx context.Context, msgs []queue.ItemMessage) (int, error) {
	if f.publishAllFn != nil {
		return f.publishAllFn(ctx, msgs)
	}
	for i, msg := range msgs {
		if err := f.Publish(ctx, msg); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func (f *fakePublisher) messages() []queue.ItemMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.ItemMessage, len(f.published))
	copy(out, f.published)
	return out
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

// fakeItemRepo delegates to a real repository unless a hook overrides the call.
type fakeItemRepo struct {
	repository.ItemRepository
	getByIDFn        func(ctx context.Context, id int64) (*domain.Item, error)
	markProcessingFn func(ctx context.Context, id int64, now time.Time) (*domain.Item, error)
}

func (f *fakeItemRepo) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return f.ItemRepository.GetByID(ctx, id)
}

func (f *fakeItemRepo) MarkProcessing(ctx context.Context, id int64, now time.Time) (*domain.Item, error) {
	if f.markProcessingFn != nil {
		return f.markProcessingFn(ctx, id, now)
	}
	return f.ItemRepository.MarkProcessing(ctx, id, now)
}

type fakeAttemptRepo struct {
	createFn      func(ctx context.Context, a *domain.DeliveryAttempt) error
	getByItemIDFn func(ctx context.Context, itemID int64) ([]domain.DeliveryAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByItemID(ctx context.Context, itemID int64) ([]domain.DeliveryAttempt, error) {
	if f.getByItemIDFn != nil {
		return f.getByItemIDFn(ctx, itemID)
	}
	return nil, nil
}

type fakeParser struct {
	parseFn func(filename string, r io.Reader) ([]ingest.Row, error)
}

func (f *fakeParser) Parse(filename string, r io.Reader) ([]ingest.Row, error) {
	if f.parseFn != nil {
		return f.parseFn(filename, r)
	}
	return nil, nil
}
