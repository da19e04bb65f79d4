package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/delivery"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/ratelimit"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultDeliveryTimeout = 30 * time.Second
	baseRetryDelay         = 500 * time.Millisecond
	maxRetryDelay          = 5 * time.Second
	maxRetryJitterMillis   = 250

	// TimedOutMessage is stored on items whose delivery never finished.
	TimedOutMessage = "delivery timed out"
)

// ProcessorOptions tunes a single item's delivery.
type ProcessorOptions struct {
	// Lane names the rate limiter bucket, usually the provider name.
	Lane            string
	DeliveryTimeout time.Duration
	// MaxRetries is how many extra calls a transient delivery error may get.
	MaxRetries int
}

// ItemProcessor drives one item through pending -> processing -> terminal.
type ItemProcessor struct {
	items      repository.ItemRepository
	batches    repository.BatchRepository
	attempts   repository.AttemptRepository
	tx         repository.Transactor
	provider   delivery.Provider
	limiter    ratelimit.RateLimiter
	aggregator *BatchAggregator
	publisher  ProgressPublisher
	logger     *zap.Logger
	metrics    *observability.Metrics

	lane            string
	deliveryTimeout time.Duration
	maxRetries      int

	now      func() time.Time
	randIntn func(n int) int
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewItemProcessor(
	items repository.ItemRepository,
	batches repository.BatchRepository,
	attempts repository.AttemptRepository,
	tx repository.Transactor,
	provider delivery.Provider,
	limiter ratelimit.RateLimiter,
	aggregator *BatchAggregator,
	publisher ProgressPublisher,
	opts ProcessorOptions,
	logger *zap.Logger,
) (*ItemProcessor, error) {
	if items == nil || batches == nil {
		return nil, fmt.Errorf("item and batch repositories are required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("delivery provider is required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("batch aggregator is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if strings.TrimSpace(opts.Lane) == "" {
		opts.Lane = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ItemProcessor{
		items:           items,
		batches:         batches,
		attempts:        attempts,
		tx:              tx,
		provider:        provider,
		limiter:         limiter,
		aggregator:      aggregator,
		publisher:       publisher,
		logger:          logger,
		lane:            strings.ToLower(strings.TrimSpace(opts.Lane)),
		deliveryTimeout: opts.DeliveryTimeout,
		maxRetries:      opts.MaxRetries,
		now:             time.Now,
		randIntn:        rand.Intn,
		sleep:           sleepContext,
	}, nil
}

func (p *ItemProcessor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Process runs the delivery for one item. Duplicate or late messages are
// no-ops; only storage errors are returned so the message can be redelivered.
func (p *ItemProcessor) Process(ctx context.Context, itemID int64) error {
	logger := observability.WithContextLogger(p.logger, ctx)

	item, err := p.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("item not found, skipping", zap.Int64("itemId", itemID))
			return nil
		}
		return fmt.Errorf("failed to load item: %w", err)
	}
	if item.Status.IsTerminal() {
		logger.Info("item already resolved, skipping",
			zap.Int64("itemId", itemID),
			zap.String("status", item.Status.String()),
		)
		return nil
	}

	claimed, err := p.items.MarkProcessing(ctx, itemID, p.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			logger.Info("item claimed elsewhere, skipping", zap.Int64("itemId", itemID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to claim item: %w", err)
	}

	// The claim is final; everything after it must reach a terminal state even
	// if the consumer is shutting down.
	workCtx := observability.WithBatchID(context.WithoutCancel(ctx), claimed.BatchID)

	p.metrics.IncWorkerInFlight()
	defer p.metrics.DecWorkerInFlight()

	p.publishItem(workCtx, *claimed)

	status, message := p.deliver(workCtx, *claimed)
	return p.finish(workCtx, *claimed, status, message)
}

// Expire fails an item that has been processing for too long.
func (p *ItemProcessor) Expire(ctx context.Context, item domain.Item) error {
	return p.finish(observability.WithBatchID(ctx, item.BatchID), item, domain.ItemStatusFailed, TimedOutMessage)
}

func (p *ItemProcessor) deliver(ctx context.Context, item domain.Item) (domain.ItemStatus, string) {
	logger := observability.WithContextLogger(p.logger, ctx)

	deliveryCtx, cancel := context.WithTimeout(ctx, p.deliveryTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		if err := p.limiter.Wait(deliveryCtx, p.lane); err != nil {
			if deliveryCtx.Err() != nil {
				return domain.ItemStatusFailed, TimedOutMessage
			}
			logger.Warn("rate limiter unavailable, delivering without limit",
				zap.Int64("itemId", item.ID),
				zap.String("lane", p.lane),
				zap.Error(err),
			)
		}

		start := p.now()
		result, deliverErr := p.provider.Deliver(deliveryCtx, item)
		elapsed := p.now().Sub(start)

		p.recordAttempt(ctx, item.ID, attempt, result, deliverErr, elapsed)

		if deliverErr == nil {
			if result == nil {
				p.metrics.ObserveDeliveryDuration("error", elapsed)
				return domain.ItemStatusFailed, "delivery returned no result"
			}
			if result.Success {
				p.metrics.ObserveDeliveryDuration("success", elapsed)
				return domain.ItemStatusSuccess, result.Message
			}
			p.metrics.ObserveDeliveryDuration("failure", elapsed)
			return domain.ItemStatusFailed, result.Message
		}

		p.metrics.ObserveDeliveryDuration("error", elapsed)

		if errors.Is(deliverErr, context.DeadlineExceeded) || deliveryCtx.Err() != nil {
			return domain.ItemStatusFailed, TimedOutMessage
		}
		if !delivery.IsTransient(deliverErr) || attempt > p.maxRetries {
			return domain.ItemStatusFailed, deliverErr.Error()
		}

		delay := p.computeRetryDelay(attempt)
		logger.Warn("transient delivery error, retrying",
			zap.Int64("itemId", item.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(deliverErr),
		)
		p.metrics.IncDeliveryRetry()

		if err := p.sleep(deliveryCtx, delay); err != nil {
			return domain.ItemStatusFailed, TimedOutMessage
		}
	}
}

// finish applies the terminal status and the matching counter in one
// transaction. When the item had already left processing nothing changes.
func (p *ItemProcessor) finish(ctx context.Context, item domain.Item, status domain.ItemStatus, message string) error {
	logger := observability.WithContextLogger(p.logger, ctx)
	now := p.now().UTC()

	applied := false
	err := p.tx.WithTransaction(ctx, func(ctx context.Context) error {
		ok, err := p.items.Complete(ctx, item.ID, status, message, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true

		if status == domain.ItemStatusSuccess {
			return p.batches.IncrementProcessed(ctx, item.BatchID)
		}
		return p.batches.IncrementErrors(ctx, item.BatchID)
	})
	if err != nil {
		return fmt.Errorf("failed to complete item: %w", err)
	}
	if !applied {
		logger.Info("item already resolved, terminal update skipped", zap.Int64("itemId", item.ID))
		return nil
	}

	if err := item.Transition(status, message, now); err != nil {
		logger.Warn("unexpected in-memory transition", zap.Int64("itemId", item.ID), zap.Error(err))
	}
	p.metrics.IncItemProcessed(status.String())
	logger.Info("item processed",
		zap.Int64("itemId", item.ID),
		zap.String("status", status.String()),
		zap.String("message", message),
	)
	p.publishItem(ctx, item)

	if _, err := p.aggregator.Check(ctx, item.BatchID); err != nil {
		// A stalled batch is picked up again by the recovery scanner.
		logger.Error("batch completion check failed", zap.Error(err))
	}

	return nil
}

func (p *ItemProcessor) publishItem(ctx context.Context, item domain.Item) {
	if p.publisher != nil {
		p.publisher.PublishItemUpdate(ctx, item)
	}
}

func (p *ItemProcessor) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if p.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = p.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// recordAttempt writes the audit row. Losing it never changes the outcome.
func (p *ItemProcessor) recordAttempt(
	ctx context.Context,
	itemID int64,
	attemptNumber int,
	result *delivery.Result,
	deliverErr error,
	elapsed time.Duration,
) {
	if p.attempts == nil {
		return
	}

	attempt := &domain.DeliveryAttempt{
		ItemID:        itemID,
		AttemptNumber: attemptNumber,
		DurationMS:    elapsed.Milliseconds(),
		CreatedAt:     p.now().UTC(),
	}
	switch {
	case deliverErr != nil:
		attempt.Message = deliverErr.Error()
	case result != nil:
		attempt.Success = result.Success
		attempt.Message = result.Message
	}

	if err := p.attempts.Create(ctx, attempt); err != nil {
		observability.WithContextLogger(p.logger, ctx).Warn("failed to record delivery attempt",
			zap.Int64("itemId", itemID),
			zap.Int("attempt", attemptNumber),
			zap.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
