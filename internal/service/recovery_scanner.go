package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRecoveryInterval  = 30 * time.Second
	defaultPendingAfter      = 2 * time.Minute
	defaultProcessingTimeout = 5 * time.Minute
	defaultRecoveryLimit     = 100
)

// RecoveryOptions controls how old a row must be before the scanner acts.
type RecoveryOptions struct {
	Interval          time.Duration
	PendingAfter      time.Duration
	ProcessingTimeout time.Duration
	Limit             int
}

// RecoveryScanner periodically repairs work that fell through the queue:
// pending items that were never delivered to a worker, items stuck in
// processing after a worker died, and batches whose last completion check
// failed.
type RecoveryScanner struct {
	items      repository.ItemRepository
	batches    repository.BatchRepository
	publisher  queue.Publisher
	processor  *ItemProcessor
	aggregator *BatchAggregator
	logger     *zap.Logger
	metrics    *observability.Metrics
	opts       RecoveryOptions
	now        func() time.Time
}

func NewRecoveryScanner(
	items repository.ItemRepository,
	batches repository.BatchRepository,
	publisher queue.Publisher,
	processor *ItemProcessor,
	aggregator *BatchAggregator,
	opts RecoveryOptions,
	logger *zap.Logger,
) (*RecoveryScanner, error) {
	if items == nil || batches == nil {
		return nil, fmt.Errorf("item and batch repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("item processor is required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("batch aggregator is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultRecoveryInterval
	}
	if opts.PendingAfter <= 0 {
		opts.PendingAfter = defaultPendingAfter
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = defaultProcessingTimeout
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultRecoveryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecoveryScanner{
		items:      items,
		batches:    batches,
		publisher:  publisher,
		processor:  processor,
		aggregator: aggregator,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}, nil
}

func (s *RecoveryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RecoveryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Initial pass so work left by a previous process is not delayed by one interval.
	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("recovery scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("recovery scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RecoveryScanner) scan(ctx context.Context) error {
	return errors.Join(
		s.requeuePending(ctx),
		s.expireProcessing(ctx),
		s.finalizeStalled(ctx),
	)
}

func (s *RecoveryScanner) requeuePending(ctx context.Context) error {
	now := s.now().UTC()
	stale, err := s.items.ListStale(ctx, domain.ItemStatusPending, now.Add(-s.opts.PendingAfter), s.opts.Limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale pending items: %w", err)
	}

	for i := range stale {
		item := stale[i]
		msg := queue.ItemMessage{ItemID: item.ID, BatchID: item.BatchID}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			s.logger.Error("failed to re-enqueue pending item",
				zap.Int64("itemId", item.ID),
				zap.String("batchId", item.BatchID),
				zap.Error(err),
			)
			continue
		}

		if _, err := s.items.TouchPending(ctx, item.ID, now); err != nil {
			s.logger.Error("failed to touch re-enqueued item",
				zap.Int64("itemId", item.ID),
				zap.Error(err),
			)
			continue
		}
		s.metrics.IncItemRequeued()
	}

	if len(stale) > 0 {
		s.logger.Info("re-enqueued stale pending items", zap.Int("count", len(stale)))
	}
	return nil
}

func (s *RecoveryScanner) expireProcessing(ctx context.Context) error {
	stuck, err := s.items.ListStale(
		ctx,
		domain.ItemStatusProcessing,
		s.now().UTC().Add(-s.opts.ProcessingTimeout),
		s.opts.Limit,
	)
	if err != nil {
		return fmt.Errorf("failed to fetch stuck processing items: %w", err)
	}

	for i := range stuck {
		item := stuck[i]
		if err := s.processor.Expire(ctx, item); err != nil {
			s.logger.Error("failed to expire stuck item",
				zap.Int64("itemId", item.ID),
				zap.String("batchId", item.BatchID),
				zap.Error(err),
			)
			continue
		}
		s.metrics.IncItemExpired()
	}

	return nil
}

func (s *RecoveryScanner) finalizeStalled(ctx context.Context) error {
	stalled, err := s.batches.ListStalled(ctx, s.now().UTC().Add(-s.opts.PendingAfter), s.opts.Limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stalled batches: %w", err)
	}

	for i := range stalled {
		if _, err := s.aggregator.Check(ctx, stalled[i].ID); err != nil {
			s.logger.Error("failed to check stalled batch",
				zap.String("batchId", stalled[i].ID),
				zap.Error(err),
			)
		}
	}

	return nil
}
