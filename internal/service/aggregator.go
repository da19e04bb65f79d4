package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"go.uber.org/zap"
)

// ProgressPublisher fans item and batch progress out to subscribers.
type ProgressPublisher interface {
	PublishItemUpdate(ctx context.Context, item domain.Item)
	PublishBatchUpdate(ctx context.Context, batch domain.Batch)
}

// BatchAggregator finalizes a batch once every item has been resolved.
type BatchAggregator struct {
	batches   repository.BatchRepository
	items     repository.ItemRepository
	publisher ProgressPublisher
	logger    *zap.Logger
}

func NewBatchAggregator(
	batches repository.BatchRepository,
	items repository.ItemRepository,
	publisher ProgressPublisher,
	logger *zap.Logger,
) (*BatchAggregator, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchAggregator{
		batches:   batches,
		items:     items,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Check recounts the batch's items and, when all of them are resolved, moves
// the batch to completed (no failures) or failed. It returns the batch status
// after the check. Only the call that performs the transition publishes
// batch_update.
func (a *BatchAggregator) Check(ctx context.Context, batchID string) (domain.BatchStatus, error) {
	batch, err := a.batches.GetByID(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("failed to load batch: %w", err)
	}
	if batch.Status.IsTerminal() {
		return batch.Status, nil
	}

	counts, err := a.items.CountByStatus(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("failed to count batch items: %w", err)
	}

	if counts.Resolved() < counts.Total {
		return batch.Status, nil
	}

	status := domain.CompletionStatus(counts.Failed)
	applied, err := a.batches.FinalizeStatus(ctx, batchID, status)
	if err != nil {
		return "", fmt.Errorf("failed to finalize batch: %w", err)
	}
	if !applied {
		current, err := a.batches.GetByID(ctx, batchID)
		if err != nil {
			return "", fmt.Errorf("failed to reload batch: %w", err)
		}
		return current.Status, nil
	}

	batch.Status = status
	observability.WithContextLogger(a.logger, ctx).Info("batch finished",
		zap.String("batchId", batchID),
		zap.String("status", status.String()),
		zap.Int("totalRows", counts.Total),
		zap.Int("success", counts.Success),
		zap.Int("failed", counts.Failed),
	)
	if a.publisher != nil {
		a.publisher.PublishBatchUpdate(ctx, *batch)
	}

	return status, nil
}
