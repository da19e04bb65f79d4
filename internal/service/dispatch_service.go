package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/ingest"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"go.uber.org/zap"
)

// RowParser turns an uploaded file into rows.
type RowParser interface {
	Parse(filename string, r io.Reader) ([]ingest.Row, error)
}

// Upload is one spreadsheet submitted for processing.
type Upload struct {
	Filename string
	Content  io.Reader
	OwnerID  *string
}

// DispatchService accepts uploads, materializes their items and fans them out
// to the work queue.
type DispatchService struct {
	batches    repository.BatchRepository
	items      repository.ItemRepository
	tx         repository.Transactor
	parser     RowParser
	publisher  queue.Publisher
	aggregator *BatchAggregator
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func NewDispatchService(
	batches repository.BatchRepository,
	items repository.ItemRepository,
	tx repository.Transactor,
	parser RowParser,
	publisher queue.Publisher,
	aggregator *BatchAggregator,
	logger *zap.Logger,
) (*DispatchService, error) {
	if batches == nil || items == nil {
		return nil, fmt.Errorf("batch and item repositories are required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if parser == nil {
		return nil, fmt.Errorf("row parser is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("batch aggregator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		batches:    batches,
		items:      items,
		tx:         tx,
		parser:     parser,
		publisher:  publisher,
		aggregator: aggregator,
		logger:     logger,
	}, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SubmitBatch persists the batch first, then its items, then enqueues one
// message per item. Once the batch row exists every failure leaves it failed
// with a detail and is reported as *domain.BatchError.
func (s *DispatchService) SubmitBatch(ctx context.Context, upload Upload) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if upload.Content == nil {
		return nil, fmt.Errorf("%w: file is required", domain.ErrValidation)
	}

	filename := filepath.Base(strings.TrimSpace(upload.Filename))
	if filename == "." || filename == string(filepath.Separator) {
		filename = "upload"
	}

	batchID := uuid.NewString()
	batch := &domain.Batch{
		ID:               batchID,
		OriginalFilename: filename,
		FileRef:          fmt.Sprintf("batches/%s/%s", batchID, filename),
		Status:           domain.BatchStatusProcessing,
		OwnerID:          upload.OwnerID,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		s.metrics.IncBatchSubmitted("error")
		return nil, fmt.Errorf("%w: failed to create batch: %v", domain.ErrPersistence, err)
	}

	ctx = observability.WithBatchID(ctx, batch.ID)
	logger := observability.WithContextLogger(s.logger, ctx)

	rows, err := s.parser.Parse(filename, upload.Content)
	if err != nil {
		return nil, s.failBatch(ctx, batch, err)
	}

	items := make([]*domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, &domain.Item{
			BatchID:   batch.ID,
			RowNumber: row.RowNumber,
			Phone:     row.Phone,
			Amount:    row.Amount,
			Status:    domain.ItemStatusPending,
		})
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.items.CreateItems(ctx, items); err != nil {
			return err
		}
		return s.batches.SetTotalRows(ctx, batch.ID, len(items))
	})
	if err != nil {
		return nil, s.failBatch(ctx, batch, fmt.Errorf("%w: failed to store items: %v", domain.ErrPersistence, err))
	}

	logger.Info("batch accepted",
		zap.String("filename", filename),
		zap.Int("items", len(items)),
	)

	if len(items) == 0 {
		if _, err := s.aggregator.Check(ctx, batch.ID); err != nil {
			logger.Error("failed to finalize empty batch", zap.Error(err))
		}
	} else {
		s.enqueue(ctx, items)
	}

	current, err := s.batches.GetByID(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload batch: %w", err)
	}
	s.metrics.IncBatchSubmitted(current.Status.String())

	return current, nil
}

// enqueue publishes one message per item. Items that could not be published
// stay pending for the recovery scanner.
func (s *DispatchService) enqueue(ctx context.Context, items []*domain.Item) {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)

	msgs := make([]queue.ItemMessage, 0, len(items))
	for _, item := range items {
		msgs = append(msgs, queue.ItemMessage{
			ItemID:        item.ID,
			BatchID:       item.BatchID,
			CorrelationID: correlationID,
		})
	}

	published, err := s.publisher.PublishAll(ctx, msgs)
	if err != nil {
		observability.WithContextLogger(s.logger, ctx).Error("failed to enqueue batch items",
			zap.Int("published", published),
			zap.Int("pending", len(msgs)-published),
			zap.Error(err),
		)
	}
}

func (s *DispatchService) failBatch(ctx context.Context, batch *domain.Batch, cause error) error {
	logger := observability.WithContextLogger(s.logger, ctx)
	detail := cause.Error()

	if err := s.batches.MarkFailed(context.WithoutCancel(ctx), batch.ID, detail); err != nil {
		logger.Error("failed to mark batch as failed", zap.Error(err))
	}

	batch.Status = domain.BatchStatusFailed
	batch.Detail = detail
	s.metrics.IncBatchSubmitted(batch.Status.String())

	if errors.Is(cause, domain.ErrPersistence) {
		logger.Error("batch submission failed", zap.Error(cause))
	} else {
		logger.Warn("batch rejected", zap.Error(cause))
	}

	return &domain.BatchError{Batch: batch, Err: cause}
}

// GetBatch returns the batch summary. Unknown or malformed ids are not found.
func (s *DispatchService) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.batches.GetByID(ctx, strings.TrimSpace(id))
}

// ListItems returns one page of the batch's items for its owner or staff.
func (s *DispatchService) ListItems(
	ctx context.Context,
	identity domain.Identity,
	params repository.ListParams,
) ([]domain.Item, int64, error) {
	batch, err := s.GetBatch(ctx, params.BatchID)
	if err != nil {
		return nil, 0, err
	}
	if !batch.CanBeViewedBy(identity) {
		return nil, 0, domain.ErrPermissionDenied
	}

	params.BatchID = batch.ID
	return s.items.List(ctx, params)
}
