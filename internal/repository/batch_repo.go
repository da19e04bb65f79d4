package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	MarkFailed(ctx context.Context, id string, detail string) error
	SetTotalRows(ctx context.Context, id string, total int) error
	IncrementProcessed(ctx context.Context, id string) error
	IncrementErrors(ctx context.Context, id string) error
	FinalizeStatus(ctx context.Context, id string, status domain.BatchStatus) (bool, error)
	ListStalled(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Batch, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) MarkFailed(ctx context.Context, id string, detail string) error {
	return r.update(ctx, id, map[string]any{
		"status":     domain.BatchStatusFailed,
		"detail":     detail,
		"updated_at": time.Now().UTC(),
	})
}

func (r *GormBatchRepo) SetTotalRows(ctx context.Context, id string, total int) error {
	return r.update(ctx, id, map[string]any{
		"total_rows": total,
		"updated_at": time.Now().UTC(),
	})
}

// IncrementProcessed adds one successful item to the batch counter in a single
// UPDATE so concurrent workers never lose an increment.
func (r *GormBatchRepo) IncrementProcessed(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{
		"processed_rows": gorm.Expr("processed_rows + 1"),
	})
}

func (r *GormBatchRepo) IncrementErrors(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{
		"errors": gorm.Expr("errors + 1"),
	})
}

// FinalizeStatus moves a processing batch to a terminal status. It reports
// false when the batch was already finalized by someone else.
func (r *GormBatchRepo) FinalizeStatus(ctx context.Context, id string, status domain.BatchStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, domain.ErrInvalidTransition
	}

	result := conn(ctx, r.db).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusProcessing).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListStalled returns processing batches with items that have not changed
// since updatedBefore. Batches still being materialized have no rows yet and
// are left out.
func (r *GormBatchRepo) ListStalled(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Batch, error) {
	var models []BatchModel
	err := conn(ctx, r.db).
		Where("status = ? AND total_rows > 0 AND updated_at <= ?", domain.BatchStatusProcessing, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}

	return batches, nil
}

func (r *GormBatchRepo) update(ctx context.Context, id string, values map[string]any) error {
	result := conn(ctx, r.db).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
