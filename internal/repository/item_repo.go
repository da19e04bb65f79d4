package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const createItemsChunkSize = 500

// SortableItemFields is the ordering allow-list for item listings.
var SortableItemFields = []string{"id", "row_number", "phone", "amount", "status", "processed_at"}

type ListParams struct {
	BatchID         string
	Status          *domain.ItemStatus
	Phone           string
	Row             *int
	MinRow          *int
	MaxRow          *int
	MinAmount       *decimal.Decimal
	MaxAmount       *decimal.Decimal
	ProcessedBefore *time.Time
	ProcessedAfter  *time.Time
	// Ordering holds allow-listed fields, a leading "-" sorts descending.
	Ordering []string
	Page     int
	PageSize int
}

// StatusCounts is a recount of a batch's items straight from the table.
type StatusCounts struct {
	Total   int
	Pending int
	Running int
	Success int
	Failed  int
}

func (c StatusCounts) Resolved() int {
	return c.Success + c.Failed
}

type statusCountRow struct {
	Status domain.ItemStatus `gorm:"column:status"`
	Count  int               `gorm:"column:count"`
}

type ItemRepository interface {
	CreateItems(ctx context.Context, items []*domain.Item) error
	GetByID(ctx context.Context, id int64) (*domain.Item, error)
	MarkProcessing(ctx context.Context, id int64, now time.Time) (*domain.Item, error)
	Complete(ctx context.Context, id int64, status domain.ItemStatus, message string, now time.Time) (bool, error)
	CountByStatus(ctx context.Context, batchID string) (StatusCounts, error)
	List(ctx context.Context, params ListParams) ([]domain.Item, int64, error)
	ListStale(ctx context.Context, status domain.ItemStatus, updatedBefore time.Time, limit int) ([]domain.Item, error)
	TouchPending(ctx context.Context, id int64, now time.Time) (bool, error)
}

type GormItemRepo struct {
	db *gorm.DB
}

func NewGormItemRepo(db *gorm.DB) *GormItemRepo {
	return &GormItemRepo{db: db}
}

func (r *GormItemRepo) CreateItems(ctx context.Context, items []*domain.Item) error {
	models := make([]ItemModel, 0, len(items))
	modelIndexes := make([]int, 0, len(items))
	for i, item := range items {
		model := itemModelFromDomain(item)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := conn(ctx, r.db).CreateInBatches(&models, createItemsChunkSize).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		*items[idx] = *itemModelToDomain(&models[i])
	}

	return nil
}

func (r *GormItemRepo) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	var model ItemModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return itemModelToDomain(&model), nil
}

// MarkProcessing claims the item for one delivery attempt. The update only
// applies while the item is in a status that may enter processing, so two
// workers racing on the same id cannot both claim it; the loser gets
// ErrConflict.
func (r *GormItemRepo) MarkProcessing(ctx context.Context, id int64, now time.Time) (*domain.Item, error) {
	result := conn(ctx, r.db).
		Model(&ItemModel{}).
		Where("id = ? AND status IN ?", id, domain.TransitionSources(domain.ItemStatusProcessing)).
		Updates(map[string]any{
			"status":        domain.ItemStatusProcessing,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    now,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	item, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return item, fmt.Errorf("%w: item %d is %s", domain.ErrConflict, id, item.Status)
	}
	return item, nil
}

// Complete applies a terminal status to a processing item. It reports false
// when the item was not processing any more.
func (r *GormItemRepo) Complete(
	ctx context.Context,
	id int64,
	status domain.ItemStatus,
	message string,
	now time.Time,
) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not terminal", domain.ErrInvalidTransition, status)
	}

	result := conn(ctx, r.db).
		Model(&ItemModel{}).
		Where("id = ? AND status IN ?", id, domain.TransitionSources(status)).
		Updates(map[string]any{
			"status":         status,
			"result_message": message,
			"processed_at":   now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormItemRepo) CountByStatus(ctx context.Context, batchID string) (StatusCounts, error) {
	var rows []statusCountRow
	err := conn(ctx, r.db).
		Model(&ItemModel{}).
		Select("status, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return StatusCounts{}, err
	}

	var counts StatusCounts
	for _, row := range rows {
		counts.Total += row.Count
		switch row.Status {
		case domain.ItemStatusPending:
			counts.Pending += row.Count
		case domain.ItemStatusProcessing:
			counts.Running += row.Count
		case domain.ItemStatusSuccess:
			counts.Success += row.Count
		case domain.ItemStatusFailed:
			counts.Failed += row.Count
		}
	}
	return counts, nil
}

func (r *GormItemRepo) List(ctx context.Context, params ListParams) ([]domain.Item, int64, error) {
	query := conn(ctx, r.db).Model(&ItemModel{}).Where("batch_id = ?", params.BatchID)

	if params.Status != nil {
		query = query.Where("LOWER(status) = ?", strings.ToLower(params.Status.String()))
	}
	if phone := strings.TrimSpace(params.Phone); phone != "" {
		query = query.Where(`LOWER(phone) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(phone))+"%")
	}
	if params.Row != nil {
		query = query.Where("row_number = ?", *params.Row)
	}
	if params.MinRow != nil {
		query = query.Where("row_number >= ?", *params.MinRow)
	}
	if params.MaxRow != nil {
		query = query.Where("row_number <= ?", *params.MaxRow)
	}
	if params.MinAmount != nil {
		query = query.Where("amount >= ?", *params.MinAmount)
	}
	if params.MaxAmount != nil {
		query = query.Where("amount <= ?", *params.MaxAmount)
	}
	if params.ProcessedBefore != nil {
		query = query.Where("processed_at <= ?", *params.ProcessedBefore)
	}
	if params.ProcessedAfter != nil {
		query = query.Where("processed_at >= ?", *params.ProcessedAfter)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	pageSize = min(pageSize, 100)

	for _, order := range orderClauses(params.Ordering) {
		query = query.Order(order)
	}

	var models []ItemModel
	err := query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	items := make([]domain.Item, 0, len(models))
	for i := range models {
		items = append(items, *itemModelToDomain(&models[i]))
	}

	return items, total, nil
}

func (r *GormItemRepo) ListStale(
	ctx context.Context,
	status domain.ItemStatus,
	updatedBefore time.Time,
	limit int,
) ([]domain.Item, error) {
	var models []ItemModel
	err := conn(ctx, r.db).
		Where("status = ? AND updated_at <= ?", status, updatedBefore).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(models))
	for i := range models {
		items = append(items, *itemModelToDomain(&models[i]))
	}

	return items, nil
}

// TouchPending bumps updated_at of a still pending item so a re-enqueued item
// is not picked up again on the next recovery pass.
func (r *GormItemRepo) TouchPending(ctx context.Context, id int64, now time.Time) (bool, error) {
	result := conn(ctx, r.db).
		Model(&ItemModel{}).
		Where("id = ? AND status = ?", id, domain.ItemStatusPending).
		Update("updated_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// orderClauses keeps only allow-listed fields; anything else is dropped.
func orderClauses(ordering []string) []string {
	clauses := make([]string, 0, len(ordering))
	for _, raw := range ordering {
		field := strings.TrimSpace(raw)
		direction := "ASC"
		if strings.HasPrefix(field, "-") {
			direction = "DESC"
			field = strings.TrimPrefix(field, "-")
		}
		if !isSortableItemField(field) {
			continue
		}
		clauses = append(clauses, field+" "+direction)
	}
	return clauses
}

func isSortableItemField(field string) bool {
	for _, allowed := range SortableItemFields {
		if field == allowed {
			return true
		}
	}
	return false
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
