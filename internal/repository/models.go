package repository

import (
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID               string             `gorm:"type:uuid;primaryKey"`
	OriginalFilename string             `gorm:"type:varchar(255);not null;default:''"`
	FileRef          string             `gorm:"type:varchar(512);not null;default:''"`
	Status           domain.BatchStatus `gorm:"type:varchar(16);not null"`
	TotalRows        int                `gorm:"not null;default:0"`
	ProcessedRows    int                `gorm:"not null;default:0"`
	Errors           int                `gorm:"not null;default:0"`
	Detail           string             `gorm:"type:text;not null;default:''"`
	OwnerID          *string            `gorm:"type:varchar(64)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// ItemModel is the persistence model for batch_items.
type ItemModel struct {
	ID            int64             `gorm:"primaryKey;autoIncrement"`
	BatchID       string            `gorm:"type:uuid;not null;index"`
	RowNumber     int               `gorm:"not null"`
	Phone         string            `gorm:"type:varchar(32);not null"`
	Amount        decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	Status        domain.ItemStatus `gorm:"type:varchar(16);not null"`
	ResultMessage string            `gorm:"type:text;not null;default:''"`
	ProcessedAt   *time.Time
	AttemptCount  int `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ItemModel) TableName() string {
	return "batch_items"
}

// ItemAttemptModel is the persistence model for item_attempts.
type ItemAttemptModel struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	ItemID        int64  `gorm:"not null;index"`
	AttemptNumber int    `gorm:"not null"`
	Success       bool   `gorm:"not null"`
	Message       string `gorm:"type:text;not null;default:''"`
	DurationMS    int64  `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

func (ItemAttemptModel) TableName() string {
	return "item_attempts"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:               b.ID,
		OriginalFilename: b.OriginalFilename,
		FileRef:          b.FileRef,
		Status:           b.Status,
		TotalRows:        b.TotalRows,
		ProcessedRows:    b.ProcessedRows,
		Errors:           b.Errors,
		Detail:           b.Detail,
		OwnerID:          b.OwnerID,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:               m.ID,
		OriginalFilename: m.OriginalFilename,
		FileRef:          m.FileRef,
		Status:           m.Status,
		TotalRows:        m.TotalRows,
		ProcessedRows:    m.ProcessedRows,
		Errors:           m.Errors,
		Detail:           m.Detail,
		OwnerID:          m.OwnerID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func itemModelFromDomain(i *domain.Item) *ItemModel {
	if i == nil {
		return nil
	}

	return &ItemModel{
		ID:            i.ID,
		BatchID:       i.BatchID,
		RowNumber:     i.RowNumber,
		Phone:         i.Phone,
		Amount:        i.Amount,
		Status:        i.Status,
		ResultMessage: i.ResultMessage,
		ProcessedAt:   i.ProcessedAt,
		AttemptCount:  i.AttemptCount,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}

func itemModelToDomain(m *ItemModel) *domain.Item {
	if m == nil {
		return nil
	}

	return &domain.Item{
		ID:            m.ID,
		BatchID:       m.BatchID,
		RowNumber:     m.RowNumber,
		Phone:         m.Phone,
		Amount:        m.Amount,
		Status:        m.Status,
		ResultMessage: m.ResultMessage,
		ProcessedAt:   m.ProcessedAt,
		AttemptCount:  m.AttemptCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *ItemAttemptModel {
	if a == nil {
		return nil
	}

	return &ItemAttemptModel{
		ID:            a.ID,
		ItemID:        a.ItemID,
		AttemptNumber: a.AttemptNumber,
		Success:       a.Success,
		Message:       a.Message,
		DurationMS:    a.DurationMS,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *ItemAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:            m.ID,
		ItemID:        m.ItemID,
		AttemptNumber: m.AttemptNumber,
		Success:       m.Success,
		Message:       m.Message,
		DurationMS:    m.DurationMS,
		CreatedAt:     m.CreatedAt,
	}
}
