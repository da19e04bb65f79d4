package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of an uploaded batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// Batch is one uploaded file and its processing run.
type Batch struct {
	ID               string
	OriginalFilename string
	FileRef          string
	Status           BatchStatus
	TotalRows        int
	ProcessedRows    int
	Errors           int
	Detail           string
	OwnerID          *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CompletionStatus derives the terminal status for a batch whose items are all
// resolved.
func CompletionStatus(failed int) BatchStatus {
	if failed == 0 {
		return BatchStatusCompleted
	}
	return BatchStatusFailed
}

// CanBeViewedBy reports whether the identity may read the batch's items.
// Batches without an owner are readable by any authenticated caller.
func (b *Batch) CanBeViewedBy(identity Identity) bool {
	if b == nil {
		return false
	}
	if b.OwnerID == nil || *b.OwnerID == "" {
		return true
	}
	return identity.IsStaff || *b.OwnerID == identity.UserID
}

// Identity is the caller as resolved by the identity directory.
type Identity struct {
	UserID  string
	IsStaff bool
}
