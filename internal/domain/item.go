package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus represents the lifecycle state of a single batch row.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusSuccess    ItemStatus = "success"
	ItemStatusFailed     ItemStatus = "failed"
)

// AmountPlaces is the number of fractional digits kept for item amounts.
const AmountPlaces = 2

// Amount exponents outside this range are rejected before any rescaling.
const (
	minAmountExponent = -28
	maxAmountExponent = 12
)

// maxAmount is the first value numeric(12,2) cannot store.
var maxAmount = decimal.New(1, 10)

// ParseAmount parses a user supplied amount and rounds it half away from zero
// to AmountPlaces. Values that do not fit numeric(12,2) are rejected.
func ParseAmount(text string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q is not a number", ErrValidation, text)
	}
	if exp := value.Exponent(); exp < minAmountExponent || exp > maxAmountExponent {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q is out of range", ErrValidation, text)
	}

	rounded := value.Round(AmountPlaces)
	if rounded.Abs().Cmp(maxAmount) >= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q is out of range", ErrValidation, text)
	}
	return rounded, nil
}

// itemTransitions lists, for every target status, the statuses it may be
// entered from. Terminal statuses never appear as a source.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusProcessing: {ItemStatusPending},
	ItemStatusSuccess:    {ItemStatusProcessing},
	ItemStatusFailed:     {ItemStatusProcessing},
}

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusSuccess, ItemStatusFailed:
		return true
	}
	return false
}

func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSuccess || s == ItemStatusFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	for _, from := range itemTransitions[next] {
		if from == s {
			return true
		}
	}
	return false
}

// TransitionSources returns the statuses from which next may be entered.
// Repositories use it as the guard of conditional updates.
func TransitionSources(next ItemStatus) []ItemStatus {
	sources := itemTransitions[next]
	out := make([]ItemStatus, len(sources))
	copy(out, sources)
	return out
}

func ParseItemStatusFromString(s string) (ItemStatus, error) {
	st := ItemStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid item status %q", ErrValidation, s)
	}
	return st, nil
}

// Item is one spreadsheet row and one unit of delivery work.
type Item struct {
	ID            int64
	BatchID       string
	RowNumber     int
	Phone         string
	Amount        decimal.Decimal
	Status        ItemStatus
	ResultMessage string
	ProcessedAt   *time.Time
	AttemptCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition applies next to the in-memory item, enforcing the state machine.
func (i *Item) Transition(next ItemStatus, message string, now time.Time) error {
	if i == nil {
		return fmt.Errorf("%w: item is required", ErrValidation)
	}
	if !i.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, next)
	}

	i.Status = next
	i.UpdatedAt = now
	switch next {
	case ItemStatusProcessing:
		i.AttemptCount++
	case ItemStatusSuccess, ItemStatusFailed:
		i.ResultMessage = message
		processedAt := now
		i.ProcessedAt = &processedAt
	}
	return nil
}

func (i *Item) Validate() error {
	if strings.TrimSpace(i.BatchID) == "" {
		return fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if i.RowNumber < 1 {
		return fmt.Errorf("%w: row number must be >= 1", ErrValidation)
	}
	if strings.TrimSpace(i.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}
	return nil
}

// DeliveryAttempt records the outcome of a single delivery call for an item.
type DeliveryAttempt struct {
	ID            string
	ItemID        int64
	AttemptNumber int
	Success       bool
	Message       string
	DurationMS    int64
	CreatedAt     time.Time
}
