package domain

import (
	"errors"
	"testing"
	"time"
)

func TestItemStatusCanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from ItemStatus
		to   ItemStatus
		want bool
	}{
		{from: ItemStatusPending, to: ItemStatusProcessing, want: true},
		{from: ItemStatusProcessing, to: ItemStatusSuccess, want: true},
		{from: ItemStatusProcessing, to: ItemStatusFailed, want: true},
		{from: ItemStatusPending, to: ItemStatusSuccess, want: false},
		{from: ItemStatusPending, to: ItemStatusFailed, want: false},
		{from: ItemStatusProcessing, to: ItemStatusProcessing, want: false},
		{from: ItemStatusSuccess, to: ItemStatusProcessing, want: false},
		{from: ItemStatusSuccess, to: ItemStatusFailed, want: false},
		{from: ItemStatusFailed, to: ItemStatusProcessing, want: false},
		{from: ItemStatusFailed, to: ItemStatusSuccess, want: false},
		{from: ItemStatusSuccess, to: ItemStatusPending, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()

			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Fatalf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransitionSourcesReturnsCopy(t *testing.T) {
	t.Parallel()

	sources := TransitionSources(ItemStatusProcessing)
	if len(sources) != 1 || sources[0] != ItemStatusPending {
		t.Fatalf("TransitionSources(processing) = %v, want [pending]", sources)
	}

	sources[0] = ItemStatusSuccess
	if again := TransitionSources(ItemStatusProcessing); again[0] != ItemStatusPending {
		t.Fatal("TransitionSources() must not expose the transition table")
	}

	if got := TransitionSources(ItemStatusPending); len(got) != 0 {
		t.Fatalf("TransitionSources(pending) = %v, want none", got)
	}
}

func TestItemTransitionLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	item := &Item{ID: 1, BatchID: "b1", RowNumber: 1, Phone: "+254700000001", Status: ItemStatusPending}

	if err := item.Transition(ItemStatusProcessing, "", now); err != nil {
		t.Fatalf("Transition(processing) error = %v", err)
	}
	if item.AttemptCount != 1 {
		t.Fatalf("AttemptCount = %d, want 1", item.AttemptCount)
	}
	if item.ProcessedAt != nil {
		t.Fatal("ProcessedAt must stay nil while processing")
	}

	if err := item.Transition(ItemStatusSuccess, "OK", now.Add(time.Second)); err != nil {
		t.Fatalf("Transition(success) error = %v", err)
	}
	if item.ProcessedAt == nil || !item.ProcessedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("ProcessedAt = %v, want %v", item.ProcessedAt, now.Add(time.Second))
	}
	if item.ResultMessage != "OK" {
		t.Fatalf("ResultMessage = %q, want OK", item.ResultMessage)
	}

	err := item.Transition(ItemStatusProcessing, "", now.Add(2*time.Second))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition() from terminal error = %v, want ErrInvalidTransition", err)
	}
	if item.AttemptCount != 1 {
		t.Fatalf("AttemptCount = %d after rejected transition, want 1", item.AttemptCount)
	}
}

func TestParseItemStatusFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseItemStatusFromString(" SUCCESS ")
	if err != nil {
		t.Fatalf("ParseItemStatusFromString() unexpected error = %v", err)
	}
	if got != ItemStatusSuccess {
		t.Fatalf("ParseItemStatusFromString() = %s, want %s", got, ItemStatusSuccess)
	}

	_, err = ParseItemStatusFromString("done")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseItemStatusFromString() error = %v, want ErrValidation", err)
	}
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "10.005", want: "10.01"},
		{input: " -2.345 ", want: "-2.35"},
		{input: "1.5e3", want: "1500.00"},
		{input: "9999999999.99", want: "9999999999.99"},
		{input: "9999999999.995", wantErr: true},
		{input: "12345678901", wantErr: true},
		{input: "1e400000000", wantErr: true},
		{input: "1e-400000000", wantErr: true},
		{input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ParseAmount(%q) error = %v, want ErrValidation", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q) unexpected error = %v", tt.input, err)
		}
		if got.StringFixed(AmountPlaces) != tt.want {
			t.Fatalf("ParseAmount(%q) = %s, want %s", tt.input, got.StringFixed(AmountPlaces), tt.want)
		}
	}
}

func TestCompletionStatus(t *testing.T) {
	t.Parallel()

	if got := CompletionStatus(0); got != BatchStatusCompleted {
		t.Fatalf("CompletionStatus(0) = %s, want completed", got)
	}
	if got := CompletionStatus(1); got != BatchStatusFailed {
		t.Fatalf("CompletionStatus(1) = %s, want failed", got)
	}
}

func TestBatchCanBeViewedBy(t *testing.T) {
	t.Parallel()

	owner := "alice"
	batch := &Batch{ID: "b1", OwnerID: &owner}

	if !batch.CanBeViewedBy(Identity{UserID: "alice"}) {
		t.Fatal("owner should view batch")
	}
	if batch.CanBeViewedBy(Identity{UserID: "bob"}) {
		t.Fatal("other user should not view batch")
	}
	if !batch.CanBeViewedBy(Identity{UserID: "bob", IsStaff: true}) {
		t.Fatal("staff should view batch")
	}

	orphan := &Batch{ID: "b2"}
	if !orphan.CanBeViewedBy(Identity{UserID: "bob"}) {
		t.Fatal("batch without owner should be viewable")
	}
}

func TestBatchErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := error(&BatchError{Batch: &Batch{ID: "b1"}, Err: ErrEmptyInput})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("errors.Is(BatchError, ErrEmptyInput) = false")
	}
	if err.Error() != ErrEmptyInput.Error() {
		t.Fatalf("Error() = %q, want %q", err.Error(), ErrEmptyInput.Error())
	}

	var batchErr *BatchError
	if !errors.As(err, &batchErr) || batchErr.Batch.ID != "b1" {
		t.Fatal("errors.As should expose the failed batch")
	}
}
