package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

const (
	MockSuccessMessage = "Mocked USSD: OK"
	MockFailureMessage = "Mocked USSD: FAILED"

	DefaultMockSuccessPercent = 90
	DefaultMockDelay          = time.Second
)

// MockProvider simulates a USSD push: it waits for a fixed delay and then
// succeeds for roughly successPercent of the calls.
type MockProvider struct {
	successPercent int
	delay          time.Duration
	randIntn       func(n int) int
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewMockProvider(successPercent int, delay time.Duration) (*MockProvider, error) {
	if successPercent < 0 || successPercent > 100 {
		return nil, fmt.Errorf("%w: success percent must be within 0..100, got %d", domain.ErrValidation, successPercent)
	}
	if delay < 0 {
		delay = 0
	}

	return &MockProvider{
		successPercent: successPercent,
		delay:          delay,
		randIntn:       rand.Intn,
		sleep:          sleepContext,
	}, nil
}

func (p *MockProvider) Deliver(ctx context.Context, item domain.Item) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	if err := p.sleep(ctx, p.delay); err != nil {
		return nil, PermanentError(0, "mock delivery interrupted", err)
	}

	if p.randIntn(100) < p.successPercent {
		return &Result{Success: true, Message: MockSuccessMessage}, nil
	}
	return &Result{Success: false, Message: MockFailureMessage}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
