// Package delivery holds the outbound port used by workers to act on a batch
// item, plus its mock and webhook implementations.
package delivery

import (
	"context"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

// Provider delivers one item. A nil error with Result.Success false is a
// definitive rejection; a non-nil error means the call itself failed.
type Provider interface {
	Deliver(ctx context.Context, item domain.Item) (*Result, error)
}

// Result stores provider call metadata for audit and persistence.
type Result struct {
	Success    bool
	Message    string
	StatusCode int
	Reference  string
}
