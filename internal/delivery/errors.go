package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError is a failed delivery call. Transient errors may be retried
// while the item is still claimed.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

// TransientError reports a call that may succeed if repeated.
func TransientError(statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{StatusCode: statusCode, Message: message, Transient: true, Cause: cause}
}

// PermanentError reports a call the provider will keep refusing.
func PermanentError(statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{StatusCode: statusCode, Message: message, Cause: cause}
}

// Error renders as "delivery failed (status 503): message: cause", leaving
// out whatever is unset.
func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("delivery failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a delivery error is worth another call.
// Cancellation never is; deadlines and network timeouts always are.
func IsTransient(err error) bool {
	var (
		providerErr *ProviderError
		netErr      net.Error
	)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &providerErr):
		return providerErr.Transient
	case errors.As(err, &netErr):
		return netErr.Timeout()
	default:
		return false
	}
}
