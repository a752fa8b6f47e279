package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks invalid parameters, rejected before any write.
	ErrConfig = errors.New("invalid configuration")

	// ErrNotFound marks operations against an unknown collection or id.
	ErrNotFound = errors.New("not found")

	// ErrProviderUnavailable marks a remote embedding/rerank/generation
	// service that stayed unreachable after bounded retries.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// ConfigErrorf wraps ErrConfig with a formatted message.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)
}

// NotFoundErrorf wraps ErrNotFound with a formatted message.
func NotFoundErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// PartialBatchError reports a batch operation where some ids succeeded and
// some failed. It is always surfaced, never swallowed.
type PartialBatchError struct {
	SuccessCount int
	FailedIDs    []string
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("partial batch failure: %d succeeded, %d failed", e.SuccessCount, len(e.FailedIDs))
}
