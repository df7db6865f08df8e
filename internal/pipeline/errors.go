package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTransient marks a stage failure as retryable. The underlying TTS and
// media libraries surface a single generic failure type, so classification is
// imposed here rather than trusted from the adapter.
var ErrTransient = errors.New("transient stage failure")

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err should feed the retry policy. Deadline
// expiry and network-level timeouts count as transient even when the adapter
// did not classify them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTimeout reports whether err was caused by a stage exceeding its deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
