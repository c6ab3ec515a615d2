package polling

import (
	"context"
	"errors"
	"strings"
)

// retryableIndicators is matched case-insensitively against error text.
var retryableIndicators = []string{
	"connection",
	"timeout",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"temporarily unavailable",
}

// IsRetryable reports whether err looks like a transient backend or network
// failure. Everything else, including cancellation, is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range retryableIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
