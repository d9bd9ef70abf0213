package messaging

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyContent marks a send whose content is blank. It also matches identity.ErrInvalidInput.
var ErrEmptyContent = errors.New("messaging: empty content")

// ErrRateLimited is the kind of RateLimitError.
var ErrRateLimited = errors.New("messaging: rate limited")

// RateLimitError rejects a send because the sender exhausted its budget.
type RateLimitError struct {
	SenderID   string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("messaging: sender %s rate limited (retry after %s)", e.SenderID, e.RetryAfter)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }
