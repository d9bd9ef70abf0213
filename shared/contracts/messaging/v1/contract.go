package v1

import (
	"fmt"
	"strings"
	"time"
)

// Routes (wire-stable).
const (
	PathMessages     = "/messages"
	PathNewMessages  = "/messages/new/"          // + {userId}
	PathConversation = "/messages/conversation/" // + {userId}/{otherId}
	PathRegister     = "/users/register"
	PathLogin        = "/users/login"
	PathLogout       = "/users/logout"
	PathUsers        = "/users"
	PathHealth       = "/healthz"

	QuerySince = "since"
)

// Error codes (wire-stable).
const (
	CodeInvalidJSON        = "invalid_json"
	CodeInvalidRequest     = "invalid_request"
	CodeEmptyContent       = "empty_content"
	CodeSenderNotFound     = "sender_not_found"
	CodeRecipientNotFound  = "recipient_not_found"
	CodeUserNotFound       = "user_not_found"
	CodeConflict           = "conflict"
	CodeInvalidCredentials = "invalid_credentials"
	CodeRateLimited        = "rate_limited"
	CodeDBUnavailable      = "db_unavailable"
	CodeInternal           = "internal"
)

// DefaultSinceWindow is how far back a poll without a cursor looks.
const DefaultSinceWindow = 24 * time.Hour

// FormatSince renders a cursor for the since query parameter.
// Nanoseconds are kept so a cursor advanced by a sub-microsecond epsilon survives the round trip.
func FormatSince(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseSince parses the since query parameter.
// Empty input yields now-DefaultSinceWindow. Values without a zone are read as UTC.
func ParseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC().Add(-DefaultSinceWindow), nil
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid since timestamp: %q", raw)
}
