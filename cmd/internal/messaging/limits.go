package messaging

import "time"

const (
	// Max message content length (runes).
	maxContentChars = 4000

	// Max client_message_id length (bytes).
	maxClientMessageIDLen = 128

	// sentAtResolution is the storage precision of sent_at.
	// Consecutive messages to one recipient are at least this far apart.
	sentAtResolution = time.Microsecond
)

// DefaultIdempotencyTTL is how long a client_message_id keeps deduplicating retries.
const DefaultIdempotencyTTL = 7 * 24 * time.Hour

// nextSentAt returns the timestamp for a new message given the previous one.
func nextSentAt(now, last time.Time) time.Time {
	t := now.UTC().Truncate(sentAtResolution)
	if !t.After(last) {
		t = last.Add(sentAtResolution)
	}
	return t
}

func keyExpired(createdAt, now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(createdAt) >= ttl
}
