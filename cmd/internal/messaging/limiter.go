package messaging

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SenderLimiter is a per-sender token bucket for POST /messages.
// Retries of queued sends count like any other send, so the burst must cover a drained outbox.
type SenderLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	senders map[string]*senderBucket
}

type senderBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewSenderLimiter allows perSecond sends per sender with the given burst.
// perSecond <= 0 returns nil, which allows everything.
func NewSenderLimiter(perSecond float64, burst int) *SenderLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &SenderLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		senders: make(map[string]*senderBucket),
	}
}

// Allow reports whether senderID may send at now. When it may not, the returned
// duration is how long until the next token.
func (l *SenderLimiter) Allow(senderID string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}

	l.mu.Lock()
	b, ok := l.senders[senderID]
	if !ok {
		b = &senderBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.senders[senderID] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Prune forgets senders idle since before cutoff and returns how many were dropped.
func (l *SenderLimiter) Prune(cutoff time.Time) int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, b := range l.senders {
		if b.lastSeen.Before(cutoff) {
			delete(l.senders, id)
			n++
		}
	}
	return n
}
