package messaging

import (
	"context"
	"sort"
	"sync"
	"time"

	"communicator/cmd/identity"
	"communicator/cmd/identity/ids"
)

// InMemoryStore is the MessageStore used when no database is configured.
//
// Messages live for the process lifetime. A single RWMutex publishes each message
// atomically; readers copy slices out under the read lock.
type InMemoryStore struct {
	mu  sync.RWMutex
	ttl time.Duration

	last  time.Time            // sent_at of the newest message
	inbox map[string][]Message // recipient_id -> ordered by sent_at
	convs map[string][]Message // pair key -> ordered by sent_at
	byID  map[string]Message
	keys  map[idemKey]idemEntry
}

type idemKey struct {
	senderID        string
	clientMessageID string
}

type idemEntry struct {
	messageID string
	createdAt time.Time
}

// MemoryOption configures InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryIdempotencyTTL sets the idempotency retention window (0 keeps keys forever).
func WithMemoryIdempotencyTTL(ttl time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		ttl:   DefaultIdempotencyTTL,
		inbox: make(map[string][]Message),
		convs: make(map[string][]Message),
		byID:  make(map[string]Message),
		keys:  make(map[idemKey]idemEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Store appends a message, or returns the original one for a retained client_message_id.
func (s *InMemoryStore) Store(ctx context.Context, in StoreInput) (StoreResult, error) {
	const op = "messaging.Store"

	if in.SenderID == "" || in.RecipientID == "" || in.ClientMessageID == "" {
		return StoreResult{}, identity.Invalid(op, "sender, recipient and client message id are required")
	}
	if err := ctx.Err(); err != nil {
		return StoreResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	key := idemKey{senderID: in.SenderID, clientMessageID: in.ClientMessageID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.keys[key]; ok && !keyExpired(e.createdAt, now, s.ttl) {
		if existing, ok := s.byID[e.messageID]; ok {
			return StoreResult{Message: existing, Duplicated: true}, nil
		}
	}

	sentAt := nextSentAt(now, s.last)
	id, err := ids.NewULID(sentAt)
	if err != nil {
		return StoreResult{}, err
	}

	msg := Message{
		ID:          id,
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Content:     in.Content,
		SentAt:      sentAt,
	}

	// sent_at only grows, so appending keeps every index ordered.
	s.last = sentAt
	s.byID[id] = msg
	s.inbox[in.RecipientID] = append(s.inbox[in.RecipientID], msg)
	pk := pairKey(in.SenderID, in.RecipientID)
	s.convs[pk] = append(s.convs[pk], msg)
	s.keys[key] = idemEntry{messageID: id, createdAt: now}

	return StoreResult{Message: msg, Duplicated: false}, nil
}

// Lookup returns the message retained for a live idempotency key.
func (s *InMemoryStore) Lookup(ctx context.Context, senderID, clientMessageID string, now time.Time) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.keys[idemKey{senderID: senderID, clientMessageID: clientMessageID}]
	if !ok || keyExpired(e.createdAt, now, s.ttl) {
		return Message{}, false, nil
	}
	m, ok := s.byID[e.messageID]
	return m, ok, nil
}

// GetConversation returns every message between userID and otherID in either direction.
func (s *InMemoryStore) GetConversation(ctx context.Context, userID, otherID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Message{}, s.convs[pairKey(userID, otherID)]...), nil
}

// GetNewMessages returns messages to userID with sent_at strictly after since.
func (s *InMemoryStore) GetNewMessages(ctx context.Context, userID string, since time.Time) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	box := s.inbox[userID]
	start := sort.Search(len(box), func(i int) bool { return box[i].SentAt.After(since) })
	return append([]Message{}, box[start:]...), nil
}

// SweepIdempotencyKeys drops keys past the retention window.
func (s *InMemoryStore) SweepIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.ttl <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.keys {
		if keyExpired(e.createdAt, now, s.ttl) {
			delete(s.keys, k)
			n++
		}
	}
	return n, nil
}

// pairKey is symmetric: pairKey(a, b) == pairKey(b, a).
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
