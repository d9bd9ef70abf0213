// Package messaging implements the authoritative message store and the HTTP sync surface
// built on it: idempotent send, conversation history and new-since-cursor polling.
package messaging

import (
	"context"
	"time"
)

// Message is the canonical persisted message. It is never mutated once stored.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Content     string
	SentAt      time.Time
}

// MessageStore persists and queries messages.
//
// Requirements:
//   - Idempotency per (sender_id, client_message_id) while the key is retained
//   - SentAt strictly increasing per recipient, at microsecond resolution
//   - Reads ordered by sent_at ASC, id ASC
//   - Append-only: nothing is ever consumed, updated or deleted by a read
type MessageStore interface {
	Store(ctx context.Context, in StoreInput) (StoreResult, error)
	GetConversation(ctx context.Context, userID, otherID string) ([]Message, error)
	GetNewMessages(ctx context.Context, userID string, since time.Time) ([]Message, error)

	// Lookup returns the message retained for (senderID, clientMessageID) as of now.
	// The bool is false when the key is unknown or expired.
	Lookup(ctx context.Context, senderID, clientMessageID string, now time.Time) (Message, bool, error)

	// SweepIdempotencyKeys forgets keys older than the retention window as of now.
	// It never deletes messages.
	SweepIdempotencyKeys(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

// StoreInput describes a message append request.
type StoreInput struct {
	SenderID        string
	RecipientID     string
	Content         string
	ClientMessageID string
	Now             time.Time
}

// StoreResult is the append operation result.
type StoreResult struct {
	Message    Message
	Duplicated bool
}
