package client

import (
	"log/slog"

	v1 "communicator/shared/contracts/messaging/v1"
)

// DefaultCacheLimit is how many confirmed messages a conversation cache keeps.
const DefaultCacheLimit = 200

// ConversationCache persists the tail of each conversation so a view can render
// before the history fetch returns. Only confirmed messages are cached.
type ConversationCache struct {
	store  Storage
	userID string
	limit  int
	log    *slog.Logger
}

// NewConversationCache returns userID's cache. limit <= 0 uses DefaultCacheLimit.
func NewConversationCache(store Storage, userID string, limit int, log *slog.Logger) *ConversationCache {
	if limit <= 0 {
		limit = DefaultCacheLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &ConversationCache{store: store, userID: userID, limit: limit, log: log}
}

// Load returns the cached conversation with contactID.
// A missing or corrupt entry yields an empty slice.
func (c *ConversationCache) Load(contactID string) []v1.MessageDTO {
	var msgs []v1.MessageDTO
	if _, err := loadJSON(c.store, ConversationKey(c.userID, contactID), &msgs); err != nil {
		c.log.Warn("cache.corrupt", "user_id", c.userID, "contact_id", contactID, "err", err)
		return []v1.MessageDTO{}
	}
	if msgs == nil {
		return []v1.MessageDTO{}
	}
	return msgs
}

// Save replaces the cached conversation with the last limit entries of msgs.
func (c *ConversationCache) Save(contactID string, msgs []v1.MessageDTO) error {
	if len(msgs) > c.limit {
		msgs = msgs[len(msgs)-c.limit:]
	}
	return saveJSON(c.store, ConversationKey(c.userID, contactID), msgs)
}
