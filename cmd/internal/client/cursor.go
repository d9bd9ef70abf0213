package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	v1 "communicator/shared/contracts/messaging/v1"
)

// CursorEpsilon is added to the newest sentAt when advancing the cursor.
// It is below the server's microsecond timestamp resolution, so the next message
// to the same recipient always sorts strictly after the advanced cursor.
const CursorEpsilon = time.Nanosecond

// Consumer processes a polled batch. The cursor advances only when it returns nil.
type Consumer func(ctx context.Context, batch []v1.MessageDTO) error

// Cursor is one user's poll position. The server keeps no per-client state.
type Cursor struct {
	mu     sync.Mutex
	api    Poller
	store  Storage
	userID string
	log    *slog.Logger
	now    func() time.Time
}

// CursorOption configures Cursor.
type CursorOption func(*Cursor)

func WithCursorLogger(log *slog.Logger) CursorOption {
	return func(c *Cursor) {
		if log != nil {
			c.log = log
		}
	}
}

// WithCursorClock overrides time.Now (tests).
func WithCursorClock(now func() time.Time) CursorOption {
	return func(c *Cursor) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCursor returns the cursor for userID persisted in store.
func NewCursor(api Poller, store Storage, userID string, opts ...CursorOption) *Cursor {
	c := &Cursor{
		api:    api,
		store:  store,
		userID: userID,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Load returns the persisted cursor, or now-24h when none is stored.
// An unreadable value is treated as absent.
func (c *Cursor) Load() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Cursor) loadLocked() (time.Time, error) {
	var raw string
	found, err := loadJSON(c.store, LastSyncKey(c.userID), &raw)
	if err != nil && !found {
		return time.Time{}, err
	}
	fallback := c.now().UTC().Add(-v1.DefaultSinceWindow)
	if !found {
		return fallback, nil
	}
	if err != nil {
		c.log.Warn("sync.cursor.corrupt", "user_id", c.userID, "err", err)
		return fallback, nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		c.log.Warn("sync.cursor.corrupt", "user_id", c.userID, "err", err)
		return fallback, nil
	}
	return t.UTC(), nil
}

// Poll fetches messages after the cursor and hands them to consume.
// The cursor moves to max(cursor, newest sentAt + CursorEpsilon) only after
// consume succeeds, so a failed consumer sees the same batch again next time.
// It returns the batch size.
func (c *Cursor) Poll(ctx context.Context, consume Consumer) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	since, err := c.loadLocked()
	if err != nil {
		return 0, err
	}

	batch, err := c.api.NewMessages(ctx, c.userID, since)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if consume != nil {
		if err := consume(ctx, batch); err != nil {
			return 0, err
		}
	}

	next := since
	for _, m := range batch {
		if t := m.SentAt.Add(CursorEpsilon); t.After(next) {
			next = t
		}
	}
	if next.Equal(since) {
		return len(batch), nil
	}

	if err := saveJSON(c.store, LastSyncKey(c.userID), v1.FormatSince(next)); err != nil {
		return len(batch), err
	}
	c.log.Debug("sync.cursor.advance", "user_id", c.userID, "cursor", v1.FormatSince(next), "messages", len(batch))
	return len(batch), nil
}
