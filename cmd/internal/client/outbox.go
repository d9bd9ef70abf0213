package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "communicator/shared/contracts/messaging/v1"
)

// PendingEntry is a send that has not been confirmed by the server.
type PendingEntry struct {
	ClientMessageID string    `json:"clientMessageId"`
	SenderID        string    `json:"senderId"`
	RecipientID     string    `json:"recipientId"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`

	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitempty"`
}

func (e PendingEntry) request() v1.SendMessageRequest {
	return v1.SendMessageRequest{
		SenderID:        e.SenderID,
		RecipientID:     e.RecipientID,
		Content:         e.Content,
		ClientMessageID: e.ClientMessageID,
	}
}

// DrainResult summarizes one Drain pass.
type DrainResult struct {
	Sent      int
	Rejected  int
	Remaining int
}

// Outbox is a durable FIFO of unsent messages for one user.
//
// Entries are retried with their original ClientMessageID, so a send whose
// response was lost never produces a second message.
type Outbox struct {
	mu      sync.Mutex // guards the persisted list
	drainMu sync.Mutex // one Drain at a time

	store  Storage
	userID string
	log    *slog.Logger

	onSent     func(PendingEntry, v1.MessageDTO)
	onRejected func(PendingEntry, error)
}

// OutboxOption configures Outbox.
type OutboxOption func(*Outbox)

func WithOutboxLogger(log *slog.Logger) OutboxOption {
	return func(o *Outbox) {
		if log != nil {
			o.log = log
		}
	}
}

// WithOnSent is called after an entry is confirmed and removed.
func WithOnSent(fn func(PendingEntry, v1.MessageDTO)) OutboxOption {
	return func(o *Outbox) { o.onSent = fn }
}

// WithOnRejected is called after the server permanently refused an entry and it was dropped.
func WithOnRejected(fn func(PendingEntry, error)) OutboxOption {
	return func(o *Outbox) { o.onRejected = fn }
}

// NewOutbox returns userID's outbox persisted in store.
func NewOutbox(store Storage, userID string, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		store:  store,
		userID: userID,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Enqueue appends e. An entry with the same ClientMessageID is not queued twice.
func (o *Outbox) Enqueue(e PendingEntry) error {
	if e.ClientMessageID == "" {
		return errors.New("client: outbox entry without client message id")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.loadLocked()
	if err != nil {
		return err
	}
	for _, x := range entries {
		if x.ClientMessageID == e.ClientMessageID {
			return nil
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return o.saveLocked(append(entries, e))
}

// Entries returns the queued entries in FIFO order.
func (o *Outbox) Entries() ([]PendingEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadLocked()
}

// Len returns the number of queued entries.
func (o *Outbox) Len() (int, error) {
	entries, err := o.Entries()
	return len(entries), err
}

// Drain resends queued entries in FIFO order.
//
// A confirmed entry is removed. A rejected entry is removed and reported through
// the rejection callback, since it can never succeed. The first transient failure
// stops the pass so order is kept; its error is returned with the partial result.
func (o *Outbox) Drain(ctx context.Context, sender Sender) (DrainResult, error) {
	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	var res DrainResult

	entries, err := o.Entries()
	if err != nil {
		return res, err
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(entries) - i
			return res, err
		}

		msg, sendErr := sender.Send(ctx, e.request())
		switch {
		case sendErr == nil:
			if err := o.remove(e.ClientMessageID); err != nil {
				res.Remaining = len(entries) - i
				return res, err
			}
			res.Sent++
			if o.onSent != nil {
				o.onSent(e, msg)
			}

		case IsRejected(sendErr):
			if err := o.remove(e.ClientMessageID); err != nil {
				res.Remaining = len(entries) - i
				return res, err
			}
			res.Rejected++
			o.log.Warn("outbox.entry.rejected", "user_id", o.userID, "client_message_id", e.ClientMessageID, "err", sendErr)
			if o.onRejected != nil {
				o.onRejected(e, sendErr)
			}

		default:
			if err := o.markAttempt(e.ClientMessageID, sendErr); err != nil {
				o.log.Warn("outbox.persist.fail", "user_id", o.userID, "err", err)
			}
			res.Remaining = len(entries) - i
			o.log.Debug("outbox.drain.stop", "user_id", o.userID, "client_message_id", e.ClientMessageID, "remaining", res.Remaining, "err", sendErr)
			return res, sendErr
		}
	}

	// Entries enqueued during the pass are left for the next one.
	n, err := o.Len()
	res.Remaining = n
	return res, err
}

func (o *Outbox) remove(clientMessageID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.loadLocked()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ClientMessageID != clientMessageID {
			out = append(out, e)
		}
	}
	return o.saveLocked(out)
}

func (o *Outbox) markAttempt(clientMessageID string, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.loadLocked()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ClientMessageID == clientMessageID {
			entries[i].Attempts++
			entries[i].LastError = cause.Error()
		}
	}
	return o.saveLocked(entries)
}

// loadLocked reads the queue. An undecodable value is moved to CorruptPendingKey
// and the queue reads as empty, so one bad write cannot block sends or polls.
func (o *Outbox) loadLocked() ([]PendingEntry, error) {
	var entries []PendingEntry
	found, err := loadJSON(o.store, PendingKey(o.userID), &entries)
	if err == nil {
		return entries, nil
	}
	if !found {
		return nil, err
	}

	o.log.Error("outbox.corrupt", "user_id", o.userID, "moved_to", CorruptPendingKey(o.userID), "err", err)
	if qerr := o.quarantineLocked(); qerr != nil {
		return nil, qerr
	}
	return nil, nil
}

func (o *Outbox) quarantineLocked() error {
	raw, err := o.store.Get(PendingKey(o.userID))
	if err != nil || raw == nil {
		return err
	}
	if err := o.store.Put(CorruptPendingKey(o.userID), raw); err != nil {
		return err
	}
	return o.store.Delete(PendingKey(o.userID))
}

func (o *Outbox) saveLocked(entries []PendingEntry) error {
	if len(entries) == 0 {
		return o.store.Delete(PendingKey(o.userID))
	}
	return saveJSON(o.store, PendingKey(o.userID), entries)
}
