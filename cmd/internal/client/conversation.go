package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"communicator/cmd/identity/ids"
	v1 "communicator/shared/contracts/messaging/v1"
)

// ViewState is the lifecycle of a ConversationView.
type ViewState int

const (
	StateIdle ViewState = iota
	StateLoading
	StateSynced
)

func (s ViewState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	default:
		return fmt.Sprintf("ViewState(%d)", int(s))
	}
}

// EntryStatus marks how far a view entry got toward the server.
type EntryStatus string

const (
	StatusConfirmed EntryStatus = "confirmed"
	StatusPending   EntryStatus = "pending" // request in flight
	StatusQueued    EntryStatus = "queued"  // in the outbox
	StatusFailed    EntryStatus = "failed"  // rejected by the server
)

// ViewEntry is one line of a conversation view.
// Unconfirmed entries carry ClientMessageID as their ID and a local SentAt.
type ViewEntry struct {
	v1.MessageDTO
	ClientMessageID string      `json:"clientMessageId,omitempty"`
	Status          EntryStatus `json:"status"`
}

var (
	// ErrStaleFetch means another Open started while this one was fetching; its result was dropped.
	ErrStaleFetch = errors.New("client: stale conversation fetch")
	// ErrNoContact means the view has not been opened on a contact.
	ErrNoContact = errors.New("client: no open conversation")
)

// ConversationAPI is the server surface a ConversationView needs.
type ConversationAPI interface {
	HistoryFetcher
	Sender
}

// Identity is the logged-in user.
type Identity struct {
	ID       string
	Username string
}

// ConversationView is the merged, ordered view of the current user's conversation with one contact.
//
// Confirmed entries are unique by id and ordered by (sentAt, id). Unconfirmed
// entries follow them in creation order until confirmed.
type ConversationView struct {
	mu sync.Mutex

	api    ConversationAPI
	me     Identity
	cache  *ConversationCache
	outbox *Outbox
	log    *slog.Logger
	now    func() time.Time
	newID  func() string

	gen     uint64
	contact string
	state   ViewState
	entries []ViewEntry
}

// ViewOption configures ConversationView.
type ViewOption func(*ConversationView)

func WithViewLogger(log *slog.Logger) ViewOption {
	return func(v *ConversationView) {
		if log != nil {
			v.log = log
		}
	}
}

// WithViewClock overrides time.Now (tests).
func WithViewClock(now func() time.Time) ViewOption {
	return func(v *ConversationView) {
		if now != nil {
			v.now = now
		}
	}
}

// WithIDGenerator overrides client message id generation (tests).
func WithIDGenerator(fn func() string) ViewOption {
	return func(v *ConversationView) {
		if fn != nil {
			v.newID = fn
		}
	}
}

// NewConversationView builds an idle view. cache and outbox may be nil.
func NewConversationView(api ConversationAPI, me Identity, cache *ConversationCache, outbox *Outbox, opts ...ViewOption) *ConversationView {
	v := &ConversationView{
		api:    api,
		me:     me,
		cache:  cache,
		outbox: outbox,
		log:    slog.Default(),
		now:    time.Now,
		state:  StateIdle,
	}
	v.newID = func() string { return ids.MustNewULID(v.now()) }
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Open switches the view to contactID.
//
// The view is seeded from the cache right away and moves to StateLoading. When
// the history fetch returns and no newer Open has started, the server result
// replaces the view, still-queued outbox entries for the contact are overlaid and
// the state becomes StateSynced. Entries confirmed or merged while the fetch was in
// flight are kept. A superseded fetch returns ErrStaleFetch.
func (v *ConversationView) Open(ctx context.Context, contactID string) error {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return ErrNoContact
	}

	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.contact = contactID
	v.state = StateLoading
	v.entries = nil
	if v.cache != nil {
		v.entries = confirmedEntries(v.cache.Load(contactID))
		sortConfirmed(v.entries)
	}
	seeded := make(map[string]bool, len(v.entries))
	for _, e := range v.entries {
		seeded[e.ID] = true
	}
	v.mu.Unlock()

	history, err := v.api.Conversation(ctx, v.me.ID, contactID)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.gen != gen {
		return ErrStaleFetch
	}
	if err != nil {
		return err
	}

	// Sends confirmed and batches merged during the fetch may be missing from history.
	var arrived []v1.MessageDTO
	for _, e := range v.entries {
		if e.Status == StatusConfirmed && !seeded[e.ID] {
			arrived = append(arrived, e.MessageDTO)
		}
	}
	unconfirmed := v.unconfirmedLocked()

	v.entries = confirmedEntries(history)
	sortConfirmed(v.entries)
	for _, m := range arrived {
		v.insertLocked(m)
	}
	v.entries = append(v.entries, unconfirmed...)
	v.overlayOutboxLocked()
	v.state = StateSynced
	v.saveCacheLocked()
	return nil
}

// Merge folds a polled batch into the view and returns how many entries were added.
// Messages not involving the open contact, and ids already shown, are skipped.
func (v *ConversationView) Merge(batch []v1.MessageDTO) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.contact == "" {
		return 0
	}

	added := 0
	for _, m := range batch {
		if m.SenderID != v.contact && m.RecipientID != v.contact {
			continue
		}
		if v.insertLocked(m) {
			added++
		}
	}
	if added > 0 {
		v.saveCacheLocked()
	}
	return added
}

// Send shows content optimistically and sends it to the open contact.
//
// On success the optimistic entry becomes the confirmed message. A transient
// failure queues the message in the outbox and returns it with StatusQueued and a
// nil error. A rejection marks the entry StatusFailed and returns the error.
func (v *ConversationView) Send(ctx context.Context, content string) (ViewEntry, error) {
	v.mu.Lock()
	if v.contact == "" {
		v.mu.Unlock()
		return ViewEntry{}, ErrNoContact
	}

	id := v.newID()
	now := v.now().UTC()
	entry := ViewEntry{
		MessageDTO: v1.MessageDTO{
			ID:             id,
			SenderID:       v.me.ID,
			SenderUsername: v.me.Username,
			RecipientID:    v.contact,
			Content:        content,
			SentAt:         now,
		},
		ClientMessageID: id,
		Status:          StatusPending,
	}
	v.entries = append(v.entries, entry)
	v.mu.Unlock()

	req := v1.SendMessageRequest{
		SenderID:        v.me.ID,
		RecipientID:     entry.RecipientID,
		Content:         content,
		ClientMessageID: id,
	}
	msg, err := v.api.Send(ctx, req)

	switch {
	case err == nil:
		v.Confirm(id, msg)
		return ViewEntry{MessageDTO: msg, ClientMessageID: id, Status: StatusConfirmed}, nil

	case IsTransient(err):
		if v.outbox == nil {
			v.setStatus(id, StatusFailed)
			entry.Status = StatusFailed
			return entry, err
		}
		qerr := v.outbox.Enqueue(PendingEntry{
			ClientMessageID: id,
			SenderID:        req.SenderID,
			RecipientID:     req.RecipientID,
			Content:         content,
			CreatedAt:       now,
			Attempts:        1,
			LastError:       err.Error(),
		})
		if qerr != nil {
			v.setStatus(id, StatusFailed)
			entry.Status = StatusFailed
			return entry, fmt.Errorf("client: queue send: %w", qerr)
		}
		v.log.Debug("messages.send.queued", "client_message_id", id, "err", err)
		v.setStatus(id, StatusQueued)
		entry.Status = StatusQueued
		return entry, nil

	default:
		v.setStatus(id, StatusFailed)
		entry.Status = StatusFailed
		return entry, err
	}
}

// Confirm replaces the unconfirmed entry for clientMessageID with the server's message.
// It is safe to call for entries the view no longer shows.
func (v *ConversationView) Confirm(clientMessageID string, msg v1.MessageDTO) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.removeUnconfirmedLocked(clientMessageID)
	if v.contact != "" && (msg.SenderID == v.contact || msg.RecipientID == v.contact) {
		v.insertLocked(msg)
	}
	v.saveCacheLocked()
}

// Fail marks the unconfirmed entry for clientMessageID as rejected.
func (v *ConversationView) Fail(clientMessageID string) {
	v.setStatus(clientMessageID, StatusFailed)
}

// Messages returns a copy of the current entries.
func (v *ConversationView) Messages() []ViewEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]ViewEntry(nil), v.entries...)
}

func (v *ConversationView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Contact returns the open contact id, or "" when idle.
func (v *ConversationView) Contact() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.contact
}

func (v *ConversationView) setStatus(clientMessageID string, st EntryStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.entries {
		if v.entries[i].Status != StatusConfirmed && v.entries[i].ClientMessageID == clientMessageID {
			v.entries[i].Status = st
		}
	}
}

// insertLocked adds a confirmed message in (sentAt, id) order ahead of unconfirmed entries.
func (v *ConversationView) insertLocked(m v1.MessageDTO) bool {
	confirmed := 0
	for _, e := range v.entries {
		if e.Status != StatusConfirmed {
			break
		}
		if e.ID == m.ID {
			return false
		}
		confirmed++
	}

	i := sort.Search(confirmed, func(i int) bool { return !lessMessage(v.entries[i].MessageDTO, m) })
	v.entries = append(v.entries, ViewEntry{})
	copy(v.entries[i+1:], v.entries[i:])
	v.entries[i] = ViewEntry{MessageDTO: m, Status: StatusConfirmed}
	return true
}

func (v *ConversationView) removeUnconfirmedLocked(clientMessageID string) {
	out := v.entries[:0]
	for _, e := range v.entries {
		if e.Status != StatusConfirmed && e.ClientMessageID == clientMessageID {
			continue
		}
		out = append(out, e)
	}
	v.entries = out
}

func (v *ConversationView) unconfirmedLocked() []ViewEntry {
	var out []ViewEntry
	for _, e := range v.entries {
		// Queued entries come back through the outbox overlay.
		if e.Status != StatusConfirmed && e.Status != StatusQueued && e.RecipientID == v.contact {
			out = append(out, e)
		}
	}
	return out
}

func (v *ConversationView) overlayOutboxLocked() {
	if v.outbox == nil {
		return
	}
	queued, err := v.outbox.Entries()
	if err != nil {
		v.log.Warn("outbox.read.fail", "err", err)
		return
	}

	shown := make(map[string]bool, len(v.entries))
	for _, e := range v.entries {
		if e.ClientMessageID != "" {
			shown[e.ClientMessageID] = true
		}
	}
	for _, q := range queued {
		if q.RecipientID != v.contact || shown[q.ClientMessageID] {
			continue
		}
		v.entries = append(v.entries, ViewEntry{
			MessageDTO: v1.MessageDTO{
				ID:             q.ClientMessageID,
				SenderID:       q.SenderID,
				SenderUsername: v.me.Username,
				RecipientID:    q.RecipientID,
				Content:        q.Content,
				SentAt:         q.CreatedAt,
			},
			ClientMessageID: q.ClientMessageID,
			Status:          StatusQueued,
		})
	}
}

func (v *ConversationView) saveCacheLocked() {
	if v.cache == nil || v.contact == "" {
		return
	}
	msgs := make([]v1.MessageDTO, 0, len(v.entries))
	for _, e := range v.entries {
		if e.Status == StatusConfirmed {
			msgs = append(msgs, e.MessageDTO)
		}
	}
	if err := v.cache.Save(v.contact, msgs); err != nil {
		v.log.Warn("cache.save.fail", "contact_id", v.contact, "err", err)
	}
}

func confirmedEntries(msgs []v1.MessageDTO) []ViewEntry {
	out := make([]ViewEntry, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, ViewEntry{MessageDTO: m, Status: StatusConfirmed})
	}
	return out
}

func sortConfirmed(entries []ViewEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return lessMessage(entries[i].MessageDTO, entries[j].MessageDTO)
	})
}

func lessMessage(a, b v1.MessageDTO) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	return a.ID < b.ID
}
