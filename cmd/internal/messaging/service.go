package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"communicator/cmd/identity"
)

// UnknownUsername is shown for a sender that is no longer in the directory.
const UnknownUsername = "Unknown"

// UserLookup resolves user ids. identity.Directory satisfies it.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (identity.User, error)
}

// MessageView is a stored message enriched for presentation.
type MessageView struct {
	Message
	SenderUsername string
}

// SendInput is a send request after decoding.
type SendInput struct {
	SenderID        string
	RecipientID     string
	Content         string
	ClientMessageID string
}

// SendResult is the outcome of Send. Duplicated is true when the request was a retry.
type SendResult struct {
	View       MessageView
	Duplicated bool
}

// Service validates requests against the user directory and runs them on the store.
type Service struct {
	log     *slog.Logger
	store   MessageStore
	users   UserLookup
	metrics *Metrics
	limiter *SenderLimiter
	now     func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records send and poll counters on m.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLimiter enforces a per-sender send rate.
func WithLimiter(l *SenderLimiter) ServiceOption {
	return func(s *Service) { s.limiter = l }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. store and users are required.
func NewService(store MessageStore, users UserLookup, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("messaging: nil store")
	}
	if users == nil {
		return nil, fmt.Errorf("messaging: nil user lookup")
	}

	s := &Service{
		log:   slog.Default(),
		store: store,
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send validates and stores a message. Retrying with the same ClientMessageID returns
// the original message unchanged.
func (s *Service) Send(ctx context.Context, in SendInput) (SendResult, error) {
	const op = "messaging.Send"

	if strings.TrimSpace(in.Content) == "" {
		s.metrics.reject("empty_content")
		return SendResult{}, fmt.Errorf("%w: %w", ErrEmptyContent, identity.Invalid(op, "Content cannot be empty"))
	}
	if utf8.RuneCountInString(in.Content) > maxContentChars {
		s.metrics.reject("content_too_long")
		return SendResult{}, identity.Invalid(op, fmt.Sprintf("Content must be at most %d characters", maxContentChars))
	}

	clientID := strings.TrimSpace(in.ClientMessageID)
	if clientID == "" || len(clientID) > maxClientMessageIDLen {
		s.metrics.reject("client_message_id")
		return SendResult{}, identity.Invalid(op, fmt.Sprintf("clientMessageId is required (max %d characters)", maxClientMessageIDLen))
	}

	sender, err := s.requireUser(ctx, op, in.SenderID, "sender")
	if err != nil {
		return SendResult{}, err
	}
	if _, err := s.requireUser(ctx, op, in.RecipientID, "recipient"); err != nil {
		return SendResult{}, err
	}

	now := s.now()

	// A retry of a retained send is answered without spending the sender's budget.
	if prev, found, err := s.store.Lookup(ctx, sender.ID, clientID, now); err != nil {
		return SendResult{}, err
	} else if found {
		s.metrics.stored(true)
		s.log.Debug("messages.send.duplicate",
			"sender_id", sender.ID,
			"client_message_id", clientID,
			"message_id", prev.ID,
		)
		return SendResult{
			View:       MessageView{Message: prev, SenderUsername: sender.Username},
			Duplicated: true,
		}, nil
	}

	if ok, retry := s.limiter.Allow(sender.ID, now); !ok {
		s.metrics.reject("rate_limited")
		return SendResult{}, RateLimitError{SenderID: sender.ID, RetryAfter: retry}
	}

	start := time.Now()
	res, err := s.store.Store(ctx, StoreInput{
		SenderID:        sender.ID,
		RecipientID:     strings.TrimSpace(in.RecipientID),
		Content:         in.Content,
		ClientMessageID: clientID,
		Now:             now,
	})
	s.metrics.observeStore("store", start)
	if err != nil {
		return SendResult{}, err
	}
	s.metrics.stored(res.Duplicated)

	if res.Duplicated {
		s.log.Debug("messages.send.duplicate",
			"sender_id", sender.ID,
			"client_message_id", clientID,
			"message_id", res.Message.ID,
		)
	}

	return SendResult{
		View:       MessageView{Message: res.Message, SenderUsername: sender.Username},
		Duplicated: res.Duplicated,
	}, nil
}

// Conversation returns the full history between userID and otherID, oldest first.
func (s *Service) Conversation(ctx context.Context, userID, otherID string) ([]MessageView, error) {
	const op = "messaging.Conversation"

	if _, err := s.requireUser(ctx, op, userID, "user"); err != nil {
		return nil, err
	}
	if _, err := s.requireUser(ctx, op, otherID, "other user"); err != nil {
		return nil, err
	}

	start := time.Now()
	msgs, err := s.store.GetConversation(ctx, strings.TrimSpace(userID), strings.TrimSpace(otherID))
	s.metrics.observeStore("conversation", start)
	if err != nil {
		return nil, err
	}
	s.metrics.conversation()

	return s.views(ctx, msgs), nil
}

// NewSince returns messages addressed to userID with sentAt strictly after since.
func (s *Service) NewSince(ctx context.Context, userID string, since time.Time) ([]MessageView, error) {
	const op = "messaging.NewSince"

	if _, err := s.requireUser(ctx, op, userID, "user"); err != nil {
		return nil, err
	}

	start := time.Now()
	msgs, err := s.store.GetNewMessages(ctx, strings.TrimSpace(userID), since)
	s.metrics.observeStore("new_messages", start)
	if err != nil {
		return nil, err
	}
	s.metrics.poll(len(msgs))

	return s.views(ctx, msgs), nil
}

func (s *Service) requireUser(ctx context.Context, op, id, resource string) (identity.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return identity.User{}, identity.NotFoundError{Op: op, Resource: resource}
	}
	u, err := s.users.GetUser(ctx, id)
	if identity.IsNotFound(err) {
		return identity.User{}, identity.NotFoundError{Op: op, Resource: resource}
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

// views resolves sender usernames, looking each sender up once per batch.
func (s *Service) views(ctx context.Context, msgs []Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	names := make(map[string]string)

	for _, m := range msgs {
		name, ok := names[m.SenderID]
		if !ok {
			name = UnknownUsername
			if u, err := s.users.GetUser(ctx, m.SenderID); err == nil {
				name = u.Username
			} else if !identity.IsNotFound(err) {
				s.log.Warn("messages.sender_lookup.fail", "sender_id", m.SenderID, "err", err)
			}
			names[m.SenderID] = name
		}
		out = append(out, MessageView{Message: m, SenderUsername: name})
	}
	return out
}
