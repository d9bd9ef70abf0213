package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"communicator/cmd/identity/ids"
	"communicator/cmd/internal/client"
	v1 "communicator/shared/contracts/messaging/v1"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"
)

// requestTimeout bounds one-shot commands.
const requestTimeout = 10 * time.Second

const storeFile = "client.db"

// session is what a command needs: config, API client, and (lazily) local storage.
type session struct {
	cfg   *Config
	api   *client.HTTPClient
	log   *slog.Logger
	store client.Storage
}

func newSession(cmd *cobra.Command, requireLogin bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if requireLogin && cfg.Auth.UserID == "" {
		return nil, errors.New("not logged in. Run 'communicator-cli login' or 'register' first")
	}
	return &session{
		cfg: cfg,
		api: client.NewHTTPClient(cfg.baseURL(), client.WithTimeout(requestTimeout)),
		log: newLogger(cmd),
	}, nil
}

func (s *session) me() client.Identity {
	return client.Identity{ID: s.cfg.Auth.UserID, Username: s.cfg.Auth.Username}
}

// openStore opens the bbolt file under the data dir. bbolt locks the file, so a
// running 'watch' blocks other commands from the same data dir.
func (s *session) openStore() (client.Storage, error) {
	if s.store != nil {
		return s.store, nil
	}
	dir, err := s.cfg.dataDir()
	if err != nil {
		return nil, err
	}
	st, err := client.OpenBoltStorage(filepath.Join(dir, storeFile))
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("local store is busy (is 'watch' running?): %w", err)
	}
	if err != nil {
		return nil, err
	}
	s.store = st
	return st, nil
}

func (s *session) outbox(opts ...client.OutboxOption) (*client.Outbox, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	opts = append([]client.OutboxOption{client.WithOutboxLogger(s.log)}, opts...)
	return client.NewOutbox(st, s.cfg.Auth.UserID, opts...), nil
}

func (s *session) view(outbox *client.Outbox) (*client.ConversationView, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	cache := client.NewConversationCache(st, s.cfg.Auth.UserID, 0, s.log)
	return client.NewConversationView(s.api, s.me(), cache, outbox, client.WithViewLogger(s.log)), nil
}

func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// resolveContact maps a username or user id to a user id.
// Ids are accepted as-is so sends work while the server is unreachable.
func (s *session) resolveContact(ctx context.Context, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("contact is required")
	}
	if ids.Valid(arg) {
		return arg, nil
	}

	users, err := s.api.Users(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot resolve %q (use the user id while offline): %w", arg, err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, arg) {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("no user named %q", arg)
}

// newLogger writes CLI diagnostics to stderr. --verbose enables debug.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if v, err := cmd.Flags().GetBool("verbose"); err == nil && v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func printMessage(w io.Writer, me string, m v1.MessageDTO, suffix string) {
	from := valueOrDefault(m.SenderUsername, m.SenderID)
	if m.SenderID == me {
		from = "me"
	}
	fmt.Fprintf(w, "[%s] %s: %s%s\n", m.SentAt.Local().Format("2006-01-02 15:04:05"), from, m.Content, suffix)
}

func valueOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// describeError turns API errors into one-line user messages.
func describeError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return errors.New(valueOrDefault(apiErr.Message, apiErr.Error()))
	}
	return err
}
