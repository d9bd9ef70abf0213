package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"communicator/cmd/identity"
	authapi "communicator/cmd/internal/auth/api"
	"communicator/cmd/internal/messaging"
	v1 "communicator/shared/contracts/messaging/v1"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer serves the real message and user handlers over in-memory storage.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	// Cheap argon2 parameters keep registration fast.
	t.Setenv("COMM_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("COMM_ARGON2_ITERATIONS", "1")

	log := discardLogger()
	dir := identity.NewInMemoryDirectory()
	store := messaging.NewInMemoryStore()

	svc, err := messaging.NewService(store, dir, messaging.WithLogger(log))
	require.NoError(t, err)

	auth, err := authapi.NewHandler(log, dir, authapi.DefaultConfig())
	require.NoError(t, err)

	mux := http.NewServeMux()
	messaging.NewHandler(log, svc, 0).Register(mux)
	auth.Register(mux)
	mux.HandleFunc("GET "+v1.PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func mustRegister(t *testing.T, c *HTTPClient, name string) Identity {
	t.Helper()

	res, err := c.Register(context.Background(), v1.RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "secret-" + name,
	})
	require.NoError(t, err)
	return Identity{ID: res.UserID, Username: res.Username}
}

// fakeAPI is a scriptable ConversationAPI + Poller that records calls in order.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string
	sends []v1.SendMessageRequest
	polls []time.Time

	sendFn func(v1.SendMessageRequest) (v1.MessageDTO, error)
	newFn  func(since time.Time) ([]v1.MessageDTO, error)
	convFn func(ctx context.Context, otherID string) ([]v1.MessageDTO, error)
}

func (f *fakeAPI) Send(_ context.Context, req v1.SendMessageRequest) (v1.MessageDTO, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "send:"+req.ClientMessageID)
	f.sends = append(f.sends, req)
	fn := f.sendFn
	f.mu.Unlock()

	if fn == nil {
		return v1.MessageDTO{ID: "srv-" + req.ClientMessageID, SenderID: req.SenderID, RecipientID: req.RecipientID, Content: req.Content}, nil
	}
	return fn(req)
}

func (f *fakeAPI) NewMessages(_ context.Context, _ string, since time.Time) ([]v1.MessageDTO, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "poll")
	f.polls = append(f.polls, since)
	fn := f.newFn
	f.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(since)
}

func (f *fakeAPI) Conversation(ctx context.Context, _ string, otherID string) ([]v1.MessageDTO, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "history:"+otherID)
	fn := f.convFn
	f.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(ctx, otherID)
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var (
	errUnavailable = &APIError{Status: http.StatusServiceUnavailable, Code: v1.CodeInternal, Message: "down"}
	errEmpty       = &APIError{Status: http.StatusBadRequest, Code: v1.CodeEmptyContent, Message: "Content cannot be empty"}
	errNetwork     = &url.Error{Op: "Post", URL: "http://127.0.0.1:1/messages", Err: errors.New("connect: connection refused")}
)

func msgAt(id, from, to string, at time.Time) v1.MessageDTO {
	return v1.MessageDTO{ID: id, SenderID: from, RecipientID: to, Content: "m-" + id, SentAt: at}
}
