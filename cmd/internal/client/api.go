package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	v1 "communicator/shared/contracts/messaging/v1"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 64 << 10

// Sender delivers one message. Retries must reuse ClientMessageID.
type Sender interface {
	Send(ctx context.Context, req v1.SendMessageRequest) (v1.MessageDTO, error)
}

// Poller fetches messages to userID strictly after since.
type Poller interface {
	NewMessages(ctx context.Context, userID string, since time.Time) ([]v1.MessageDTO, error)
}

// HistoryFetcher fetches the full conversation between two users.
type HistoryFetcher interface {
	Conversation(ctx context.Context, userID, otherID string) ([]v1.MessageDTO, error)
}

// HTTPClient talks to the communicator HTTP API.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

// Option configures HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.hc.Timeout = d
		}
	}
}

// NewHTTPClient returns a client for the server at baseURL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		hc:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL returns the server URL without a trailing slash.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) Register(ctx context.Context, req v1.RegisterRequest) (v1.AuthResponse, error) {
	var out v1.AuthResponse
	err := c.do(ctx, http.MethodPost, v1.PathRegister, nil, req, &out)
	return out, err
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (v1.AuthResponse, error) {
	var out v1.AuthResponse
	err := c.do(ctx, http.MethodPost, v1.PathLogin, nil, v1.LoginRequest{Email: email, Password: password}, &out)
	return out, err
}

// Logout is stateless on the server; it exists so clients can report the event.
func (c *HTTPClient) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, v1.PathLogout, nil, nil, nil)
}

func (c *HTTPClient) Users(ctx context.Context) ([]v1.UserDTO, error) {
	var out []v1.UserDTO
	err := c.do(ctx, http.MethodGet, v1.PathUsers, nil, nil, &out)
	return out, err
}

func (c *HTTPClient) Send(ctx context.Context, req v1.SendMessageRequest) (v1.MessageDTO, error) {
	var out v1.MessageDTO
	err := c.do(ctx, http.MethodPost, v1.PathMessages, nil, req, &out)
	return out, err
}

func (c *HTTPClient) NewMessages(ctx context.Context, userID string, since time.Time) ([]v1.MessageDTO, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set(v1.QuerySince, v1.FormatSince(since))
	}
	var out []v1.MessageDTO
	err := c.do(ctx, http.MethodGet, v1.PathNewMessages+url.PathEscape(userID), q, nil, &out)
	return out, err
}

func (c *HTTPClient) Conversation(ctx context.Context, userID, otherID string) ([]v1.MessageDTO, error) {
	var out []v1.MessageDTO
	path := v1.PathConversation + url.PathEscape(userID) + "/" + url.PathEscape(otherID)
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

// Health calls GET /healthz. It is the connectivity signal for Syncer.WatchConnectivity.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, v1.PathHealth, nil, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("communicator: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("communicator: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("communicator: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("communicator: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{Status: resp.StatusCode}

	var env v1.ErrorResponse
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	if s := strings.TrimSpace(resp.Header.Get("Retry-After")); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
