// Package main provides a CI-friendly smoke test for the communicator sync API.
//
// It validates, against a running server:
//   - register of two fresh users
//   - send -> stored message with a server id
//   - recipient poll returns the message exactly once
//   - poll past the message's sentAt is empty
//   - retry with the same clientMessageId returns the same message
//   - conversation history holds a single copy
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "communicator/shared/contracts/messaging/v1"
)

type smokeClient struct {
	base string
	hc   *http.Client
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "server base URL")
		text    = flag.String("text", "hello communicator 👋", "message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	c := &smokeClient{base: strings.TrimRight(*baseURL, "/"), hc: &http.Client{Timeout: *timeout}}
	root := context.Background()

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	a := mustRegister(root, c, "smoke-a-"+suffix)
	b := mustRegister(root, c, "smoke-b-"+suffix)
	if *verbose {
		fmt.Printf("registered: A=%s B=%s\n", a.UserID, b.UserID)
	}

	clientMsgID := "cmsg-" + suffix
	req := v1.SendMessageRequest{SenderID: a.UserID, RecipientID: b.UserID, Content: *text, ClientMessageID: clientMsgID}

	var sent v1.MessageDTO
	mustDo(root, c, http.MethodPost, v1.PathMessages, nil, req, http.StatusOK, &sent)
	if sent.ID == "" || sent.Content != *text || sent.SenderUsername != a.Username {
		fatalf("send: unexpected message %+v", sent)
	}

	since := time.Now().Add(-time.Minute)
	got := mustPoll(root, c, b.UserID, since)
	if n := countID(got, sent.ID); n != 1 {
		fatalf("poll: want message %s once, got %d in %d messages", sent.ID, n, len(got))
	}

	after := mustPoll(root, c, b.UserID, sent.SentAt)
	if len(after) != 0 {
		fatalf("poll after sentAt: want empty, got %d messages", len(after))
	}

	var again v1.MessageDTO
	mustDo(root, c, http.MethodPost, v1.PathMessages, nil, req, http.StatusOK, &again)
	if again.ID != sent.ID || !again.SentAt.Equal(sent.SentAt) {
		fatalf("dedupe: retry returned %s@%s, first was %s@%s", again.ID, again.SentAt, sent.ID, sent.SentAt)
	}

	var history []v1.MessageDTO
	mustDo(root, c, http.MethodGet, v1.PathConversation+url.PathEscape(b.UserID)+"/"+url.PathEscape(a.UserID), nil, nil, http.StatusOK, &history)
	if n := countID(history, sent.ID); n != 1 || len(history) != 1 {
		fatalf("history: want exactly one message, got %d (%d copies of %s)", len(history), n, sent.ID)
	}

	fmt.Printf("OK: A=%s B=%s message_id=%s sent_at=%s\n", a.UserID, b.UserID, sent.ID, v1.FormatSince(sent.SentAt))
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustRegister(ctx context.Context, c *smokeClient, name string) v1.AuthResponse {
	var res v1.AuthResponse
	mustDo(ctx, c, http.MethodPost, v1.PathRegister, nil, v1.RegisterRequest{
		Username: name,
		Email:    name + "@smoke.test",
		Password: "smoke-password-1",
	}, http.StatusOK, &res)
	if res.UserID == "" {
		fatalf("register %s: empty user id", name)
	}
	return res
}

func mustPoll(ctx context.Context, c *smokeClient, userID string, since time.Time) []v1.MessageDTO {
	var out []v1.MessageDTO
	q := url.Values{v1.QuerySince: {v1.FormatSince(since)}}
	mustDo(ctx, c, http.MethodGet, v1.PathNewMessages+url.PathEscape(userID), q, nil, http.StatusOK, &out)
	return out
}

func mustDo(ctx context.Context, c *smokeClient, method, path string, query url.Values, in any, wantStatus int, out any) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			fatalf("%s %s: encode: %v", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func countID(msgs []v1.MessageDTO, id string) int {
	n := 0
	for _, m := range msgs {
		if m.ID == id {
			n++
		}
	}
	return n
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
