package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	v1 "communicator/shared/contracts/messaging/v1"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestApp_InMemoryRoundTrip(t *testing.T) {
	t.Setenv("COMM_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("COMM_ARGON2_ITERATIONS", "1")

	cfg := Config{
		HTTPAddr:           "127.0.0.1:0",
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		SendRatePerSec:     100,
		SendBurst:          100,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	alice := registerUser(t, srv.URL, "alice")
	bob := registerUser(t, srv.URL, "bob")

	body, _ := json.Marshal(v1.SendMessageRequest{
		SenderID:        alice.UserID,
		RecipientID:     bob.UserID,
		Content:         "hi bob",
		ClientMessageID: "c-1",
	})
	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+v1.PathMessages, "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("send status=%d", resp.StatusCode)
		}
		if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("missing security headers: %q", got)
		}
	}

	resp, err := http.Get(srv.URL + v1.PathNewMessages + bob.UserID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	var msgs []v1.MessageDTO
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = resp.Body.Close()
	if len(msgs) != 1 || msgs[0].SenderUsername != "alice" {
		t.Fatalf("unexpected poll result: %+v", msgs)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	for _, want := range []string{"communicator_messages_stored_total 1", "communicator_messages_duplicate_total 1"} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("metrics missing %q:\n%s", want, raw)
		}
	}
}

func registerUser(t *testing.T, base, name string) v1.AuthResponse {
	t.Helper()

	body, _ := json.Marshal(v1.RegisterRequest{Username: name, Email: name + "@example.com", Password: "secret-" + name})
	resp, err := http.Post(base+v1.PathRegister, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s status=%d", name, resp.StatusCode)
	}

	var out v1.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	return out
}
