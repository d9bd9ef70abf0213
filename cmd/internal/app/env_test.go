package app

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvList(t *testing.T) {
	def := []string{"http://localhost:5173"}

	t.Setenv("COMM_TEST_LIST", " https://a.example.com , ,http://127.0.0.1:* ")
	got := EnvList("COMM_TEST_LIST", def)
	want := []string{"https://a.example.com", "http://127.0.0.1:*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EnvList=%v want=%v", got, want)
	}

	t.Setenv("COMM_TEST_LIST", " , ")
	if got := EnvList("COMM_TEST_LIST", def); !reflect.DeepEqual(got, def) {
		t.Fatalf("EnvList(blank)=%v want=%v", got, def)
	}
}

func TestEnvDurationOrZero(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "", want: time.Hour},
		{raw: "0", want: 0},
		{raw: "30m", want: 30 * time.Minute},
		{raw: "-5m", want: time.Hour},
		{raw: "soon", want: time.Hour},
	}

	for _, tc := range cases {
		t.Setenv("COMM_TEST_TTL", tc.raw)
		if got := EnvDurationOrZero("COMM_TEST_TTL", time.Hour); got != tc.want {
			t.Fatalf("EnvDurationOrZero(%q)=%v want=%v", tc.raw, got, tc.want)
		}
	}

	// EnvDuration keeps rejecting zero.
	t.Setenv("COMM_TEST_TTL", "0")
	if got := EnvDuration("COMM_TEST_TTL", time.Hour); got != time.Hour {
		t.Fatalf("EnvDuration(0)=%v want=1h", got)
	}
}

func TestEnvFloat(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{raw: "", want: 5},
		{raw: "2.5", want: 2.5},
		{raw: "-1", want: 0},
		{raw: "fast", want: 5},
	}

	for _, tc := range cases {
		t.Setenv("COMM_TEST_RATE", tc.raw)
		if got := EnvFloat("COMM_TEST_RATE", 5); got != tc.want {
			t.Fatalf("EnvFloat(%q)=%v want=%v", tc.raw, got, tc.want)
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"COMM_IDEMPOTENCY_TTL", "COMM_CORS_ALLOWED_ORIGINS", "COMM_DB_SCHEMA", "COMM_SEND_BURST"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.IdempotencyTTL != 7*24*time.Hour {
		t.Fatalf("ttl=%v want=168h", cfg.IdempotencyTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:5173" {
		t.Fatalf("origins=%v", cfg.CORSAllowedOrigins)
	}
	if cfg.DBSchema != "communicator" || cfg.SendBurst != 50 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}
