package app

import (
	"strings"
	"testing"
)

func TestValidateSecurityConfig_Defaults(t *testing.T) {
	t.Setenv("COMM_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("COMM_ARGON2_ITERATIONS", "1")

	if err := ValidateSecurityConfig(Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSecurityConfig_LongMinLength(t *testing.T) {
	t.Setenv("COMM_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("COMM_ARGON2_ITERATIONS", "1")
	t.Setenv("COMM_PASSWORD_MIN_LEN", "40")

	if err := ValidateSecurityConfig(Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSecurityConfig_RejectsBadEnv(t *testing.T) {
	t.Setenv("COMM_PASSWORD_MIN_LEN", "20")
	t.Setenv("COMM_PASSWORD_MAX_LEN", "10")

	err := ValidateSecurityConfig(Config{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.HasPrefix(err.Error(), "security policy:") {
		t.Fatalf("unexpected error: %v", err)
	}
}
