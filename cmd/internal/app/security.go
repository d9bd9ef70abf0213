package app

import (
	"errors"
	"fmt"
	"strings"

	"communicator/cmd/security/password"
)

// ValidateSecurityConfig fails the boot on a malformed COMM_PASSWORD_* or
// COMM_ARGON2_* value, then hashes and verifies a sample password with it.
func ValidateSecurityConfig(_ Config) error {
	h, err := password.FromEnv()
	if err != nil {
		return fmt.Errorf("security policy: %w", err)
	}

	sample := strings.Repeat("k", h.MinLen)
	enc, err := h.Hash(sample)
	if err != nil {
		return fmt.Errorf("security policy: password hashing unusable: %w", err)
	}
	ok, err := h.Verify(enc, sample)
	if err != nil {
		return fmt.Errorf("security policy: password verify unusable: %w", err)
	}
	if !ok {
		return errors.New("security policy: password hash round trip failed")
	}
	return nil
}
