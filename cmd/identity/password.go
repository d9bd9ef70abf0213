package identity

import (
	"errors"
	"fmt"
	"sync"

	"communicator/cmd/security/password"
)

// HashPassword validates plain against the configured policy and returns a PHC Argon2id hash.
// Policy violations are reported as ErrInvalidInput with a client-presentable message.
func HashPassword(plain string) (string, error) {
	const op = "identity.HashPassword"

	h, err := password.FromEnv()
	if err != nil {
		// Invalid env is an operational error, never a silent fallback to defaults.
		return "", err
	}

	enc, err := h.Hash(plain)
	switch {
	case errors.Is(err, password.ErrTooShort):
		return "", Invalid(op, fmt.Sprintf("Password must be at least %d characters", h.MinLen))
	case errors.Is(err, password.ErrTooLong):
		return "", Invalid(op, fmt.Sprintf("Password must be at most %d characters", h.MaxLen))
	case err != nil:
		return "", err
	}
	return enc, nil
}

// VerifyPassword checks plain against a PHC Argon2id hash.
func VerifyPassword(plain, encoded string) (bool, error) {
	h, err := password.FromEnv()
	if err != nil {
		return false, err
	}
	return h.Verify(encoded, plain)
}

func passwordNeedsRehash(encoded string) bool {
	h, err := password.FromEnv()
	if err != nil {
		return false
	}
	return h.NeedsRehash(encoded)
}

var (
	dummyOnce sync.Once
	dummyEnc  string
)

// burnVerify spends one verification on a fixed hash so that unknown emails
// take as long to reject as wrong passwords.
func burnVerify(plain string) {
	dummyOnce.Do(func() {
		if h, err := password.FromEnv(); err == nil {
			dummyEnc, _ = h.Hash("dummy-password-for-timing-only")
		}
	})
	if dummyEnc != "" {
		_, _ = VerifyPassword(plain, dummyEnc)
	}
}
