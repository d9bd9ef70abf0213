package password

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FromEnv returns Default overridden by:
//
//	COMM_PASSWORD_MIN_LEN, COMM_PASSWORD_MAX_LEN
//	COMM_ARGON2_MEMORY_KIB, COMM_ARGON2_ITERATIONS, COMM_ARGON2_PARALLELISM
//	COMM_ARGON2_SALT_LEN, COMM_ARGON2_KEY_LEN
//
// Every malformed or out-of-range value is reported.
func FromEnv() (Hasher, error) {
	h := Default()

	err := errors.Join(
		envUint("COMM_PASSWORD_MIN_LEN", &h.MinLen, 1, 1024),
		envUint("COMM_PASSWORD_MAX_LEN", &h.MaxLen, 1, 4096),
		envUint("COMM_ARGON2_MEMORY_KIB", &h.Params.Memory, 8*1024, 1024*1024),
		envUint("COMM_ARGON2_ITERATIONS", &h.Params.Time, 1, 20),
		envUint("COMM_ARGON2_PARALLELISM", &h.Params.Threads, 1, 64),
		envUint("COMM_ARGON2_SALT_LEN", &h.Params.SaltLen, 8, 64),
		envUint("COMM_ARGON2_KEY_LEN", &h.Params.KeyLen, 16, 64),
	)
	if err != nil {
		return Hasher{}, err
	}
	if h.MinLen > h.MaxLen {
		return Hasher{}, fmt.Errorf("COMM_PASSWORD_MIN_LEN %d exceeds COMM_PASSWORD_MAX_LEN %d", h.MinLen, h.MaxLen)
	}
	return h, nil
}

// envUint sets *dst from key when present. lo and hi are inclusive.
func envUint[T ~int | ~uint8 | ~uint32](key string, dst *T, lo, hi uint64) error {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not an unsigned integer", key, raw)
	}
	if n < lo || n > hi {
		return fmt.Errorf("%s: %d out of range [%d..%d]", key, n, lo, hi)
	}
	*dst = T(n)
	return nil
}
