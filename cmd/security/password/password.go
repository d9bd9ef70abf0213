package password

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

var (
	ErrTooShort      = errors.New("password: too short")
	ErrTooLong       = errors.New("password: too long")
	ErrMalformedHash = errors.New("password: malformed hash")
)

// Params is the Argon2id cost. Memory is in KiB.
type Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// Hasher applies the registration length rule and hashes with Params.
type Hasher struct {
	Params Params
	MinLen int
	MaxLen int
}

// Default is 19 MiB, two passes, at most four lanes, and a 6..256 character password.
func Default() Hasher {
	return Hasher{
		Params: Params{
			Memory:  19 * 1024,
			Time:    2,
			Threads: uint8(min(max(runtime.NumCPU(), 1), 4)), // #nosec G115 -- clamped to [1..4]
			SaltLen: 16,
			KeyLen:  32,
		},
		MinLen: 6,
		MaxLen: 256,
	}
}

// Check applies the length rule, counted in characters.
func (h Hasher) Check(plain string) error {
	switch n := utf8.RuneCountInString(plain); {
	case n < h.MinLen:
		return ErrTooShort
	case n > h.MaxLen:
		return ErrTooLong
	}
	return nil
}

// Hash checks plain and returns its PHC encoding under h.Params.
func (h Hasher) Hash(plain string) (string, error) {
	if err := h.Check(plain); err != nil {
		return "", err
	}

	salt := make([]byte, h.Params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}

	p := h.Params
	return phc{
		params: p,
		salt:   salt,
		key:    argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Threads, p.KeyLen),
	}.String(), nil
}

// Verify reports whether plain matches encoded. A malformed or oversized hash
// returns ErrMalformedHash; a mismatch is (false, nil).
func (h Hasher) Verify(encoded, plain string) (bool, error) {
	stored, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !h.affordable(stored.params) {
		return false, ErrMalformedHash
	}

	p := stored.params
	key := argon2.IDKey([]byte(plain), stored.salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(key, stored.key) == 1, nil
}

// NeedsRehash reports whether encoded was made with other Params. Malformed
// hashes need a rehash too, so the next successful login replaces them.
func (h Hasher) NeedsRehash(encoded string) bool {
	stored, err := parsePHC(encoded)
	return err != nil || stored.params != h.Params
}

// affordable accepts older, cheaper hashes and up to twice the configured cost.
func (h Hasher) affordable(p Params) bool {
	return p.Memory <= 2*h.Params.Memory &&
		p.Time <= 2*h.Params.Time &&
		uint32(p.Threads) <= 2*uint32(h.Params.Threads) &&
		p.SaltLen >= 8 && p.SaltLen <= 64 &&
		p.KeyLen >= 16 && p.KeyLen <= 128
}
